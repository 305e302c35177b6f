package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenPrefix = "mpesa_token:"

// TokenStore keeps gateway access tokens in redis so every instance reuses
// the same token until it expires.
type TokenStore struct {
	client *redis.Client
}

func NewTokenStore(c *redis.Client) *TokenStore {
	return &TokenStore{client: c}
}

// GetToken returns an empty string when no token is cached.
func (s *TokenStore) GetToken(ctx context.Context, key string) (string, error) {
	token, err := s.client.Get(ctx, tokenPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

func (s *TokenStore) SetToken(ctx context.Context, key, token string, ttl time.Duration) error {
	return s.client.Set(ctx, tokenPrefix+key, token, ttl).Err()
}
