package ratelimit

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/cache"
	"github.com/carboncube/tierpay/internal/pkg/env"
)

// Config controls the public API limiter.
type Config struct {
	Max        int
	Expiration time.Duration
}

// ConfigFromEnv reads API_RATE_LIMIT (requests) and API_RATE_WINDOW_SECONDS.
func ConfigFromEnv() Config {
	cfg := Config{Max: 60, Expiration: time.Minute}
	if v, err := strconv.Atoi(env.GetEnv("API_RATE_LIMIT", "")); err == nil && v > 0 {
		cfg.Max = v
	}
	if v, err := strconv.Atoi(env.GetEnv("API_RATE_WINDOW_SECONDS", "")); err == nil && v > 0 {
		cfg.Expiration = time.Duration(v) * time.Second
	}
	return cfg
}

// NewStorage shares limiter counters between instances through redis. It
// reuses the cache connection settings on a separate database.
func NewStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}
	database, err := strconv.Atoi(env.GetEnv("RATE_LIMIT_DB", "2"))
	if err != nil {
		database = 2
	}

	log.Infof("[RateLimit] Using redis %s:%d db %d for limiter storage", host, port, database)
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: database,
		Reset:    false,
	})
}

// KeyFor buckets requests by API key when one is sent, else by client IP.
// Only a hash of the key is used so raw secrets never reach the store.
func KeyFor(c *fiber.Ctx) string {
	key := strings.TrimSpace(c.Get("X-API-Key"))
	if key == "" {
		if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if key != "" {
		return "key:" + models.HashAPIKey(key)[:16]
	}
	return "ip:" + c.IP()
}

// New builds the limiter middleware. A nil storage keeps counters in memory.
func New(cfg Config, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Expiration,
		KeyGenerator: KeyFor,
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
		},
	})
}
