package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Seller is the marketplace account that buys tiers. The payments subsystem
// only reads it, apart from API key metadata and the activation row lock.
type Seller struct {
	ID                         uint       `gorm:"primaryKey" json:"id"`
	Fullname                   string     `gorm:"type:varchar(150)" json:"fullname"`
	Email                      string     `gorm:"type:varchar(200);uniqueIndex" json:"email"`
	PhoneNumber                string     `gorm:"type:varchar(20);index" json:"phone_number"`
	BusinessRegistrationNumber string     `gorm:"type:varchar(100);index" json:"business_registration_number"`
	APIKeyHash                 string     `gorm:"type:char(64);default:'';index" json:"-"`
	APIKeyPrefix               string     `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt            *time.Time `json:"api_key_created_at"`
	APIKeyLastUsedAt           *time.Time `json:"api_key_last_used_at"`
	APIKeyRevokedAt            *time.Time `json:"api_key_revoked_at"`
	Deleted                    bool       `gorm:"default:false;index" json:"-"`
	CreatedAt                  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const apiKeyPrefix = "tp_"

// HasActiveAPIKey reports whether the seller has an active API key configured
func (s *Seller) HasActiveAPIKey() bool {
	return s != nil && s.APIKeyHash != "" && s.APIKeyRevokedAt == nil
}

// IssueAPIKey generates a new API key, stores its hash on the struct and returns the raw secret.
// Callers must persist the struct after invoking this method.
func (s *Seller) IssueAPIKey() (string, error) {
	rawKey, prefix, hash, err := generateAPIKeyMaterial()
	if err != nil {
		return "", err
	}
	now := time.Now()
	s.APIKeyHash = hash
	s.APIKeyPrefix = prefix
	s.APIKeyCreatedAt = &now
	s.APIKeyRevokedAt = nil
	s.APIKeyLastUsedAt = nil
	return rawKey, nil
}

// RevokeAPIKey clears the stored API key metadata without deleting the seller.
func (s *Seller) RevokeAPIKey() {
	s.APIKeyHash = ""
	s.APIKeyPrefix = ""
	now := time.Now()
	s.APIKeyRevokedAt = &now
	s.APIKeyLastUsedAt = nil
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func generateAPIKeyMaterial() (string, string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	encoded := strings.ToLower(apiKeyEncoding.EncodeToString(b))
	rawKey := apiKeyPrefix + encoded
	if len(rawKey) < 12 {
		return "", "", "", fmt.Errorf("api key generation failed: key too short")
	}
	prefix := rawKey[:min(len(rawKey), 16)]
	return rawKey, prefix, HashAPIKey(rawKey), nil
}
