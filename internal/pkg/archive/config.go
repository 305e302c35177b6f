package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/carboncube/tierpay/internal/pkg/env"
)

// Config holds the object storage settings for gateway event archives
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("ARCHIVE_S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("ARCHIVE_S3_BUCKET", ""),
		EndpointURL:     env.GetEnv("ARCHIVE_S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("ARCHIVE_S3_PREFIX", "gateway-events"),
		Enabled:         env.GetEnv("ARCHIVE_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("ARCHIVE_S3_ACCESS_KEY_ID is required when archiving is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("ARCHIVE_S3_SECRET_ACCESS_KEY is required when archiving is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("ARCHIVE_S3_BUCKET is required when archiving is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if archiving is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey builds the object key for a gateway event.
// Format: <prefix>/YYYY/MM/DD/<kind>/<id>.json
func (c *Config) ObjectKey(kind string, eventID uint, receivedAt time.Time) string {
	receivedAt = receivedAt.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s/%d.json",
		c.Prefix, receivedAt.Year(), receivedAt.Month(), receivedAt.Day(), kind, eventID)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
