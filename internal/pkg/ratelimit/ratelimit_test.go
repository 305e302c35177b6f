package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	os.Unsetenv("API_RATE_LIMIT")
	os.Unsetenv("API_RATE_WINDOW_SECONDS")
	assert.Equal(t, Config{Max: 60, Expiration: time.Minute}, ConfigFromEnv())

	t.Setenv("API_RATE_LIMIT", "5")
	t.Setenv("API_RATE_WINDOW_SECONDS", "30")
	assert.Equal(t, Config{Max: 5, Expiration: 30 * time.Second}, ConfigFromEnv())

	t.Setenv("API_RATE_LIMIT", "-1")
	assert.Equal(t, 60, ConfigFromEnv().Max)
}

func TestLimiterBucketsByAPIKey(t *testing.T) {
	app := fiber.New()
	app.Use(New(Config{Max: 2, Expiration: time.Minute}, nil))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	call := func(header, value string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, call("X-API-Key", "tp_alice"))
	assert.Equal(t, http.StatusOK, call("Authorization", "Bearer tp_alice"))
	assert.Equal(t, http.StatusTooManyRequests, call("X-API-Key", "tp_alice"))

	assert.Equal(t, http.StatusOK, call("X-API-Key", "tp_bob"))
	assert.Equal(t, http.StatusOK, call("", ""))
}

func TestKeyForHidesSecret(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(KeyFor(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "tp_supersecret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	key := string(buf[:n])
	assert.Contains(t, key, "key:")
	assert.NotContains(t, key, "supersecret")
	assert.Len(t, key, len("key:")+16)
}
