package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadForTestsDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL":              "postgres://localhost/brennholz",
		"REDIS_URL":                 "redis://localhost:6379/0",
		"CONFIRMATION_TOKEN_SECRET": "secret",
		"CHECKOUT_RESERVE_STOCK":    "",
		"QUEUE_CONCURRENCY":         "",
		"PORT":                      "",
		"HTTP_MAX_BODY_BYTES":       "",
		"CHECKOUT_SUBMIT_RATE":      "",
	})
	require.NoError(t, err)
	require.Equal(t, int64(64<<10), cfg.MaxBodyBytes)
	require.Equal(t, "10-M", cfg.CheckoutSubmitRate)
	require.True(t, cfg.CheckoutReserveStock)
	require.Equal(t, 4, cfg.QueueConcurrency)
	require.Equal(t, 15*time.Second, cfg.CheckoutLockTTL)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadForTestsOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL":              "postgres://localhost/brennholz",
		"REDIS_URL":                 "redis://localhost:6379/0",
		"CONFIRMATION_TOKEN_SECRET": "secret",
		"CHECKOUT_RESERVE_STOCK":    "false",
		"CORS_ALLOWED_ORIGINS":      "https://shop.example, https://admin.example ,",
		"SETTINGS_CACHE_TTL":        "not-a-duration",
		"HTTP_MAX_BODY_BYTES":       "1024",
		"CONFIRMATION_PAGE_URL":     "https://shop.example/bestellung",
	})
	require.NoError(t, err)
	require.False(t, cfg.CheckoutReserveStock)
	require.Equal(t, []string{"https://shop.example", "https://admin.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, time.Minute, cfg.SettingsCacheTTL)
	require.Equal(t, int64(1024), cfg.MaxBodyBytes)
	require.Equal(t, "https://shop.example/bestellung", cfg.ConfirmationPageURL)
}

func TestLoadRequiresTokenSecret(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"DATABASE_URL":              "postgres://localhost/brennholz",
		"REDIS_URL":                 "redis://localhost:6379/0",
		"CONFIRMATION_TOKEN_SECRET": "",
	})
	require.EqualError(t, err, "CONFIRMATION_TOKEN_SECRET is required")
}
