package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("FRONTEND_URL", "https://give.example.org/")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
	assert.Equal(t, "https://api.chapa.co/v1", cfg.Chapa.BaseURL)
	assert.Equal(t, "https://give.example.org", cfg.Frontend.URL)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.StaleAfter)
	assert.True(t, cfg.Reconcile.SweepEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RECONCILE_SWEEP_ENABLED", "off")
	t.Setenv("RECONCILE_SWEEP_INTERVAL", "90s")
	t.Setenv("RECONCILE_SWEEP_BATCH", "25")
	t.Setenv("STRIPE_TIMEOUT", "not-a-duration")

	cfg := Load()

	assert.False(t, cfg.Reconcile.SweepEnabled)
	assert.Equal(t, 90*time.Second, cfg.Reconcile.SweepInterval)
	assert.Equal(t, 25, cfg.Reconcile.SweepBatchSize)
	assert.Equal(t, 15*time.Second, cfg.Stripe.Timeout)
}

func TestValidateCore_ReportsMissing(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: "8080"},
		Redis:  RedisConfig{URL: "localhost:6379"},
		JWT:    JWTConfig{Secret: "change-this-secret"},
	}

	err := cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	assert.Contains(t, err.Error(), "CHAPA_SECRET_KEY")
}

func TestValidateCore_OK(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{URL: "postgres://localhost/fundly"},
		Redis:    RedisConfig{URL: "localhost:6379"},
		JWT:      JWTConfig{Secret: "s3cret"},
		Stripe:   StripeConfig{SecretKey: "sk_test_x"},
		Chapa:    ChapaConfig{SecretKey: "CHASECK_TEST-x", WebhookSecret: "whsec"},
	}

	assert.NoError(t, cfg.ValidateCore())
	assert.Equal(t, []string{"STRIPE_WEBHOOK_SECRET"}, cfg.UnsignedWebhooks())
}
