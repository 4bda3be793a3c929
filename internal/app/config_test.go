package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.RedisURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	// Explicit values win.
	cfg = Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{DatabaseURL: "postgres://db", Auth: AuthConfig{JWTSecret: "s3cret"}}
	}

	cfg := valid()
	require.NoError(t, cfg.validate())

	cfg = valid()
	cfg.DatabaseURL = ""
	assert.ErrorContains(t, cfg.validate(), "database URL")

	cfg = valid()
	cfg.Auth.JWTSecret = ""
	assert.ErrorContains(t, cfg.validate(), "JWT secret")

	cfg = valid()
	cfg.Stripe.SecretKey = "sk_test"
	assert.ErrorContains(t, cfg.validate(), "webhook secret")
	cfg.Stripe.WebhookSecret = "whsec"
	assert.NoError(t, cfg.validate())
}
