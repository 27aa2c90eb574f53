package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, "", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
	assert.Equal(t, 10, cfg.AuthRateLimit)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"FLOCK_ADDR=:7000\nFLOCK_DB_PATH=dotenv.db\nFLOCK_LOG_LEVEL=debug\nFLOCK_TOKEN_TTL=2h\n",
	), 0o600))

	cfg, err := Load(
		[]string{"-log-level", "error"},
		envFile,
		envMap(map[string]string{
			"FLOCK_DB_PATH":         "env.db",
			"FLOCK_LOG_LEVEL":       "warn",
			"FLOCK_ALLOWED_ORIGINS": "https://a.example, https://b.example,",
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr, ".env overrides default")
	assert.Equal(t, "env.db", cfg.DatabasePath, "environment overrides .env")
	assert.Equal(t, "error", cfg.LogLevel, "flag overrides environment")
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "nope.env"), envMap(nil))
	require.NoError(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(nil, "", envMap(map[string]string{"FLOCK_TOKEN_TTL": "forever"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOCK_TOKEN_TTL")
}

func TestLoadOptionalServices(t *testing.T) {
	cfg, err := Load(nil, "", envMap(map[string]string{
		"FLOCK_VAPID_PUBLIC_KEY":  "pub",
		"FLOCK_VAPID_PRIVATE_KEY": "priv",
		"FLOCK_BACKUP_BUCKET":     "church-backups",
		"FLOCK_BACKUP_SCHEDULE":   "30 2 * * 0",
		"FLOCK_BACKUP_KEEP":       "30",
		"FLOCK_STRIPE_SECRET_KEY": "sk_test_123",
	}))
	require.NoError(t, err)

	assert.Equal(t, "pub", cfg.VAPIDPublicKey)
	assert.Equal(t, "church-backups", cfg.BackupBucket)
	assert.Equal(t, "30 2 * * 0", cfg.BackupSchedule)
	assert.Equal(t, 30, cfg.BackupKeep)
	assert.Equal(t, "sk_test_123", cfg.StripeSecretKey)
	assert.Equal(t, "usd", cfg.StripeCurrency)
}

func TestValidate(t *testing.T) {
	longSecret := "0123456789abcdef0123456789abcdef"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"development without secret", func(c *Config) {}, ""},
		{"production ok", func(c *Config) {
			c.Environment = EnvProduction
			c.JWTSecret = longSecret
			c.PostmarkToken = "pm"
		}, ""},
		{"production missing secret", func(c *Config) {
			c.Environment = EnvProduction
			c.PostmarkToken = "pm"
		}, "FLOCK_JWT_SECRET is required"},
		{"production short secret", func(c *Config) {
			c.Environment = EnvProduction
			c.JWTSecret = "short"
			c.PostmarkToken = "pm"
		}, "at least 32 bytes"},
		{"production without mail", func(c *Config) {
			c.Environment = EnvProduction
			c.JWTSecret = longSecret
		}, "FLOCK_POSTMARK_TOKEN"},
		{"unknown environment", func(c *Config) { c.Environment = "staging" }, "environment must be"},
		{"zero rate limit", func(c *Config) { c.AuthRateLimit = 0 }, "rate limit"},
		{"half a vapid pair", func(c *Config) { c.VAPIDPublicKey = "pub" }, "must be set together"},
		{"backup without passphrase", func(c *Config) { c.BackupBucket = "b" }, "FLOCK_BACKUP_PASSPHRASE"},
		{"backup ok", func(c *Config) {
			c.BackupBucket = "b"
			c.BackupPassphrase = "p"
		}, ""},
		{"bad backup schedule", func(c *Config) {
			c.BackupBucket = "b"
			c.BackupPassphrase = "p"
			c.BackupSchedule = "nightly"
		}, "FLOCK_BACKUP_SCHEDULE"},
		{"stripe without webhook secret", func(c *Config) { c.StripeSecretKey = "sk_test" }, "FLOCK_STRIPE_WEBHOOK_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
