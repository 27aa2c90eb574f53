// Package config loads server settings from defaults, an optional .env
// file, FLOCK_* environment variables and command-line flags, in that order
// of increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	minSecretLen = 32
)

type Config struct {
	Addr          string
	DatabasePath  string
	MongoURI      string
	MongoDatabase string

	JWTSecret     string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	BcryptCost    int

	BaseURL        string
	PostmarkToken  string
	FromEmail      string
	AllowedOrigins []string

	LogLevel    string
	LogFormat   string
	Environment string

	AuthRateLimit  int
	AuthRateWindow time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	BackupBucket     string
	BackupEndpoint   string
	BackupRegion     string
	BackupAccessKey  string
	BackupSecretKey  string
	BackupPrefix     string
	BackupPassphrase string
	BackupSchedule   string
	BackupKeep       int

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string
}

func Defaults() Config {
	return Config{
		Addr:           ":8080",
		DatabasePath:   "flock.db",
		MongoDatabase:  "flock",
		TokenTTL:       24 * time.Hour,
		ResetTokenTTL:  time.Hour,
		BaseURL:        "http://localhost:8080",
		LogLevel:       "info",
		LogFormat:      "text",
		Environment:    EnvDevelopment,
		AuthRateLimit:  10,
		AuthRateWindow: time.Minute,
		BackupSchedule: "0 3 * * *",
		BackupKeep:     14,
		StripeCurrency: "usd",
	}
}

// Load builds a Config. envFile may be empty or missing. lookup reads the
// process environment; tests pass their own.
func Load(args []string, envFile string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := cfg.applyEnv(get); err != nil {
		return nil, err
	}
	if err := cfg.applyFlags(args); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnvironment loads from os.Args, ./.env (or FLOCK_ENV_FILE) and the process environment.
func FromEnvironment() (*Config, error) {
	envFile := ".env"
	if v, ok := os.LookupEnv("FLOCK_ENV_FILE"); ok {
		envFile = v
	}
	return Load(os.Args[1:], envFile, os.LookupEnv)
}

func (c *Config) applyEnv(get func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := get(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := get(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := get(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("FLOCK_ADDR", &c.Addr)
	str("FLOCK_DB_PATH", &c.DatabasePath)
	str("FLOCK_MONGO_URI", &c.MongoURI)
	str("FLOCK_MONGO_DATABASE", &c.MongoDatabase)
	str("FLOCK_JWT_SECRET", &c.JWTSecret)
	str("FLOCK_BASE_URL", &c.BaseURL)
	str("FLOCK_POSTMARK_TOKEN", &c.PostmarkToken)
	str("FLOCK_FROM_EMAIL", &c.FromEmail)
	str("FLOCK_LOG_LEVEL", &c.LogLevel)
	str("FLOCK_LOG_FORMAT", &c.LogFormat)
	str("FLOCK_ENV", &c.Environment)
	str("FLOCK_VAPID_PUBLIC_KEY", &c.VAPIDPublicKey)
	str("FLOCK_VAPID_PRIVATE_KEY", &c.VAPIDPrivateKey)
	str("FLOCK_VAPID_SUBSCRIBER", &c.VAPIDSubscriber)
	str("FLOCK_BACKUP_BUCKET", &c.BackupBucket)
	str("FLOCK_BACKUP_ENDPOINT", &c.BackupEndpoint)
	str("FLOCK_BACKUP_REGION", &c.BackupRegion)
	str("FLOCK_BACKUP_ACCESS_KEY", &c.BackupAccessKey)
	str("FLOCK_BACKUP_SECRET_KEY", &c.BackupSecretKey)
	str("FLOCK_BACKUP_PREFIX", &c.BackupPrefix)
	str("FLOCK_BACKUP_PASSPHRASE", &c.BackupPassphrase)
	str("FLOCK_BACKUP_SCHEDULE", &c.BackupSchedule)
	str("FLOCK_STRIPE_SECRET_KEY", &c.StripeSecretKey)
	str("FLOCK_STRIPE_WEBHOOK_SECRET", &c.StripeWebhookSecret)
	str("FLOCK_STRIPE_CURRENCY", &c.StripeCurrency)

	if v, ok := get("FLOCK_ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = splitList(v)
	}

	for _, err := range []error{
		dur("FLOCK_TOKEN_TTL", &c.TokenTTL),
		dur("FLOCK_RESET_TOKEN_TTL", &c.ResetTokenTTL),
		dur("FLOCK_AUTH_RATE_WINDOW", &c.AuthRateWindow),
		num("FLOCK_AUTH_RATE_LIMIT", &c.AuthRateLimit),
		num("FLOCK_BCRYPT_COST", &c.BcryptCost),
		num("FLOCK_BACKUP_KEEP", &c.BackupKeep),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyFlags(args []string) error {
	flags := flag.NewFlagSet("flock", flag.ContinueOnError)
	flags.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	flags.StringVar(&c.DatabasePath, "db", c.DatabasePath, "SQLite database path")
	flags.StringVar(&c.MongoURI, "mongo-uri", c.MongoURI, "MongoDB URI for the credential store (optional)")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	flags.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
	flags.StringVar(&c.Environment, "env", c.Environment, "development or production")
	flags.StringVar(&c.BaseURL, "base-url", c.BaseURL, "public URL used in emailed links")
	return flags.Parse(args)
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		errs = append(errs, fmt.Errorf("environment must be %q or %q", EnvDevelopment, EnvProduction))
	}
	if c.JWTSecret == "" {
		if c.Environment != EnvDevelopment {
			errs = append(errs, errors.New("FLOCK_JWT_SECRET is required"))
		}
	} else if len(c.JWTSecret) < minSecretLen && c.Environment != EnvDevelopment {
		errs = append(errs, fmt.Errorf("FLOCK_JWT_SECRET must be at least %d bytes", minSecretLen))
	}
	if c.Environment == EnvProduction && c.PostmarkToken == "" {
		errs = append(errs, errors.New("FLOCK_POSTMARK_TOKEN is required in production"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token TTL must be positive"))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("reset token TTL must be positive"))
	}
	if c.AuthRateLimit <= 0 || c.AuthRateWindow <= 0 {
		errs = append(errs, errors.New("auth rate limit and window must be positive"))
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("FLOCK_VAPID_PUBLIC_KEY and FLOCK_VAPID_PRIVATE_KEY must be set together"))
	}
	if c.BackupBucket != "" {
		if c.BackupPassphrase == "" {
			errs = append(errs, errors.New("FLOCK_BACKUP_PASSPHRASE is required when backups are enabled"))
		}
		if _, err := cron.ParseStandard(c.BackupSchedule); err != nil {
			errs = append(errs, fmt.Errorf("FLOCK_BACKUP_SCHEDULE: %w", err))
		}
		if c.BackupKeep <= 0 {
			errs = append(errs, errors.New("FLOCK_BACKUP_KEEP must be positive"))
		}
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("FLOCK_STRIPE_WEBHOOK_SECRET is required with FLOCK_STRIPE_SECRET_KEY"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether development conveniences are enabled.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
