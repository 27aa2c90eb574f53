package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/backup"
	"github.com/dukerupert/flock/internal/config"
	"github.com/dukerupert/flock/internal/database"
	"github.com/dukerupert/flock/internal/email"
	"github.com/dukerupert/flock/internal/logging"
	"github.com/dukerupert/flock/internal/metrics"
	"github.com/dukerupert/flock/internal/server"
	"github.com/dukerupert/flock/internal/store/mongostore"
)

// Reset tokens are cleared this long after they expire.
const resetTokenGrace = 24 * time.Hour

func main() {
	cfg, err := config.FromEnvironment()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			slog.Error("generate jwt secret", "error", err)
			os.Exit(1)
		}
		cfg.JWTSecret = hex.EncodeToString(secret)
		slog.Warn("FLOCK_JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Logins live in MongoDB when a URI is configured.
	var creds server.CredentialStore
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			cancel()
			slog.Error("failed to connect to mongodb", "error", err)
			os.Exit(1)
		}
		users := mongostore.NewUserStore(client.Database(cfg.MongoDatabase))
		err = users.EnsureIndexes(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to create mongodb indexes", "error", err)
			os.Exit(1)
		}
		defer client.Disconnect(context.Background())
		creds = users
		slog.Info("using mongodb for credentials", "database", cfg.MongoDatabase)
	}

	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL, email.WithResetTTL(cfg.ResetTokenTTL))
	if !emailClient.Configured() {
		slog.Warn("postmark not configured; reset links will only be logged")
	}

	m := metrics.New()
	codec := auth.NewCodec([]byte(cfg.JWTSecret), cfg.TokenTTL)
	srv := server.New(db, creds, codec, emailClient, m, cfg, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	if cfg.DatabasePath != ":memory:" {
		backups := backup.NewManager(backupConfig(cfg), db, logger.With("component", "backup"),
			backup.WithResultObserver(m.BackupResult))
		if err := backups.Start(cleanupCtx); err != nil {
			slog.Error("failed to start backups", "error", err)
			os.Exit(1)
		}
	}
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().Add(-resetTokenGrace)
				if n, err := srv.Credentials().ClearExpiredResetTokens(cleanupCtx, cutoff); err != nil {
					slog.Error("cleanup expired reset tokens", "error", err)
				} else if n > 0 {
					m.ResetTokensCleared.Add(float64(n))
					slog.Info("cleaned up expired reset tokens", "count", n)
				}
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					slog.Debug("cleaned up rate limiter entries", "count", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("flock starting", "addr", cfg.Addr, "env", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func backupConfig(cfg *config.Config) backup.Config {
	return backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.BackupEndpoint,
			Bucket:    cfg.BackupBucket,
			Region:    cfg.BackupRegion,
			AccessKey: cfg.BackupAccessKey,
			SecretKey: cfg.BackupSecretKey,
			Prefix:    cfg.BackupPrefix,
		},
		Passphrase: cfg.BackupPassphrase,
		Schedule:   cfg.BackupSchedule,
		Keep:       cfg.BackupKeep,
	}
}
