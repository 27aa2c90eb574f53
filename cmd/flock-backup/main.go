// Command flock-backup lists, takes and restores encrypted database
// snapshots using the server's FLOCK_BACKUP_* settings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dukerupert/flock/internal/backup"
	"github.com/dukerupert/flock/internal/config"
	"github.com/dukerupert/flock/internal/database"
	"github.com/dukerupert/flock/internal/logging"
)

const usage = `usage: flock-backup <command> [flags]

commands:
  list                       list stored snapshots, newest first
  run                        snapshot the database now and prune old snapshots
  restore -key KEY -out PATH download, decrypt and verify a snapshot
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	envFile := ".env"
	if v, ok := os.LookupEnv("FLOCK_ENV_FILE"); ok {
		envFile = v
	}
	cfg, err := config.Load(nil, envFile, os.LookupEnv)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1], os.Args[2:]); err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd string, args []string) error {
	bcfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.BackupEndpoint,
			Bucket:    cfg.BackupBucket,
			Region:    cfg.BackupRegion,
			AccessKey: cfg.BackupAccessKey,
			SecretKey: cfg.BackupSecretKey,
			Prefix:    cfg.BackupPrefix,
		},
		Passphrase: cfg.BackupPassphrase,
		Keep:       cfg.BackupKeep,
	}
	if !bcfg.Enabled() {
		return errors.New("FLOCK_BACKUP_BUCKET, FLOCK_BACKUP_ACCESS_KEY, FLOCK_BACKUP_SECRET_KEY and FLOCK_BACKUP_PASSPHRASE are required")
	}

	switch cmd {
	case "list":
		snaps, err := backup.NewManager(bcfg, nil, logger).List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tSIZE\tCREATED")
		for _, s := range snaps {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Key, s.Size, s.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()

	case "run":
		db, err := database.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()
		m := backup.NewManager(bcfg, db, logger)
		key, err := m.Run(ctx)
		if err != nil {
			return err
		}
		n, err := m.Prune(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s, pruned %d\n", key, n)
		return nil

	case "restore":
		flags := flag.NewFlagSet("restore", flag.ContinueOnError)
		key := flags.String("key", "", "snapshot key (see list)")
		out := flags.String("out", "", "path for the restored database; must not exist")
		if err := flags.Parse(args); err != nil {
			return err
		}
		if *key == "" || *out == "" {
			return errors.New("restore needs -key and -out")
		}
		if err := backup.NewManager(bcfg, nil, logger).Restore(ctx, *key, *out); err != nil {
			return err
		}
		fmt.Printf("restored %s to %s; point FLOCK_DB_PATH at it and restart the server\n", *key, *out)
		return nil
	}

	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", cmd)
}
