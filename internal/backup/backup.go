// Package backup takes encrypted snapshots of the SQLite database and keeps
// them in S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

const (
	keyPrefix     = "flock-"
	keySuffix     = ".db.enc"
	keyTimeLayout = "20060102T150405Z"
)

// DefaultSchedule runs nightly at 03:00 UTC.
const DefaultSchedule = "0 3 * * *"

// ErrDisabled is returned when storage or the passphrase is not configured.
var ErrDisabled = errors.New("backup not configured")

// ObjectStore is the subset of the S3 API the manager uses.
type ObjectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	// Prefix is prepended to every object key, e.g. "prod/".
	Prefix string
}

type Config struct {
	S3         S3Config
	Passphrase string
	// Schedule is a five-field cron expression, evaluated in UTC.
	Schedule string
	// Keep is how many snapshots survive pruning.
	Keep int
}

// Enabled reports whether scheduled backups can run.
func (c Config) Enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

// Snapshot describes one stored backup.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Status is the outcome of the most recent run.
type Status struct {
	LastRun     time.Time `json:"last_run"`
	LastSuccess time.Time `json:"last_success"`
	LastKey     string    `json:"last_key,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Manager runs backups. Only one backup runs at a time.
type Manager struct {
	cfg      Config
	db       *sql.DB
	client   ObjectStore
	logger   *slog.Logger
	now      func() time.Time
	observer func(error)

	run    sync.Mutex
	mu     sync.RWMutex
	status Status
}

type Option func(*Manager)

// WithObjectStore replaces the S3 client built from Config.
func WithObjectStore(c ObjectStore) Option {
	return func(m *Manager) {
		m.client = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithResultObserver is called after every run with its error, or nil.
func WithResultObserver(fn func(error)) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

func NewManager(cfg Config, db *sql.DB, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 14
	}
	m := &Manager{cfg: cfg, db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil && cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) enabled() bool {
	return m.client != nil && m.cfg.Passphrase != ""
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Start schedules backups until ctx is cancelled. Each run is followed by a prune.
func (m *Manager) Start(ctx context.Context) error {
	if !m.enabled() {
		m.logger.Info("backups disabled")
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(m.cfg.Schedule, func() {
		if _, err := m.Run(ctx); err != nil {
			m.logger.Error("scheduled backup failed", "error", err)
			return
		}
		if n, err := m.Prune(ctx); err != nil {
			m.logger.Error("prune backups", "error", err)
		} else if n > 0 {
			m.logger.Info("pruned backups", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", m.cfg.Schedule, err)
	}
	c.Start()
	m.logger.Info("backups enabled", "bucket", m.cfg.S3.Bucket, "schedule", m.cfg.Schedule, "keep", m.cfg.Keep)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// Run snapshots the database, encrypts it and uploads it. It returns the object key.
func (m *Manager) Run(ctx context.Context) (string, error) {
	if !m.enabled() {
		return "", ErrDisabled
	}
	m.run.Lock()
	defer m.run.Unlock()

	started := m.now().UTC()
	key, size, err := m.upload(ctx, started)

	m.mu.Lock()
	m.status.LastRun = started
	if err != nil {
		m.status.Error = err.Error()
	} else {
		m.status.Error = ""
		m.status.LastSuccess = started
		m.status.LastKey = key
	}
	m.mu.Unlock()
	if m.observer != nil {
		m.observer(err)
	}
	if err != nil {
		return "", err
	}

	m.logger.Info("backup uploaded", "key", key, "size", size, "duration", time.Since(started))
	return key, nil
}

func (m *Manager) upload(ctx context.Context, at time.Time) (string, int64, error) {
	tmpDir, err := os.MkdirTemp("", "flock-backup-")
	if err != nil {
		return "", 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// VACUUM INTO writes a consistent copy without blocking writers for long.
	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return "", 0, fmt.Errorf("snapshot database: %w", err)
	}
	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return "", 0, fmt.Errorf("read snapshot: %w", err)
	}
	sealed, err := Seal(plaintext, m.cfg.Passphrase)
	if err != nil {
		return "", 0, fmt.Errorf("encrypt snapshot: %w", err)
	}

	key := m.cfg.S3.Prefix + keyPrefix + at.Format(keyTimeLayout) + keySuffix
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("upload to s3: %w", err)
	}
	return key, int64(len(sealed)), nil
}

// List returns stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}

	var snaps []Snapshot
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Prefix: aws.String(m.cfg.S3.Prefix + keyPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			at, ok := m.parseKey(key)
			if !ok {
				continue
			}
			snaps = append(snaps, Snapshot{Key: key, Size: aws.ToInt64(obj.Size), CreatedAt: at})
		}
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

func (m *Manager) parseKey(key string) (time.Time, bool) {
	name, ok := strings.CutPrefix(key, m.cfg.S3.Prefix+keyPrefix)
	if !ok {
		return time.Time{}, false
	}
	name, ok = strings.CutSuffix(name, keySuffix)
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(keyTimeLayout, name)
	return at, err == nil
}

// Prune deletes all but the newest Keep snapshots and returns how many it removed.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	snaps, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(snaps) <= m.cfg.Keep {
		return 0, nil
	}

	removed := 0
	for _, s := range snaps[m.cfg.Keep:] {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(s.Key),
		}); err != nil {
			m.logger.Warn("delete backup object", "key", s.Key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Restore downloads and decrypts the snapshot at key and writes it to dstPath
// after an integrity check. dstPath must not exist; the server should be
// stopped and pointed at the restored file.
func (m *Manager) Restore(ctx context.Context, key, dstPath string) error {
	if !m.enabled() {
		return ErrDisabled
	}
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("restore target %s already exists", dstPath)
	}

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	sealed, err := io.ReadAll(out.Body)
	out.Body.Close()
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	plaintext, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return err
	}

	tmp := dstPath + ".partial"
	if err := os.WriteFile(tmp, plaintext, 0600); err != nil {
		return fmt.Errorf("write restored database: %w", err)
	}
	if err := checkIntegrity(ctx, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move restored database: %w", err)
	}
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
