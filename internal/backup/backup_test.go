package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/flock/internal/database"
)

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(input.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memStore) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memStore) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(input.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memStore) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(input.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(m.objects[k])))})
	}
	return out, nil
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Hour)
	return c.t
}

func testConfig() Config {
	return Config{
		S3:         S3Config{Bucket: "backups", AccessKey: "key", SecretKey: "secret", Prefix: "test/"},
		Passphrase: "correct horse battery staple",
		Keep:       2,
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "flock.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE backup_probe (v TEXT)`); err != nil {
		t.Fatalf("create probe table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO backup_probe (v) VALUES ('grace')`); err != nil {
		t.Fatalf("insert probe: %v", err)
	}
	return db
}

func newTestManager(t *testing.T, cfg Config, objects ObjectStore, opts ...Option) *Manager {
	t.Helper()
	clock := &stepClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithObjectStore(objects), WithClock(clock.now)}, opts...)
	return NewManager(cfg, openTestDB(t), slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestConfigEnabled(t *testing.T) {
	cfg := testConfig()
	if !cfg.Enabled() {
		t.Error("full config should be enabled")
	}
	cfg.Passphrase = ""
	if cfg.Enabled() {
		t.Error("config without passphrase should be disabled")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule = "every tuesday"
	m := newTestManager(t, cfg, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err == nil {
		t.Error("expected error for invalid schedule")
	}

	cfg.Schedule = "@every 1h"
	if err := newTestManager(t, cfg, newMemStore()).Start(ctx); err != nil {
		t.Errorf("start: %v", err)
	}
}

func TestRunWithoutConfigIsDisabled(t *testing.T) {
	m := NewManager(Config{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := m.Run(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

func TestRunAndRestore(t *testing.T) {
	objects := newMemStore()
	var observed []error
	m := newTestManager(t, testConfig(), objects, WithResultObserver(func(err error) {
		observed = append(observed, err)
	}))
	ctx := context.Background()

	key, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if key != "test/flock-20260301T010000Z.db.enc" {
		t.Errorf("key = %q", key)
	}
	if len(observed) != 1 || observed[0] != nil {
		t.Errorf("observed = %v, want one nil", observed)
	}
	if st := m.Status(); st.LastKey != key || st.Error != "" {
		t.Errorf("status = %+v", st)
	}
	if bytes.Contains(objects.objects[key], []byte("SQLite format 3")) {
		t.Error("uploaded object is not encrypted")
	}

	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Restore(ctx, key, dst); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored, err := sql.Open("sqlite", dst)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	var v string
	if err := restored.QueryRow(`SELECT v FROM backup_probe`).Scan(&v); err != nil {
		t.Fatalf("query restored: %v", err)
	}
	if v != "grace" {
		t.Errorf("restored value = %q, want grace", v)
	}

	if err := m.Restore(ctx, key, dst); err == nil {
		t.Error("expected error restoring over an existing file")
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	objects := newMemStore()
	m := newTestManager(t, testConfig(), objects)
	key, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	cfg := testConfig()
	cfg.Passphrase = "wrong"
	other := newTestManager(t, cfg, objects)
	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := other.Restore(context.Background(), key, dst); !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("err = %v, want ErrBadPassphrase", err)
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Error("failed restore left a file behind")
	}
}

func TestRunRecordsFailure(t *testing.T) {
	objects := newMemStore()
	objects.putErr = errors.New("bucket unavailable")
	var observed error
	m := newTestManager(t, testConfig(), objects, WithResultObserver(func(err error) { observed = err }))

	if _, err := m.Run(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if observed == nil {
		t.Error("observer not told about failure")
	}
	if st := m.Status(); st.Error == "" || !st.LastSuccess.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestListAndPrune(t *testing.T) {
	objects := newMemStore()
	objects.objects["test/unrelated.txt"] = []byte("x")
	objects.objects["other/flock-20260101T000000Z.db.enc"] = []byte("x")
	m := newTestManager(t, testConfig(), objects)
	ctx := context.Background()

	var keys []string
	for range 4 {
		key, err := m.Run(ctx)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		keys = append(keys, key)
	}

	snaps, err := m.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 4 {
		t.Fatalf("len(snaps) = %d, want 4", len(snaps))
	}
	if snaps[0].Key != keys[3] {
		t.Errorf("newest = %q, want %q", snaps[0].Key, keys[3])
	}

	n, err := m.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}
	for _, k := range keys[:2] {
		if _, ok := objects.objects[k]; ok {
			t.Errorf("%s should have been pruned", k)
		}
	}
	for _, k := range append(keys[2:], "test/unrelated.txt", "other/flock-20260101T000000Z.db.enc") {
		if _, ok := objects.objects[k]; !ok {
			t.Errorf("%s should remain", k)
		}
	}
}
