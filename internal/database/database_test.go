package database

import "testing"

func TestOpenMemoryRunsMigrations(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	tables := []string{"churches", "branches", "users", "members", "departments", "department_members", "prayer_requests", "offerings", "pledges", "messages"}
	for _, name := range tables {
		var got string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&got)
		if err != nil {
			t.Errorf("table %q missing: %v", name, err)
		}
	}
}

func TestOpenEnforcesForeignKeys(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`INSERT INTO branches (church_id, name) VALUES (999, 'Orphan')`)
	if err == nil {
		t.Fatal("expected foreign key violation, got nil")
	}
}

func TestResetTokenPairConstraint(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO churches (name) VALUES ('Grace')`); err != nil {
		t.Fatalf("insert church: %v", err)
	}
	_, err = db.Exec(
		`INSERT INTO users (church_id, email, password_hash, reset_password_token) VALUES (1, 'a@example.com', 'x', 'tok')`,
	)
	if err == nil {
		t.Fatal("expected check violation for token without expiry, got nil")
	}
}

func TestDSN(t *testing.T) {
	if got := dsn(":memory:"); got != "file::memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)" {
		t.Errorf("dsn(:memory:) = %q", got)
	}
	if got := dsn("flock.db"); got != "file:flock.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" {
		t.Errorf("dsn(flock.db) = %q", got)
	}
}
