package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dukerupert/flock/internal/database"
	"github.com/dukerupert/flock/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedChurch creates a church with its default branch.
func seedChurch(t *testing.T, db *sql.DB, name string) (*model.Church, *model.Branch) {
	t.Helper()
	c, b, err := NewChurchStore(db).CreateWithBranch(context.Background(), name, "", "Main")
	if err != nil {
		t.Fatalf("seed church: %v", err)
	}
	return c, b
}

func seedMember(t *testing.T, db *sql.DB, churchID, branchID int64, first string) *model.Member {
	t.Helper()
	m, err := NewMemberStore(db).Create(context.Background(), &model.Member{
		ChurchID:  churchID,
		BranchID:  branchID,
		FirstName: first,
		Status:    model.MemberActive,
	})
	if err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return m
}
