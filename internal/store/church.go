package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/flock/internal/model"
)

type ChurchStore struct {
	db *sql.DB
}

func NewChurchStore(db *sql.DB) *ChurchStore {
	return &ChurchStore{db: db}
}

func scanChurch(scanner interface{ Scan(...any) error }) (*model.Church, error) {
	var c model.Church
	err := scanner.Scan(&c.ID, &c.Name, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanBranch(scanner interface{ Scan(...any) error }) (*model.Branch, error) {
	var b model.Branch
	err := scanner.Scan(&b.ID, &b.ChurchID, &b.Name, &b.Address, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const churchCols = `id, name, address, created_at, updated_at`
const branchCols = `id, church_id, name, address, created_at, updated_at`

// CreateWithBranch creates a church and its first branch in one transaction.
func (s *ChurchStore) CreateWithBranch(ctx context.Context, name, address, branchName string) (*model.Church, *model.Branch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT INTO churches (name, address) VALUES (?, ?)`, name, address)
	if err != nil {
		return nil, nil, fmt.Errorf("insert church: %w", err)
	}
	churchID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("last insert id: %w", err)
	}

	result, err = tx.ExecContext(ctx, `INSERT INTO branches (church_id, name, address) VALUES (?, ?, ?)`, churchID, branchName, address)
	if err != nil {
		return nil, nil, fmt.Errorf("insert branch: %w", err)
	}
	branchID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	c, err := s.GetByID(ctx, churchID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.GetBranch(ctx, churchID, branchID)
	if err != nil {
		return nil, nil, err
	}
	return c, b, nil
}

func (s *ChurchStore) GetByID(ctx context.Context, id int64) (*model.Church, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+churchCols+` FROM churches WHERE id = ?`, id)
	c, err := scanChurch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get church: %w", err)
	}
	return c, nil
}

func (s *ChurchStore) Update(ctx context.Context, id int64, name, address string) (*model.Church, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE churches SET name = ?, address = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, address, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update church: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes a church and, through cascades, everything it owns.
func (s *ChurchStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM churches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete church: %w", err)
	}
	return nil
}

func (s *ChurchStore) CreateBranch(ctx context.Context, churchID int64, name, address string) (*model.Branch, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO branches (church_id, name, address) VALUES (?, ?, ?)`,
		churchID, name, address,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert branch: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetBranch(ctx, churchID, id)
}

func (s *ChurchStore) GetBranch(ctx context.Context, churchID, id int64) (*model.Branch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+branchCols+` FROM branches WHERE id = ? AND church_id = ?`, id, churchID)
	b, err := scanBranch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return b, nil
}

func (s *ChurchStore) ListBranches(ctx context.Context, churchID int64) ([]model.Branch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+branchCols+` FROM branches WHERE church_id = ? ORDER BY id`, churchID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	branches := make([]model.Branch, 0)
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, *b)
	}
	return branches, rows.Err()
}

func (s *ChurchStore) UpdateBranch(ctx context.Context, churchID, id int64, name, address string) (*model.Branch, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE branches SET name = ?, address = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND church_id = ?`,
		name, address, id, churchID,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("update branch: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}
	return s.GetBranch(ctx, churchID, id)
}

// DeleteBranch refuses to remove the last branch of a church or a branch
// that still has members or offerings.
func (s *ChurchStore) DeleteBranch(ctx context.Context, churchID, id int64) error {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches WHERE church_id = ?`, churchID).Scan(&count)
	if err != nil {
		return fmt.Errorf("count branches: %w", err)
	}
	if count <= 1 {
		return ErrInUse
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = ? AND church_id = ?`, id, churchID)
	if isForeignKeyViolation(err) {
		return ErrInUse
	}
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	return requireAffected(result)
}
