package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/flock/internal/model"
)

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

func scanMember(scanner interface{ Scan(...any) error }) (*model.Member, error) {
	var m model.Member
	err := scanner.Scan(
		&m.ID, &m.ChurchID, &m.BranchID, &m.FirstName, &m.LastName,
		&m.Email, &m.Phone, &m.Status, &m.JoinedOn, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const memberCols = `id, church_id, branch_id, first_name, last_name, email, phone, status, joined_on, created_at, updated_at`

func (s *MemberStore) Create(ctx context.Context, m *model.Member) (*model.Member, error) {
	status := m.Status
	if status == "" {
		status = model.MemberActive
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO members (church_id, branch_id, first_name, last_name, email, phone, status, joined_on)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChurchID, m.BranchID, m.FirstName, m.LastName, m.Email, m.Phone, status, m.JoinedOn,
	)
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, m.ChurchID, id)
}

func (s *MemberStore) GetByID(ctx context.Context, churchID, id int64) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberCols+` FROM members WHERE id = ? AND church_id = ?`, id, churchID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// List returns the church's members ordered by name, optionally narrowed to one branch.
func (s *MemberStore) List(ctx context.Context, churchID int64, branchID *int64) ([]model.Member, error) {
	query := `SELECT ` + memberCols + ` FROM members WHERE church_id = ?`
	args := []any{churchID}
	if branchID != nil {
		query += ` AND branch_id = ?`
		args = append(args, *branchID)
	}
	query += ` ORDER BY last_name, first_name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]model.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *MemberStore) Update(ctx context.Context, m *model.Member) (*model.Member, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE members
		 SET branch_id = ?, first_name = ?, last_name = ?, email = ?, phone = ?, status = ?, joined_on = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND church_id = ?`,
		m.BranchID, m.FirstName, m.LastName, m.Email, m.Phone, m.Status, m.JoinedOn, m.ID, m.ChurchID,
	)
	if err != nil {
		return nil, fmt.Errorf("update member: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, m.ChurchID, m.ID)
}

func (s *MemberStore) Delete(ctx context.Context, churchID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE id = ? AND church_id = ?`, id, churchID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return requireAffected(result)
}
