package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/flock/internal/model"
)

type DepartmentStore struct {
	db *sql.DB
}

func NewDepartmentStore(db *sql.DB) *DepartmentStore {
	return &DepartmentStore{db: db}
}

func scanDepartment(scanner interface{ Scan(...any) error }) (*model.Department, error) {
	var d model.Department
	var leaderID sql.NullInt64
	err := scanner.Scan(&d.ID, &d.ChurchID, &d.Name, &d.Description, &leaderID, &d.MemberCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if leaderID.Valid {
		d.LeaderID = &leaderID.Int64
	}
	return &d, nil
}

const departmentSelect = `SELECT d.id, d.church_id, d.name, d.description, d.leader_id,
	(SELECT COUNT(*) FROM department_members dm WHERE dm.department_id = d.id),
	d.created_at, d.updated_at
	FROM departments d`

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func (s *DepartmentStore) Create(ctx context.Context, churchID int64, name, description string, leaderID *int64) (*model.Department, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO departments (church_id, name, description, leader_id) VALUES (?, ?, ?, ?)`,
		churchID, name, description, nullableID(leaderID),
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert department: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, churchID, id)
}

func (s *DepartmentStore) GetByID(ctx context.Context, churchID, id int64) (*model.Department, error) {
	row := s.db.QueryRowContext(ctx, departmentSelect+` WHERE d.id = ? AND d.church_id = ?`, id, churchID)
	d, err := scanDepartment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get department: %w", err)
	}
	return d, nil
}

func (s *DepartmentStore) List(ctx context.Context, churchID int64) ([]model.Department, error) {
	rows, err := s.db.QueryContext(ctx, departmentSelect+` WHERE d.church_id = ? ORDER BY d.name`, churchID)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	departments := make([]model.Department, 0)
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		departments = append(departments, *d)
	}
	return departments, rows.Err()
}

func (s *DepartmentStore) Update(ctx context.Context, churchID, id int64, name, description string, leaderID *int64) (*model.Department, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE departments SET name = ?, description = ?, leader_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND church_id = ?`,
		name, description, nullableID(leaderID), id, churchID,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("update department: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, churchID, id)
}

func (s *DepartmentStore) Delete(ctx context.Context, churchID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE id = ? AND church_id = ?`, id, churchID)
	if err != nil {
		return fmt.Errorf("delete department: %w", err)
	}
	return requireAffected(result)
}

// AddMember is idempotent; adding an existing member is not an error.
// The caller checks both records belong to the same church.
func (s *DepartmentStore) AddMember(ctx context.Context, departmentID, memberID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO department_members (department_id, member_id) VALUES (?, ?)`,
		departmentID, memberID,
	)
	if err != nil {
		return fmt.Errorf("add department member: %w", err)
	}
	return nil
}

func (s *DepartmentStore) RemoveMember(ctx context.Context, departmentID, memberID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM department_members WHERE department_id = ? AND member_id = ?`,
		departmentID, memberID,
	)
	if err != nil {
		return fmt.Errorf("remove department member: %w", err)
	}
	return requireAffected(result)
}

func (s *DepartmentStore) ListMembers(ctx context.Context, churchID, departmentID int64) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.church_id, m.branch_id, m.first_name, m.last_name, m.email, m.phone, m.status, m.joined_on, m.created_at, m.updated_at
		 FROM members m
		 JOIN department_members dm ON dm.member_id = m.id
		 WHERE dm.department_id = ? AND m.church_id = ?
		 ORDER BY m.last_name, m.first_name, m.id`,
		departmentID, churchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list department members: %w", err)
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
