package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/flock/internal/model"
)

type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func scanMessage(scanner interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var branchID sql.NullInt64
	err := scanner.Scan(&m.ID, &m.ChurchID, &branchID, &m.AuthorID, &m.Subject, &m.Body, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if branchID.Valid {
		m.BranchID = &branchID.Int64
	}
	return &m, nil
}

const messageCols = `id, church_id, branch_id, author_id, subject, body, created_at`

func (s *MessageStore) Create(ctx context.Context, m *model.Message) (*model.Message, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (church_id, branch_id, author_id, subject, body) VALUES (?, ?, ?, ?, ?)`,
		m.ChurchID, nullableID(m.BranchID), m.AuthorID, m.Subject, m.Body,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, m.ChurchID, id)
}

func (s *MessageStore) GetByID(ctx context.Context, churchID, id int64) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = ? AND church_id = ?`, id, churchID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// List returns messages newest first. With a branch, only church-wide
// messages and those addressed to that branch are returned.
func (s *MessageStore) List(ctx context.Context, churchID int64, branchID *int64, limit int) ([]model.Message, error) {
	query := `SELECT ` + messageCols + ` FROM messages WHERE church_id = ?`
	args := []any{churchID}
	if branchID != nil {
		query += ` AND (branch_id IS NULL OR branch_id = ?)`
		args = append(args, *branchID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *MessageStore) Delete(ctx context.Context, churchID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND church_id = ?`, id, churchID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(result)
}
