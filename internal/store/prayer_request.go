package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/flock/internal/model"
)

type PrayerRequestStore struct {
	db *sql.DB
}

func NewPrayerRequestStore(db *sql.DB) *PrayerRequestStore {
	return &PrayerRequestStore{db: db}
}

func scanPrayerRequest(scanner interface{ Scan(...any) error }) (*model.PrayerRequest, error) {
	var p model.PrayerRequest
	var private, answered int

	err := scanner.Scan(
		&p.ID, &p.ChurchID, &p.AuthorID, &p.Title, &p.Body,
		&private, &answered, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.IsPrivate = private != 0
	p.Answered = answered != 0
	return &p, nil
}

const prayerRequestCols = `id, church_id, author_id, title, body, is_private, answered, created_at, updated_at`

func (s *PrayerRequestStore) Create(ctx context.Context, churchID, authorID int64, title, body string, private bool) (*model.PrayerRequest, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO prayer_requests (church_id, author_id, title, body, is_private) VALUES (?, ?, ?, ?, ?)`,
		churchID, authorID, title, body, boolToInt(private),
	)
	if err != nil {
		return nil, fmt.Errorf("insert prayer request: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, churchID, id)
}

func (s *PrayerRequestStore) GetByID(ctx context.Context, churchID, id int64) (*model.PrayerRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prayerRequestCols+` FROM prayer_requests WHERE id = ? AND church_id = ?`, id, churchID)
	p, err := scanPrayerRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prayer request: %w", err)
	}
	return p, nil
}

// List returns open requests first, newest first. Private requests are
// included only for their author, or for everyone when showPrivate is set.
func (s *PrayerRequestStore) List(ctx context.Context, churchID, viewerID int64, showPrivate bool) ([]model.PrayerRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prayerRequestCols+` FROM prayer_requests
		 WHERE church_id = ? AND (is_private = 0 OR author_id = ? OR ? = 1)
		 ORDER BY answered ASC, created_at DESC, id DESC`,
		churchID, viewerID, boolToInt(showPrivate),
	)
	if err != nil {
		return nil, fmt.Errorf("list prayer requests: %w", err)
	}
	defer rows.Close()

	requests := make([]model.PrayerRequest, 0)
	for rows.Next() {
		p, err := scanPrayerRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prayer request: %w", err)
		}
		requests = append(requests, *p)
	}
	return requests, rows.Err()
}

func (s *PrayerRequestStore) Update(ctx context.Context, churchID, id int64, title, body string, private bool) (*model.PrayerRequest, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE prayer_requests SET title = ?, body = ?, is_private = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND church_id = ?`,
		title, body, boolToInt(private), id, churchID,
	)
	if err != nil {
		return nil, fmt.Errorf("update prayer request: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, churchID, id)
}

func (s *PrayerRequestStore) ToggleAnswered(ctx context.Context, churchID, id int64) (*model.PrayerRequest, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE prayer_requests SET answered = 1 - answered, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND church_id = ?`,
		id, churchID,
	)
	if err != nil {
		return nil, fmt.Errorf("toggle prayer request: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, churchID, id)
}

func (s *PrayerRequestStore) Delete(ctx context.Context, churchID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM prayer_requests WHERE id = ? AND church_id = ?`, id, churchID)
	if err != nil {
		return fmt.Errorf("delete prayer request: %w", err)
	}
	return requireAffected(result)
}
