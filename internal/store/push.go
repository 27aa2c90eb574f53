package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/flock/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushCols = `id, church_id, user_id, branch_id, endpoint, p256dh_key, auth_key, device_name, created_at`

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var branchID sql.NullInt64
	err := scanner.Scan(
		&sub.ID, &sub.ChurchID, &sub.UserID, &branchID, &sub.Endpoint,
		&sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if branchID.Valid {
		sub.BranchID = &branchID.Int64
	}
	return &sub, nil
}

// Upsert registers a browser. Re-subscribing the same endpoint moves it to
// the new user and refreshes its keys.
func (s *PushStore) Upsert(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (church_id, user_id, branch_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		     church_id = excluded.church_id, user_id = excluded.user_id, branch_id = excluded.branch_id,
		     p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		sub.ChurchID, sub.UserID, nullableID(sub.BranchID), sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.DeviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}

	// LastInsertId is not reliable after a conflict update.
	row := s.db.QueryRowContext(ctx, `SELECT `+pushCols+` FROM push_subscriptions WHERE endpoint = ?`, sub.Endpoint)
	saved, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return saved, nil
}

func (s *PushStore) ListByUser(ctx context.Context, churchID, userID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pushCols+` FROM push_subscriptions WHERE church_id = ? AND user_id = ? ORDER BY created_at DESC, id DESC`,
		churchID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by user: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListAudience returns the subscriptions a church message reaches. A nil
// branch means the whole church; otherwise only that branch's subscribers
// and church-wide ones. The author is never notified of their own message.
func (s *PushStore) ListAudience(ctx context.Context, churchID int64, branchID *int64, excludeUserID int64) ([]model.PushSubscription, error) {
	query := `SELECT ` + pushCols + ` FROM push_subscriptions WHERE church_id = ? AND user_id != ?`
	args := []any{churchID, excludeUserID}
	if branchID != nil {
		query += ` AND (branch_id IS NULL OR branch_id = ?)`
		args = append(args, *branchID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list push audience: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows *sql.Rows) ([]model.PushSubscription, error) {
	subs := make([]model.PushSubscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// Delete removes a subscription owned by userID.
func (s *PushStore) Delete(ctx context.Context, churchID, userID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE id = ? AND church_id = ? AND user_id = ?`, id, churchID, userID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return requireAffected(result)
}

// DeleteByEndpoint drops a subscription the push service reported gone.
func (s *PushStore) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
