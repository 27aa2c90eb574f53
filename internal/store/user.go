package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/flock/internal/model"
)

// UserStore is the SQLite credential store. Emails are unique and
// case-normalized; reset token and expiry are always written together.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var branchID sql.NullInt64
	var resetToken sql.NullString
	var resetExpires sql.NullTime

	err := scanner.Scan(
		&u.ID, &u.ChurchID, &branchID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
		&resetToken, &resetExpires, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if branchID.Valid {
		u.BranchID = &branchID.Int64
	}
	if resetToken.Valid && resetExpires.Valid {
		u.ResetPasswordToken = &resetToken.String
		u.ResetPasswordExpires = &resetExpires.Time
	}
	return &u, nil
}

const userCols = `id, church_id, branch_id, email, name, password_hash, role, reset_password_token, reset_password_expires, created_at, updated_at`

func (s *UserStore) Create(ctx context.Context, u *model.User) (*model.User, error) {
	var bID sql.NullInt64
	if u.BranchID != nil {
		bID = sql.NullInt64{Int64: *u.BranchID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (church_id, branch_id, email, name, password_hash, role) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ChurchID, bID, normalizeEmail(u.Email), u.Name, u.PasswordHash, u.Role,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = ?`, normalizeEmail(email))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GetByResetToken returns the user whose stored reset digest equals digest,
// regardless of expiry.
func (s *UserStore) GetByResetToken(ctx context.Context, digest string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE reset_password_token = ?`, digest)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by reset token: %w", err)
	}
	return u, nil
}

func (s *UserStore) ListByChurch(ctx context.Context, churchID int64) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users WHERE church_id = ? ORDER BY email`, churchID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetResetToken stores a reset digest and its expiry, replacing any earlier one.
func (s *UserStore) SetResetToken(ctx context.Context, id int64, digest string, expires time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET reset_password_token = ?, reset_password_expires = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		digest, expires.UTC().Truncate(time.Second), id,
	)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken replaces the password of the user holding digest and
// clears the reset fields. It reports false when no row held the digest,
// which is how a concurrent second consumer loses.
func (s *UserStore) ConsumeResetToken(ctx context.Context, digest, passwordHash string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET password_hash = ?, reset_password_token = NULL, reset_password_expires = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE reset_password_token = ?`,
		passwordHash, digest,
	)
	if err != nil {
		return false, fmt.Errorf("consume reset token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ClearExpiredResetTokens drops reset tokens that expired before cutoff.
func (s *UserStore) ClearExpiredResetTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET reset_password_token = NULL, reset_password_expires = NULL
		 WHERE reset_password_expires IS NOT NULL AND reset_password_expires < ?`,
		cutoff.UTC().Truncate(time.Second),
	)
	if err != nil {
		return 0, fmt.Errorf("clear expired reset tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

func (s *UserStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
