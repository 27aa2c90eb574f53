package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/flock/internal/model"
)

// ErrPledgeClosed is returned when a payment targets a fulfilled or cancelled pledge.
var ErrPledgeClosed = errors.New("pledge is closed")

// GivingStore holds offerings and pledges. Amounts are minor currency units
// and dates are YYYY-MM-DD strings, so range filters compare lexically.
type GivingStore struct {
	db *sql.DB
}

func NewGivingStore(db *sql.DB) *GivingStore {
	return &GivingStore{db: db}
}

// --- Offering methods ---

func scanOffering(scanner interface{ Scan(...any) error }) (*model.Offering, error) {
	var o model.Offering
	var memberID sql.NullInt64
	var externalRef sql.NullString

	err := scanner.Scan(
		&o.ID, &o.ChurchID, &o.BranchID, &memberID, &o.Kind,
		&o.AmountCents, &o.GivenOn, &o.Note, &o.RecordedBy, &externalRef, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if memberID.Valid {
		o.MemberID = &memberID.Int64
	}
	o.ExternalRef = externalRef.String
	return &o, nil
}

const offeringCols = `id, church_id, branch_id, member_id, kind, amount_cents, given_on, note, recorded_by, external_ref, created_at`

func (s *GivingStore) CreateOffering(ctx context.Context, o *model.Offering) (*model.Offering, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO offerings (church_id, branch_id, member_id, kind, amount_cents, given_on, note, recorded_by, external_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ChurchID, o.BranchID, nullableID(o.MemberID), o.Kind, o.AmountCents, o.GivenOn, o.Note, o.RecordedBy,
		sql.NullString{String: o.ExternalRef, Valid: o.ExternalRef != ""},
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert offering: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetOffering(ctx, o.ChurchID, id)
}

func (s *GivingStore) GetOffering(ctx context.Context, churchID, id int64) (*model.Offering, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+offeringCols+` FROM offerings WHERE id = ? AND church_id = ?`, id, churchID)
	o, err := scanOffering(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offering: %w", err)
	}
	return o, nil
}

// OfferingFilter narrows offering queries. Empty fields are ignored; From
// and To are inclusive.
type OfferingFilter struct {
	BranchID *int64
	From     string
	To       string
}

func (f OfferingFilter) where(churchID int64) (string, []any) {
	clause := ` WHERE church_id = ?`
	args := []any{churchID}
	if f.BranchID != nil {
		clause += ` AND branch_id = ?`
		args = append(args, *f.BranchID)
	}
	if f.From != "" {
		clause += ` AND given_on >= ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		clause += ` AND given_on <= ?`
		args = append(args, f.To)
	}
	return clause, args
}

func (s *GivingStore) ListOfferings(ctx context.Context, churchID int64, f OfferingFilter) ([]model.Offering, error) {
	clause, args := f.where(churchID)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+offeringCols+` FROM offerings`+clause+` ORDER BY given_on DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list offerings: %w", err)
	}
	defer rows.Close()

	offerings := make([]model.Offering, 0)
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offering: %w", err)
		}
		offerings = append(offerings, *o)
	}
	return offerings, rows.Err()
}

// Summary totals offerings by kind within the filter.
func (s *GivingStore) Summary(ctx context.Context, churchID int64, f OfferingFilter) ([]model.OfferingTotal, error) {
	clause, args := f.where(churchID)
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*), COALESCE(SUM(amount_cents), 0) FROM offerings`+clause+` GROUP BY kind ORDER BY kind`, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize offerings: %w", err)
	}
	defer rows.Close()

	totals := make([]model.OfferingTotal, 0)
	for rows.Next() {
		var t model.OfferingTotal
		if err := rows.Scan(&t.Kind, &t.Count, &t.AmountCents); err != nil {
			return nil, fmt.Errorf("scan offering total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (s *GivingStore) DeleteOffering(ctx context.Context, churchID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM offerings WHERE id = ? AND church_id = ?`, id, churchID)
	if err != nil {
		return fmt.Errorf("delete offering: %w", err)
	}
	return requireAffected(result)
}

// --- Pledge methods ---

func scanPledge(scanner interface{ Scan(...any) error }) (*model.Pledge, error) {
	var p model.Pledge
	var memberID sql.NullInt64

	err := scanner.Scan(
		&p.ID, &p.ChurchID, &memberID, &p.Title, &p.AmountCents,
		&p.AmountPaidCents, &p.DueOn, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if memberID.Valid {
		p.MemberID = &memberID.Int64
	}
	return &p, nil
}

const pledgeCols = `id, church_id, member_id, title, amount_cents, amount_paid_cents, due_on, status, created_at, updated_at`

func (s *GivingStore) CreatePledge(ctx context.Context, p *model.Pledge) (*model.Pledge, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO pledges (church_id, member_id, title, amount_cents, due_on) VALUES (?, ?, ?, ?, ?)`,
		p.ChurchID, nullableID(p.MemberID), p.Title, p.AmountCents, p.DueOn,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pledge: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetPledge(ctx, p.ChurchID, id)
}

func (s *GivingStore) GetPledge(ctx context.Context, churchID, id int64) (*model.Pledge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pledgeCols+` FROM pledges WHERE id = ? AND church_id = ?`, id, churchID)
	p, err := scanPledge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pledge: %w", err)
	}
	return p, nil
}

func (s *GivingStore) ListPledges(ctx context.Context, churchID int64) ([]model.Pledge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pledgeCols+` FROM pledges WHERE church_id = ?
		 ORDER BY CASE status WHEN 'open' THEN 0 ELSE 1 END, due_on, id`, churchID)
	if err != nil {
		return nil, fmt.Errorf("list pledges: %w", err)
	}
	defer rows.Close()

	pledges := make([]model.Pledge, 0)
	for rows.Next() {
		p, err := scanPledge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pledge: %w", err)
		}
		pledges = append(pledges, *p)
	}
	return pledges, rows.Err()
}

// UpdatePledge rewrites the editable fields. Status is recomputed so that
// raising the target reopens a fulfilled pledge; a cancelled pledge stays
// cancelled unless the caller sets another status.
func (s *GivingStore) UpdatePledge(ctx context.Context, p *model.Pledge) (*model.Pledge, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pledges
		 SET member_id = ?, title = ?, amount_cents = ?, due_on = ?,
		     status = CASE
		         WHEN ? = 'cancelled' THEN 'cancelled'
		         WHEN amount_paid_cents >= ? THEN 'fulfilled'
		         ELSE 'open' END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND church_id = ?`,
		nullableID(p.MemberID), p.Title, p.AmountCents, p.DueOn, p.Status, p.AmountCents, p.ID, p.ChurchID,
	)
	if err != nil {
		return nil, fmt.Errorf("update pledge: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}
	return s.GetPledge(ctx, p.ChurchID, p.ID)
}

// AddPayment adds amountCents to an open pledge and marks it fulfilled once
// the paid total reaches the pledged amount.
func (s *GivingStore) AddPayment(ctx context.Context, churchID, id, amountCents int64) (*model.Pledge, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pledges
		 SET amount_paid_cents = amount_paid_cents + ?,
		     status = CASE WHEN amount_paid_cents + ? >= amount_cents THEN 'fulfilled' ELSE 'open' END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND church_id = ? AND status = 'open'`,
		amountCents, amountCents, id, churchID,
	)
	if err != nil {
		return nil, fmt.Errorf("add pledge payment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		p, err := s.GetPledge(ctx, churchID, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrNotFound
		}
		return nil, ErrPledgeClosed
	}
	return s.GetPledge(ctx, churchID, id)
}

func (s *GivingStore) DeletePledge(ctx context.Context, churchID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pledges WHERE id = ? AND church_id = ?`, id, churchID)
	if err != nil {
		return fmt.Errorf("delete pledge: %w", err)
	}
	return requireAffected(result)
}
