package model

import "time"

// Amounts are stored in minor currency units.

type Offering struct {
	ID          int64     `json:"id"`
	ChurchID    int64     `json:"church_id"`
	BranchID    int64     `json:"branch_id"`
	MemberID    *int64    `json:"member_id"`
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amount_cents"`
	GivenOn     string    `json:"given_on"`
	Note        string    `json:"note"`
	RecordedBy  int64     `json:"recorded_by"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type OfferingTotal struct {
	Kind        string `json:"kind"`
	Count       int    `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

const (
	PledgeOpen      = "open"
	PledgeFulfilled = "fulfilled"
	PledgeCancelled = "cancelled"
)

type Pledge struct {
	ID              int64     `json:"id"`
	ChurchID        int64     `json:"church_id"`
	MemberID        *int64    `json:"member_id"`
	Title           string    `json:"title"`
	AmountCents     int64     `json:"amount_cents"`
	AmountPaidCents int64     `json:"amount_paid_cents"`
	DueOn           string    `json:"due_on"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
