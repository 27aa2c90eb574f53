package model

import "time"

const (
	MemberActive   = "active"
	MemberInactive = "inactive"
	MemberVisitor  = "visitor"
)

type Member struct {
	ID        int64     `json:"id"`
	ChurchID  int64     `json:"church_id"`
	BranchID  int64     `json:"branch_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"`
	JoinedOn  string    `json:"joined_on"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
