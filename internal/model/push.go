package model

import "time"

// PushSubscription is one browser registered for web push. The keys are
// the browser's, not secrets of ours, but are still never returned.
type PushSubscription struct {
	ID         int64     `json:"id"`
	ChurchID   int64     `json:"church_id"`
	UserID     int64     `json:"user_id"`
	BranchID   *int64    `json:"branch_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"-"`
	AuthKey    string    `json:"-"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}
