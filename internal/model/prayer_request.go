package model

import "time"

type PrayerRequest struct {
	ID        int64     `json:"id"`
	ChurchID  int64     `json:"church_id"`
	AuthorID  int64     `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IsPrivate bool      `json:"is_private"`
	Answered  bool      `json:"answered"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChurchID  int64     `json:"church_id"`
	BranchID  *int64    `json:"branch_id"`
	AuthorID  int64     `json:"author_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
