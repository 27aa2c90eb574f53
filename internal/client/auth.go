package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dukerupert/flock/internal/model"
)

type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

type RegisterRequest struct {
	ChurchName    string `json:"church_name"`
	ChurchAddress string `json:"church_address,omitempty"`
	BranchName    string `json:"branch_name,omitempty"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
}

// VerifiedUser is the identity the server reads from a token.
type VerifiedUser struct {
	UserID   int64  `json:"userId"`
	ChurchID int64  `json:"churchId"`
	BranchID int64  `json:"branchId"`
	Role     string `json:"role"`
}

// Login authenticates and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	s, err := Mutate[Session](ctx, c, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	c.SetToken(s.Token)
	return &s, nil
}

// Register creates a church with its first admin and keeps the token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	s, err := Mutate[Session](ctx, c, http.MethodPost, "/auth/register", req)
	if err != nil {
		return nil, err
	}
	c.SetToken(s.Token)
	return &s, nil
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	_, err := Mutate[json.RawMessage](ctx, c, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email})
	return err
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	_, err := Mutate[json.RawMessage](ctx, c, http.MethodPost, "/auth/reset-password", map[string]string{
		"token":    token,
		"password": password,
	})
	return err
}

// Verify checks the held token. A 401 clears it.
func (c *Client) Verify(ctx context.Context) (*VerifiedUser, error) {
	resp, err := Query[struct {
		User VerifiedUser `json:"user"`
	}](ctx, c, "/auth/verify")
	if err != nil {
		if IsUnauthorized(err) {
			c.SetToken("")
		}
		return nil, err
	}
	return &resp.User, nil
}
