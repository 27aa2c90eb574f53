package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/flock/internal/account"
	"github.com/dukerupert/flock/internal/metrics"
	"github.com/dukerupert/flock/internal/middleware"
)

const forgotPasswordMessage = "If that email is registered, a password reset link has been sent."

type AuthHandler struct {
	svc     *account.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewAuthHandler(svc *account.Service, m *metrics.Metrics, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, metrics: m, logger: logger}
}

func (h *AuthHandler) record(op string, err error) {
	h.metrics.AuthOutcome(op, outcome(err))
}

func outcome(err error) string {
	var ve *account.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "invalid_input"
	case errors.Is(err, account.ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, account.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, account.ErrExpiredOrInvalidToken):
		return "invalid_reset_token"
	case errors.Is(err, account.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.Register(r.Context(), req)
	h.record("register", err)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, "Registration successful", sess)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	h.record("login", err)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Login successful", sess)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword answers identically whether or not the email exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.svc.ForgotPassword(r.Context(), req.Email)
	h.record("forgot_password", err)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, forgotPasswordMessage, nil)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.svc.ResetPassword(r.Context(), req.Token, req.Password)
	h.record("reset_password", err)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Password has been reset", nil)
}

type verifiedUser struct {
	UserID   int64  `json:"userId"`
	ChurchID int64  `json:"churchId"`
	BranchID int64  `json:"branchId,omitempty"`
	Role     string `json:"role"`
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.Verify(middleware.BearerToken(r))
	h.record("verify", err)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Token is valid", map[string]verifiedUser{
		"user": {UserID: id.UserID, ChurchID: id.ChurchID, BranchID: id.BranchID, Role: id.Role},
	})
}
