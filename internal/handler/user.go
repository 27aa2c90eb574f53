package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/flock/internal/account"
	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/store"
)

// UserLister lists the logins of a church.
type UserLister interface {
	ListByChurch(ctx context.Context, churchID int64) ([]model.User, error)
}

// Welcomer notifies a newly created login. Optional.
type Welcomer interface {
	SendWelcome(ctx context.Context, toEmail, name, churchName string) error
}

type UserHandler struct {
	svc      *account.Service
	users    UserLister
	churches *store.ChurchStore
	welcomer Welcomer
	logger   *slog.Logger
}

func NewUserHandler(svc *account.Service, users UserLister, cs *store.ChurchStore, welcomer Welcomer, logger *slog.Logger) *UserHandler {
	return &UserHandler{svc: svc, users: users, churches: cs, welcomer: welcomer, logger: logger}
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
	BranchID *int64 `json:"branch_id"`
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListByChurch(r.Context(), auth.ChurchID(r.Context()))
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", users)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	churchID := auth.ChurchID(ctx)

	church, err := h.churches.GetByID(ctx, churchID)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if church == nil {
		notFound(w)
		return
	}
	if req.BranchID != nil {
		b, err := h.churches.GetBranch(ctx, churchID, *req.BranchID)
		if err != nil {
			respondInternal(w, r, h.logger, err)
			return
		}
		if b == nil {
			badRequest(w, "branch_id does not exist")
			return
		}
	}

	u, err := h.svc.CreateUser(ctx, &model.User{
		ChurchID: churchID,
		BranchID: req.BranchID,
		Email:    req.Email,
		Name:     req.Name,
		Role:     req.Role,
	}, req.Password)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	if h.welcomer != nil {
		if err := h.welcomer.SendWelcome(ctx, u.Email, u.Name, church.Name); err != nil {
			h.logger.Warn("send welcome email", "user_id", u.ID, "error", err)
		}
	}
	respondOK(w, http.StatusCreated, "User created", u)
}
