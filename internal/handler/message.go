package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/store"
	"github.com/dukerupert/flock/internal/websocket"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// MessageNotifier delivers a new message outside the API, e.g. as web push.
type MessageNotifier interface {
	NotifyMessage(ctx context.Context, msg *model.Message)
}

type MessageHandler struct {
	messages *store.MessageStore
	churches *store.ChurchStore
	hub      *websocket.Hub
	notifier MessageNotifier
	logger   *slog.Logger
}

func NewMessageHandler(ms *store.MessageStore, cs *store.ChurchStore, hub *websocket.Hub, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{messages: ms, churches: cs, hub: hub, logger: logger}
}

// SetNotifier enables out-of-band delivery for new messages.
func (h *MessageHandler) SetNotifier(n MessageNotifier) {
	h.notifier = n
}

// List returns the newest messages. Admins see everything unless they pass
// branch_id; everyone else sees church-wide messages plus their own branch.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := auth.FromContext(ctx)

	var branchID *int64
	if ac.Role == model.RoleAdmin {
		id, ok := queryID(r, "branch_id")
		if !ok {
			badRequest(w, "invalid branch_id")
			return
		}
		branchID = id
	} else {
		b := ac.BranchID
		branchID = &b
	}

	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxMessageLimit)
	}

	messages, err := h.messages.List(ctx, ac.ChurchID, branchID, limit)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", messages)
}

type messageRequest struct {
	BranchID *int64 `json:"branch_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Body = strings.TrimSpace(req.Body)
	if req.Subject == "" || req.Body == "" {
		badRequest(w, "subject and body are required")
		return
	}

	ctx := r.Context()
	churchID := auth.ChurchID(ctx)
	// Church-wide messages belong to church admins; branch admins post
	// only to their own branch.
	if req.BranchID == nil {
		if !auth.IsAdmin(ctx) {
			forbidden(w)
			return
		}
	} else {
		b, err := h.churches.GetBranch(ctx, churchID, *req.BranchID)
		if err != nil {
			respondInternal(w, r, h.logger, err)
			return
		}
		if b == nil {
			badRequest(w, "branch_id does not exist")
			return
		}
		if !auth.CanManageBranch(ctx, b.ID) {
			forbidden(w)
			return
		}
	}

	m, err := h.messages.Create(ctx, &model.Message{
		ChurchID: churchID,
		BranchID: req.BranchID,
		AuthorID: auth.UserID(ctx),
		Subject:  req.Subject,
		Body:     req.Body,
	})
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}

	if h.hub != nil {
		extra := map[string]any{"subject": m.Subject}
		if m.BranchID != nil {
			extra["branch_id"] = *m.BranchID
		}
		h.hub.BroadcastToBranch(churchID, m.BranchID, websocket.NewMessage("message", "created", m.ID, extra))
	}
	if h.notifier != nil {
		h.notifier.NotifyMessage(ctx, m)
	}
	respondOK(w, http.StatusCreated, "Message sent", m)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	m, err := h.messages.GetByID(ctx, auth.ChurchID(ctx), id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if m == nil {
		notFound(w)
		return
	}
	if m.AuthorID != auth.UserID(ctx) && !auth.IsAdmin(ctx) {
		forbidden(w)
		return
	}

	if err := h.messages.Delete(ctx, m.ChurchID, m.ID); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if h.hub != nil {
		h.hub.BroadcastToBranch(m.ChurchID, m.BranchID, websocket.NewMessage("message", "deleted", m.ID, nil))
	}
	respondOK(w, http.StatusOK, "Message deleted", nil)
}
