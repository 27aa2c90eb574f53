package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/push"
	"github.com/dukerupert/flock/internal/store"
)

type PushHandler struct {
	subs    *store.PushStore
	service *push.Service
	logger  *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc *push.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{subs: ps, service: svc, logger: logger}
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	respondOK(w, http.StatusOK, "", map[string]string{"public_key": h.service.VAPIDPublicKey()})
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscriptions. The subscription follows
// the caller's branch; church-wide callers receive every message.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if !strings.HasPrefix(req.Endpoint, "https://") || req.P256dh == "" || req.Auth == "" {
		badRequest(w, "https endpoint, p256dh, and auth are required")
		return
	}

	ac, _ := auth.FromContext(r.Context())
	sub := &model.PushSubscription{
		ChurchID:   ac.ChurchID,
		UserID:     ac.UserID,
		Endpoint:   req.Endpoint,
		P256dhKey:  req.P256dh,
		AuthKey:    req.Auth,
		DeviceName: strings.TrimSpace(req.DeviceName),
	}
	if ac.Role != model.RoleAdmin && ac.BranchID != 0 {
		b := ac.BranchID
		sub.BranchID = &b
	}

	saved, err := h.subs.Upsert(r.Context(), sub)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, "Subscribed", saved)
}

// List handles GET /api/push/subscriptions
func (h *PushHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subs, err := h.subs.ListByUser(ctx, auth.ChurchID(ctx), auth.UserID(ctx))
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", subs)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.subs.Delete(ctx, auth.ChurchID(ctx), auth.UserID(ctx), id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Unsubscribed", nil)
}
