package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/store"
	"github.com/dukerupert/flock/internal/websocket"
)

type PrayerRequestHandler struct {
	requests *store.PrayerRequestStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewPrayerRequestHandler(ps *store.PrayerRequestStore, hub *websocket.Hub, logger *slog.Logger) *PrayerRequestHandler {
	return &PrayerRequestHandler{requests: ps, hub: hub, logger: logger}
}

type prayerRequestRequest struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	IsPrivate bool   `json:"is_private"`
}

func (h *PrayerRequestHandler) broadcast(churchID int64, action string, id int64) {
	if h.hub != nil {
		h.hub.Broadcast(churchID, websocket.NewMessage("prayer_request", action, id, nil))
	}
}

func (h *PrayerRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requests, err := h.requests.List(ctx, auth.ChurchID(ctx), auth.UserID(ctx), auth.IsAdmin(ctx))
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", requests)
}

func (h *PrayerRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req prayerRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		badRequest(w, "title is required")
		return
	}

	ctx := r.Context()
	p, err := h.requests.Create(ctx, auth.ChurchID(ctx), auth.UserID(ctx), req.Title, strings.TrimSpace(req.Body), req.IsPrivate)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if !p.IsPrivate {
		h.broadcast(p.ChurchID, "created", p.ID)
	}
	respondOK(w, http.StatusCreated, "Prayer request created", p)
}

// owned loads a request the caller may change: its author or an admin.
// Private requests of other users are reported as missing.
func (h *PrayerRequestHandler) owned(w http.ResponseWriter, r *http.Request) (*model.PrayerRequest, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	ctx := r.Context()
	p, err := h.requests.GetByID(ctx, auth.ChurchID(ctx), id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return nil, false
	}
	isAuthor := p != nil && p.AuthorID == auth.UserID(ctx)
	if p == nil || (p.IsPrivate && !isAuthor && !auth.IsAdmin(ctx)) {
		notFound(w)
		return nil, false
	}
	if !isAuthor && !auth.IsAdmin(ctx) {
		forbidden(w)
		return nil, false
	}
	return p, true
}

func (h *PrayerRequestHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req prayerRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		badRequest(w, "title is required")
		return
	}

	p, err := h.requests.Update(r.Context(), existing.ChurchID, existing.ID, req.Title, strings.TrimSpace(req.Body), req.IsPrivate)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.broadcast(p.ChurchID, "updated", p.ID)
	respondOK(w, http.StatusOK, "Prayer request updated", p)
}

func (h *PrayerRequestHandler) ToggleAnswered(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.owned(w, r)
	if !ok {
		return
	}
	p, err := h.requests.ToggleAnswered(r.Context(), existing.ChurchID, existing.ID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.broadcast(p.ChurchID, "updated", p.ID)
	respondOK(w, http.StatusOK, "", p)
}

func (h *PrayerRequestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.requests.Delete(r.Context(), existing.ChurchID, existing.ID); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.broadcast(existing.ChurchID, "deleted", existing.ID)
	respondOK(w, http.StatusOK, "Prayer request deleted", nil)
}
