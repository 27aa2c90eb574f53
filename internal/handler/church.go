package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/store"
)

type ChurchHandler struct {
	churches *store.ChurchStore
	logger   *slog.Logger
}

func NewChurchHandler(cs *store.ChurchStore, logger *slog.Logger) *ChurchHandler {
	return &ChurchHandler{churches: cs, logger: logger}
}

type churchRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (h *ChurchHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.churches.GetByID(r.Context(), auth.ChurchID(r.Context()))
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if c == nil {
		notFound(w)
		return
	}
	respondOK(w, http.StatusOK, "", c)
}

func (h *ChurchHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req churchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	c, err := h.churches.Update(r.Context(), auth.ChurchID(r.Context()), req.Name, strings.TrimSpace(req.Address))
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Church updated", c)
}

func (h *ChurchHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.churches.ListBranches(r.Context(), auth.ChurchID(r.Context()))
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", branches)
}

func (h *ChurchHandler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	var req churchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	b, err := h.churches.CreateBranch(r.Context(), auth.ChurchID(r.Context()), req.Name, strings.TrimSpace(req.Address))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, "Branch created", b)
}

func (h *ChurchHandler) UpdateBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req churchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	b, err := h.churches.UpdateBranch(r.Context(), auth.ChurchID(r.Context()), id, req.Name, strings.TrimSpace(req.Address))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Branch updated", b)
}

func (h *ChurchHandler) DeleteBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.churches.DeleteBranch(r.Context(), auth.ChurchID(r.Context()), id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Branch deleted", nil)
}
