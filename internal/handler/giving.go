package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/store"
)

var validOfferingKinds = map[string]bool{
	"tithe":    true,
	"offering": true,
	"donation": true,
	"other":    true,
}

type GivingHandler struct {
	giving   *store.GivingStore
	members  *store.MemberStore
	churches *store.ChurchStore
	logger   *slog.Logger
}

func NewGivingHandler(gs *store.GivingStore, ms *store.MemberStore, cs *store.ChurchStore, logger *slog.Logger) *GivingHandler {
	return &GivingHandler{giving: gs, members: ms, churches: cs, logger: logger}
}

// memberInChurch writes a 400 and returns false when id names no member of
// the caller's church. A nil id is always accepted.
func (h *GivingHandler) memberInChurch(w http.ResponseWriter, r *http.Request, id *int64) bool {
	if id == nil {
		return true
	}
	m, err := h.members.GetByID(r.Context(), auth.ChurchID(r.Context()), *id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return false
	}
	if m == nil {
		badRequest(w, "member_id does not exist")
		return false
	}
	return true
}

// offeringFilter reads branch_id, from and to from the query string.
func offeringFilter(w http.ResponseWriter, r *http.Request) (store.OfferingFilter, bool) {
	q := r.URL.Query()
	f := store.OfferingFilter{From: q.Get("from"), To: q.Get("to")}
	branchID, ok := queryID(r, "branch_id")
	if !ok {
		badRequest(w, "invalid branch_id")
		return f, false
	}
	f.BranchID = branchID
	if f.From != "" && !validDate(f.From) {
		badRequest(w, "from must be YYYY-MM-DD")
		return f, false
	}
	if f.To != "" && !validDate(f.To) {
		badRequest(w, "to must be YYYY-MM-DD")
		return f, false
	}
	return f, true
}

func (h *GivingHandler) ListOfferings(w http.ResponseWriter, r *http.Request) {
	f, ok := offeringFilter(w, r)
	if !ok {
		return
	}
	offerings, err := h.giving.ListOfferings(r.Context(), auth.ChurchID(r.Context()), f)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", offerings)
}

func (h *GivingHandler) Summary(w http.ResponseWriter, r *http.Request) {
	f, ok := offeringFilter(w, r)
	if !ok {
		return
	}
	totals, err := h.giving.Summary(r.Context(), auth.ChurchID(r.Context()), f)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", totals)
}

type offeringRequest struct {
	BranchID    int64  `json:"branch_id"`
	MemberID    *int64 `json:"member_id"`
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	GivenOn     string `json:"given_on"`
	Note        string `json:"note"`
}

func (h *GivingHandler) CreateOffering(w http.ResponseWriter, r *http.Request) {
	var req offeringRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch {
	case req.BranchID <= 0:
		badRequest(w, "branch_id is required")
		return
	case !validOfferingKinds[req.Kind]:
		badRequest(w, "kind must be tithe, offering, donation, or other")
		return
	case req.AmountCents <= 0:
		badRequest(w, "amount_cents must be positive")
		return
	case !validDate(req.GivenOn):
		badRequest(w, "given_on must be YYYY-MM-DD")
		return
	}

	ctx := r.Context()
	churchID := auth.ChurchID(ctx)
	b, err := h.churches.GetBranch(ctx, churchID, req.BranchID)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if b == nil {
		badRequest(w, "branch_id does not exist")
		return
	}
	if !auth.CanManageBranch(ctx, req.BranchID) {
		forbidden(w)
		return
	}
	if !h.memberInChurch(w, r, req.MemberID) {
		return
	}

	o, err := h.giving.CreateOffering(ctx, &model.Offering{
		ChurchID:    churchID,
		BranchID:    req.BranchID,
		MemberID:    req.MemberID,
		Kind:        req.Kind,
		AmountCents: req.AmountCents,
		GivenOn:     req.GivenOn,
		Note:        strings.TrimSpace(req.Note),
		RecordedBy:  auth.UserID(ctx),
	})
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, "Offering recorded", o)
}

func (h *GivingHandler) DeleteOffering(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	o, err := h.giving.GetOffering(ctx, auth.ChurchID(ctx), id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if o == nil {
		notFound(w)
		return
	}
	if !auth.CanManageBranch(ctx, o.BranchID) {
		forbidden(w)
		return
	}
	if err := h.giving.DeleteOffering(ctx, o.ChurchID, o.ID); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Offering deleted", nil)
}

type pledgeRequest struct {
	MemberID    *int64 `json:"member_id"`
	Title       string `json:"title"`
	AmountCents int64  `json:"amount_cents"`
	DueOn       string `json:"due_on"`
	Status      string `json:"status"`
}

func (req *pledgeRequest) validate() string {
	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.Title == "":
		return "title is required"
	case req.AmountCents <= 0:
		return "amount_cents must be positive"
	case req.DueOn != "" && !validDate(req.DueOn):
		return "due_on must be YYYY-MM-DD"
	}
	switch req.Status {
	case "", model.PledgeOpen, model.PledgeFulfilled, model.PledgeCancelled:
		return ""
	}
	return "status must be open, fulfilled, or cancelled"
}

func (h *GivingHandler) ListPledges(w http.ResponseWriter, r *http.Request) {
	pledges, err := h.giving.ListPledges(r.Context(), auth.ChurchID(r.Context()))
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", pledges)
}

func (h *GivingHandler) CreatePledge(w http.ResponseWriter, r *http.Request) {
	var req pledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		badRequest(w, msg)
		return
	}
	if !h.memberInChurch(w, r, req.MemberID) {
		return
	}

	p, err := h.giving.CreatePledge(r.Context(), &model.Pledge{
		ChurchID:    auth.ChurchID(r.Context()),
		MemberID:    req.MemberID,
		Title:       req.Title,
		AmountCents: req.AmountCents,
		DueOn:       req.DueOn,
	})
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, "Pledge created", p)
}

func (h *GivingHandler) UpdatePledge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req pledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		badRequest(w, msg)
		return
	}
	if !h.memberInChurch(w, r, req.MemberID) {
		return
	}

	p, err := h.giving.UpdatePledge(r.Context(), &model.Pledge{
		ID:          id,
		ChurchID:    auth.ChurchID(r.Context()),
		MemberID:    req.MemberID,
		Title:       req.Title,
		AmountCents: req.AmountCents,
		DueOn:       req.DueOn,
		Status:      req.Status,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Pledge updated", p)
}

func (h *GivingHandler) DeletePledge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.giving.DeletePledge(r.Context(), auth.ChurchID(r.Context()), id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Pledge deleted", nil)
}

func (h *GivingHandler) AddPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AmountCents <= 0 {
		badRequest(w, "amount_cents must be positive")
		return
	}

	p, err := h.giving.AddPayment(r.Context(), auth.ChurchID(r.Context()), id, req.AmountCents)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Payment recorded", p)
}
