package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/store"
)

type MemberHandler struct {
	members  *store.MemberStore
	churches *store.ChurchStore
	logger   *slog.Logger
}

func NewMemberHandler(ms *store.MemberStore, cs *store.ChurchStore, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{members: ms, churches: cs, logger: logger}
}

var validMemberStatuses = map[string]bool{
	model.MemberActive:   true,
	model.MemberInactive: true,
	model.MemberVisitor:  true,
}

type memberRequest struct {
	BranchID  int64  `json:"branch_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Status    string `json:"status"`
	JoinedOn  string `json:"joined_on"`
}

// validate normalises req and reports the first problem, or "".
func (req *memberRequest) validate() string {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)

	if req.FirstName == "" {
		return "first_name is required"
	}
	if req.BranchID <= 0 {
		return "branch_id is required"
	}
	if req.Status == "" {
		req.Status = model.MemberActive
	}
	if !validMemberStatuses[req.Status] {
		return "status must be active, inactive, or visitor"
	}
	if req.JoinedOn != "" && !validDate(req.JoinedOn) {
		return "joined_on must be YYYY-MM-DD"
	}
	return ""
}

// checkBranch confirms branchID belongs to the caller's church and that the
// caller may write there.
func (h *MemberHandler) checkBranch(w http.ResponseWriter, r *http.Request, branchID int64) bool {
	b, err := h.churches.GetBranch(r.Context(), auth.ChurchID(r.Context()), branchID)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return false
	}
	if b == nil {
		badRequest(w, "branch_id does not exist")
		return false
	}
	if !auth.CanManageBranch(r.Context(), branchID) {
		forbidden(w)
		return false
	}
	return true
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	branchID, ok := queryID(r, "branch_id")
	if !ok {
		badRequest(w, "invalid branch_id")
		return
	}
	members, err := h.members.List(r.Context(), auth.ChurchID(r.Context()), branchID)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", members)
}

func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.members.GetByID(r.Context(), auth.ChurchID(r.Context()), id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if m == nil {
		notFound(w)
		return
	}
	respondOK(w, http.StatusOK, "", m)
}

func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		badRequest(w, msg)
		return
	}
	if !h.checkBranch(w, r, req.BranchID) {
		return
	}

	m, err := h.members.Create(r.Context(), &model.Member{
		ChurchID:  auth.ChurchID(r.Context()),
		BranchID:  req.BranchID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Status:    req.Status,
		JoinedOn:  req.JoinedOn,
	})
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, "Member created", m)
}

func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		badRequest(w, msg)
		return
	}

	ctx := r.Context()
	existing, err := h.members.GetByID(ctx, auth.ChurchID(ctx), id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if existing == nil {
		notFound(w)
		return
	}
	// Moving a member needs rights on both branches.
	if !auth.CanManageBranch(ctx, existing.BranchID) {
		forbidden(w)
		return
	}
	if !h.checkBranch(w, r, req.BranchID) {
		return
	}

	existing.BranchID = req.BranchID
	existing.FirstName = req.FirstName
	existing.LastName = req.LastName
	existing.Email = req.Email
	existing.Phone = req.Phone
	existing.Status = req.Status
	existing.JoinedOn = req.JoinedOn

	m, err := h.members.Update(ctx, existing)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Member updated", m)
}

func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	existing, err := h.members.GetByID(ctx, auth.ChurchID(ctx), id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if existing == nil {
		notFound(w)
		return
	}
	if !auth.CanManageBranch(ctx, existing.BranchID) {
		forbidden(w)
		return
	}

	if err := h.members.Delete(ctx, auth.ChurchID(ctx), id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Member deleted", nil)
}
