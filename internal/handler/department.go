package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/store"
)

type DepartmentHandler struct {
	departments *store.DepartmentStore
	members     *store.MemberStore
	logger      *slog.Logger
}

func NewDepartmentHandler(ds *store.DepartmentStore, ms *store.MemberStore, logger *slog.Logger) *DepartmentHandler {
	return &DepartmentHandler{departments: ds, members: ms, logger: logger}
}

type departmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LeaderID    *int64 `json:"leader_id"`
}

func (h *DepartmentHandler) List(w http.ResponseWriter, r *http.Request) {
	depts, err := h.departments.List(r.Context(), auth.ChurchID(r.Context()))
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", depts)
}

// readRequest decodes and checks a department body, including that the
// leader is a member of the caller's church.
func (h *DepartmentHandler) readRequest(w http.ResponseWriter, r *http.Request) (departmentRequest, bool) {
	var req departmentRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" {
		badRequest(w, "name is required")
		return req, false
	}
	if req.LeaderID != nil {
		m, err := h.members.GetByID(r.Context(), auth.ChurchID(r.Context()), *req.LeaderID)
		if err != nil {
			respondInternal(w, r, h.logger, err)
			return req, false
		}
		if m == nil {
			badRequest(w, "leader_id does not exist")
			return req, false
		}
	}
	return req, true
}

func (h *DepartmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	d, err := h.departments.Create(r.Context(), auth.ChurchID(r.Context()), req.Name, req.Description, req.LeaderID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, "Department created", d)
}

func (h *DepartmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	d, err := h.departments.Update(r.Context(), auth.ChurchID(r.Context()), id, req.Name, req.Description, req.LeaderID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Department updated", d)
}

func (h *DepartmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.departments.Delete(r.Context(), auth.ChurchID(r.Context()), id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Department deleted", nil)
}

func (h *DepartmentHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	d, err := h.departments.GetByID(ctx, auth.ChurchID(ctx), id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if d == nil {
		notFound(w)
		return
	}
	members, err := h.departments.ListMembers(ctx, auth.ChurchID(ctx), id)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "", members)
}

// resolveMembership loads the department and member named in the path,
// both scoped to the caller's church, and checks branch rights on the member.
func (h *DepartmentHandler) resolveMembership(w http.ResponseWriter, r *http.Request) (deptID, memberID int64, ok bool) {
	if deptID, ok = pathID(w, r, "id"); !ok {
		return 0, 0, false
	}
	if memberID, ok = pathID(w, r, "member_id"); !ok {
		return 0, 0, false
	}
	ctx := r.Context()
	churchID := auth.ChurchID(ctx)

	d, err := h.departments.GetByID(ctx, churchID, deptID)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return 0, 0, false
	}
	m, err := h.members.GetByID(ctx, churchID, memberID)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return 0, 0, false
	}
	if d == nil || m == nil {
		notFound(w)
		return 0, 0, false
	}
	if !auth.CanManageBranch(ctx, m.BranchID) {
		forbidden(w)
		return 0, 0, false
	}
	return deptID, memberID, true
}

func (h *DepartmentHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	deptID, memberID, ok := h.resolveMembership(w, r)
	if !ok {
		return
	}
	if err := h.departments.AddMember(r.Context(), deptID, memberID); err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Member added to department", nil)
}

func (h *DepartmentHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	deptID, memberID, ok := h.resolveMembership(w, r)
	if !ok {
		return
	}
	if err := h.departments.RemoveMember(r.Context(), deptID, memberID); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, "Member removed from department", nil)
}
