package auth

import (
	"context"

	"github.com/dukerupert/flock/internal/model"
)

type contextKey struct{}

// AuthContext is the verified identity attached to a request.
type AuthContext struct {
	UserID   int64
	ChurchID int64
	BranchID int64
	Role     string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func ChurchID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.ChurchID
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == model.RoleAdmin
}

// CanManageBranch reports whether the caller may write records in branchID.
// Church admins manage every branch, branch admins only their own.
func CanManageBranch(ctx context.Context, branchID int64) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	switch ac.Role {
	case model.RoleAdmin:
		return true
	case model.RoleBranchAdmin:
		return ac.BranchID != 0 && ac.BranchID == branchID
	}
	return false
}

// IsStaff reports whether the caller is an admin or a branch admin.
func IsStaff(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == model.RoleAdmin || ac.Role == model.RoleBranchAdmin
}
