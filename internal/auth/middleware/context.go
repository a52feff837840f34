package auth

import (
	"context"

	"github.com/mind-engage/mindengage-classroom/internal/rbac"
)

// Identity is the authenticated caller as set by JWTMiddleware.
type Identity struct {
	ID   string
	Role string
}

func FromContext(ctx context.Context) Identity {
	return Identity{ID: rbac.SubjectFromContext(ctx), Role: rbac.RoleFromContext(ctx)}
}

func (i Identity) IsTeacher() bool { return i.Role == "teacher" || i.Role == "admin" }
