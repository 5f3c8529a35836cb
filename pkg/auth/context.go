package auth

import (
	"context"
	"time"
)

// Context is the authenticated caller as established by the session layer.
type Context struct {
	UserID    string
	Roles     []string
	Scopes    []string
	JWTID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// ReviewCategoryIDs lists the categories the caller reviews as a group member.
	ReviewCategoryIDs []int64
}

// Guest returns the unauthenticated caller.
func Guest() *Context {
	return &Context{Roles: []string{"guest"}}
}

// IsGuest reports whether the caller is not logged in.
func (c *Context) IsGuest() bool {
	return c == nil || c.UserID == ""
}

type contextKey struct{}

// NewContext returns a new context with the given AuthContext.
func NewContext(ctx context.Context, authCtx *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, authCtx)
}

// FromContext returns the caller stored on ctx, or a guest.
func FromContext(ctx context.Context) *Context {
	if authCtx, ok := ctx.Value(contextKey{}).(*Context); ok && authCtx != nil {
		return authCtx
	}
	return Guest()
}
