// Package identity resolves the calling user. The HTTP layer stores the
// session's user id on the request context; the engines read it back through
// the domain.Identity contract.
package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/pscheid92/opinionpulse/internal/domain"
)

type contextKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// FromContext reads the authenticated user id off the context.
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return userID, ok
}

// ContextIdentity resolves the user from the request context.
type ContextIdentity struct{}

var _ domain.Identity = ContextIdentity{}

func (ContextIdentity) CurrentUserID(ctx context.Context) (uuid.UUID, bool) {
	return FromContext(ctx)
}

// Static always resolves to a fixed user. Used by tests.
type Static struct {
	ID uuid.UUID
}

var _ domain.Identity = Static{}

func (s Static) CurrentUserID(context.Context) (uuid.UUID, bool) {
	if s.ID == uuid.Nil {
		return uuid.Nil, false
	}
	return s.ID, true
}
