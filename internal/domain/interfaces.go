package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Identity resolves the calling user. Implemented by the HTTP session layer;
// tests use a static provider.
type Identity interface {
	CurrentUserID(ctx context.Context) (uuid.UUID, bool)
}

// CooldownMarkerStore persists per-(user,item) last-vote timestamps so the
// local eligibility check works before the authoritative vote record has
// round-tripped, and across process restarts.
type CooldownMarkerStore interface {
	Get(ctx context.Context, userID, itemID uuid.UUID) (time.Time, bool, error)
	Set(ctx context.Context, userID, itemID uuid.UUID, lastVoteAt time.Time) error
}

// ProfileRepository reads user display fields for comment denormalization.
type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error)
}

// CatalogRepository reads the topic hierarchy. The hierarchy is managed by
// external admin tooling; this service only reads it.
type CatalogRepository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListSubcategories(ctx context.Context, categoryID uuid.UUID) ([]Subcategory, error)
	ListSubQuestions(ctx context.Context, subcategoryID uuid.UUID) ([]SubQuestion, error)
	ResolveItem(ctx context.Context, itemID uuid.UUID) (ItemRef, error)
}

// ProjectionNotifier receives the merged projection whenever it changes.
// The websocket broadcaster implements this.
type ProjectionNotifier interface {
	NotifyItem(itemID uuid.UUID, view ItemAggregateView)
}
