package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/opinionpulse/internal/domain"
)

type markerKey struct {
	UserID uuid.UUID
	ItemID uuid.UUID
}

// MemoryMarkerStore keeps cooldown markers in process memory. Used in
// single-instance mode and tests; markers do not survive restarts, in which
// case the vote ledger remains the authoritative fallback.
type MemoryMarkerStore struct {
	mu      sync.Mutex
	markers map[markerKey]time.Time
}

var _ domain.CooldownMarkerStore = (*MemoryMarkerStore)(nil)

func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: make(map[markerKey]time.Time)}
}

func (s *MemoryMarkerStore) Get(_ context.Context, userID, itemID uuid.UUID) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.markers[markerKey{UserID: userID, ItemID: itemID}]
	return t, ok, nil
}

func (s *MemoryMarkerStore) Set(_ context.Context, userID, itemID uuid.UUID, lastVoteAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[markerKey{UserID: userID, ItemID: itemID}] = lastVoteAt
	return nil
}
