// Package ledger owns the per-(user,item) vote records. A record's existence
// is the witness that the user has voted on the item; its timestamp feeds the
// cooldown check and its value drives vote-change delta computation.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/opinionpulse/internal/docstore"
	"github.com/pscheid92/opinionpulse/internal/domain"
)

// Field names on vote record documents.
const (
	fieldIsYay        = "isYay"
	fieldTimestamp    = "timestamp"
	fieldPreviousVote = "previousVote"
	fieldLastChangeAt = "lastChangeAt"
)

// VotePath returns the document path of the vote record for (user, item).
func VotePath(ref domain.ItemRef, userID uuid.UUID) string {
	return ref.DocPath() + "/votes/" + userID.String()
}

// Ledger reads and writes vote records. Upsert ops are returned as a batch so
// the caller commits them atomically together with the counter ops; a ledger
// write without the matching counter adjustment is a correctness bug.
type Ledger struct {
	docs docstore.Store
}

func New(docs docstore.Store) *Ledger {
	return &Ledger{docs: docs}
}

// GetVote returns the live vote record for (user, item), or nil if the user
// has never voted on it.
func (l *Ledger) GetVote(ctx context.Context, userID uuid.UUID, ref domain.ItemRef) (*domain.VoteRecord, error) {
	snap, err := l.docs.Get(ctx, VotePath(ref, userID))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if !snap.Exists {
		return nil, nil
	}
	return decodeRecord(userID, ref, snap), nil
}

// UpsertOps builds the record write for a vote. With no previous record the
// insert carries a null previousVote; with a changed value the old vote moves
// into previousVote and lastChangeAt is stamped. A same-value recast only
// refreshes the timestamp.
func UpsertOps(ref domain.ItemRef, userID uuid.UUID, isYay bool, now time.Time, previous *domain.VoteRecord) ([]docstore.Op, domain.VoteRecord) {
	record := domain.VoteRecord{
		UserID:    userID,
		ItemID:    ref.ItemID(),
		IsYay:     isYay,
		Timestamp: now,
	}

	fields := map[string]any{
		fieldIsYay:     isYay,
		fieldTimestamp: now,
	}

	if previous != nil {
		record.PreviousVote = previous.PreviousVote
		record.LastChangeAt = previous.LastChangeAt
		if previous.IsYay != isYay {
			old := previous.IsYay
			changeAt := now
			record.PreviousVote = &old
			record.LastChangeAt = &changeAt
			fields[fieldPreviousVote] = old
			fields[fieldLastChangeAt] = changeAt
		}
	}

	return []docstore.Op{docstore.SetMerge(VotePath(ref, userID), fields)}, record
}

func decodeRecord(userID uuid.UUID, ref domain.ItemRef, snap docstore.Snapshot) *domain.VoteRecord {
	record := &domain.VoteRecord{
		UserID:    userID,
		ItemID:    ref.ItemID(),
		Timestamp: docstore.TimeField(snap, fieldTimestamp),
	}
	record.IsYay, _ = docstore.BoolField(snap, fieldIsYay)

	if prev, ok := docstore.BoolField(snap, fieldPreviousVote); ok {
		record.PreviousVote = &prev
	}
	if changeAt := docstore.TimeField(snap, fieldLastChangeAt); !changeAt.IsZero() {
		record.LastChangeAt = &changeAt
	}
	return record
}
