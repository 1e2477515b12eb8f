// Package counters owns the aggregate counter documents: yay/nay totals,
// vote metadata, and per-attribute tally buckets. All mutations are expressed
// as document op batches so a logical change is always one atomic write, and
// so callers can commit counter ops together with ledger ops.
package counters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/opinionpulse/internal/docstore"
	"github.com/pscheid92/opinionpulse/internal/domain"
)

// Field names on item aggregate documents.
const (
	FieldYayCount       = "yayCount"
	FieldNayCount       = "nayCount"
	FieldTotalVotes     = "totalVotes"
	FieldUniqueVoters   = "uniqueVoters"
	FieldLastVoteAt     = "lastVoteAt"
	FieldLastMutationID = "lastMutationId"
)

func voteField(isYay bool) string {
	if isYay {
		return FieldYayCount
	}
	return FieldNayCount
}

// AttributePath returns the tally document path for one facet of an item.
func AttributePath(ref domain.ItemRef, attribute string) string {
	return ref.DocPath() + "/attributes/" + attribute
}

// VoteDeltaOps adjusts a single yay or nay counter.
func VoteDeltaOps(ref domain.ItemRef, isYay bool, delta int64) []docstore.Op {
	return []docstore.Op{
		docstore.Increment(ref.DocPath(), voteField(isYay), delta),
	}
}

// VoteChangeOps moves one vote from one side to the other. Both field
// adjustments belong to the same batch so no reader can observe the change
// half-applied.
func VoteChangeOps(ref domain.ItemRef, from, to bool) []docstore.Op {
	if from == to {
		return nil
	}
	return []docstore.Op{
		docstore.Increment(ref.DocPath(), voteField(from), -1),
		docstore.Increment(ref.DocPath(), voteField(to), +1),
	}
}

// MetadataTouchOps updates lastVoteAt and stamps the mutation correlation id.
// totalVotes and uniqueVoters move only on a user's first vote for the item;
// vote changes must never re-increment them.
func MetadataTouchOps(ref domain.ItemRef, now time.Time, firstVote bool, correlationID uuid.UUID) []docstore.Op {
	ops := []docstore.Op{
		docstore.SetMerge(ref.DocPath(), map[string]any{
			FieldLastVoteAt:     now,
			FieldLastMutationID: correlationID,
		}),
	}
	if firstVote {
		ops = append(ops,
			docstore.Increment(ref.DocPath(), FieldTotalVotes, 1),
			docstore.Increment(ref.DocPath(), FieldUniqueVoters, 1),
		)
	}
	return ops
}

// AttributeVoteOps adjusts an independent per-attribute tally bucket.
func AttributeVoteOps(ref domain.ItemRef, attribute string, isYay bool) []docstore.Op {
	return []docstore.Op{
		docstore.Increment(AttributePath(ref, attribute), voteField(isYay), 1),
	}
}

// Store submits counter batches and maps transport failures to the
// store-unavailable error the engines report to callers.
type Store struct {
	docs docstore.Store
}

func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs}
}

// Submit applies a batch atomically. On failure the caller must assume
// nothing was written.
func (s *Store) Submit(ctx context.Context, ops []docstore.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := s.docs.AtomicWrite(ctx, ops); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ApplyVoteDelta adjusts one counter by ±1 as a standalone write.
func (s *Store) ApplyVoteDelta(ctx context.Context, ref domain.ItemRef, isYay bool, delta int64) error {
	return s.Submit(ctx, VoteDeltaOps(ref, isYay, delta))
}

// ApplyVoteChange swaps a vote from one side to the other atomically.
func (s *Store) ApplyVoteChange(ctx context.Context, ref domain.ItemRef, from, to bool) error {
	return s.Submit(ctx, VoteChangeOps(ref, from, to))
}

// ApplyAttributeVote records a yay/nay on a named facet of the item.
func (s *Store) ApplyAttributeVote(ctx context.Context, ref domain.ItemRef, attribute string, isYay bool) error {
	return s.Submit(ctx, AttributeVoteOps(ref, attribute, isYay))
}

// GetAttributeTally reads one facet bucket.
func (s *Store) GetAttributeTally(ctx context.Context, ref domain.ItemRef, attribute string) (domain.AttributeVoteTally, error) {
	snap, err := s.docs.Get(ctx, AttributePath(ref, attribute))
	if err != nil {
		return domain.AttributeVoteTally{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return domain.AttributeVoteTally{
		ItemID:    ref.ItemID(),
		Attribute: attribute,
		YayCount:  docstore.Int64Field(snap, FieldYayCount),
		NayCount:  docstore.Int64Field(snap, FieldNayCount),
	}, nil
}

// DecodeItemView builds the aggregate view from an item document snapshot.
func DecodeItemView(ref domain.ItemRef, snap docstore.Snapshot) domain.ItemAggregateView {
	return domain.ItemAggregateView{
		Ref:      ref,
		YayCount: docstore.Int64Field(snap, FieldYayCount),
		NayCount: docstore.Int64Field(snap, FieldNayCount),
		Metadata: domain.VotesMetadata{
			LastVoteAt:   docstore.TimeField(snap, FieldLastVoteAt),
			TotalVotes:   docstore.Int64Field(snap, FieldTotalVotes),
			UniqueVoters: docstore.Int64Field(snap, FieldUniqueVoters),
		},
	}
}
