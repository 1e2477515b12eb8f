package counters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/opinionpulse/internal/docstore"
	"github.com/pscheid92/opinionpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRef() domain.ItemRef {
	return domain.ItemRef{CategoryID: uuid.New(), SubcategoryID: uuid.New()}
}

func TestVoteChangeOpsSameSideIsNoop(t *testing.T) {
	assert.Nil(t, VoteChangeOps(testRef(), true, true))
	assert.Nil(t, VoteChangeOps(testRef(), false, false))
}

func TestFirstVoteFlow(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := NewStore(docs)

	ref := testRef()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	correlationID := uuid.New()

	batch := VoteDeltaOps(ref, true, 1)
	batch = append(batch, MetadataTouchOps(ref, now, true, correlationID)...)
	require.NoError(t, store.Submit(ctx, batch))

	snap, err := docs.Get(ctx, ref.DocPath())
	require.NoError(t, err)

	view := DecodeItemView(ref, snap)
	assert.Equal(t, int64(1), view.YayCount)
	assert.Equal(t, int64(0), view.NayCount)
	assert.Equal(t, int64(1), view.Metadata.TotalVotes)
	assert.Equal(t, int64(1), view.Metadata.UniqueVoters)
	assert.True(t, view.Metadata.LastVoteAt.Equal(now))
}

func TestVoteChangeFlow(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := NewStore(docs)

	ref := testRef()
	t0 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 8)

	batch := VoteDeltaOps(ref, true, 1)
	batch = append(batch, MetadataTouchOps(ref, t0, true, uuid.New())...)
	require.NoError(t, store.Submit(ctx, batch))

	// Changing sides swaps the counters but leaves totals alone.
	batch = VoteChangeOps(ref, true, false)
	batch = append(batch, MetadataTouchOps(ref, t1, false, uuid.New())...)
	require.NoError(t, store.Submit(ctx, batch))

	snap, err := docs.Get(ctx, ref.DocPath())
	require.NoError(t, err)

	view := DecodeItemView(ref, snap)
	assert.Equal(t, int64(0), view.YayCount)
	assert.Equal(t, int64(1), view.NayCount)
	assert.Equal(t, int64(1), view.Metadata.TotalVotes)
	assert.Equal(t, int64(1), view.Metadata.UniqueVoters)
	assert.True(t, view.Metadata.LastVoteAt.Equal(t1))
}

func TestSubmitEmptyBatch(t *testing.T) {
	store := NewStore(docstore.NewMemoryStore())
	require.NoError(t, store.Submit(context.Background(), nil))
}

func TestSubmitWrapsStoreUnavailable(t *testing.T) {
	store := NewStore(failingStore{err: errors.New("connection refused")})

	err := store.Submit(context.Background(), VoteDeltaOps(testRef(), true, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestAttributeVotes(t *testing.T) {
	ctx := context.Background()
	store := NewStore(docstore.NewMemoryStore())
	ref := testRef()

	require.NoError(t, store.ApplyAttributeVote(ctx, ref, "clarity", true))
	require.NoError(t, store.ApplyAttributeVote(ctx, ref, "clarity", true))
	require.NoError(t, store.ApplyAttributeVote(ctx, ref, "clarity", false))
	require.NoError(t, store.ApplyAttributeVote(ctx, ref, "relevance", false))

	tally, err := store.GetAttributeTally(ctx, ref, "clarity")
	require.NoError(t, err)
	assert.Equal(t, ref.ItemID(), tally.ItemID)
	assert.Equal(t, "clarity", tally.Attribute)
	assert.Equal(t, int64(2), tally.YayCount)
	assert.Equal(t, int64(1), tally.NayCount)

	tally, err = store.GetAttributeTally(ctx, ref, "relevance")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tally.YayCount)
	assert.Equal(t, int64(1), tally.NayCount)
}

func TestGetAttributeTallyMissingBucket(t *testing.T) {
	store := NewStore(docstore.NewMemoryStore())

	tally, err := store.GetAttributeTally(context.Background(), testRef(), "clarity")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tally.YayCount)
	assert.Equal(t, int64(0), tally.NayCount)
}

func TestDecodeItemViewEmptySnapshot(t *testing.T) {
	ref := testRef()
	view := DecodeItemView(ref, docstore.Snapshot{Path: ref.DocPath()})

	assert.Equal(t, ref, view.Ref)
	assert.Equal(t, int64(0), view.YayCount)
	assert.Equal(t, int64(0), view.NayCount)
	assert.True(t, view.Metadata.LastVoteAt.IsZero())
}

// failingStore rejects every write so error wrapping can be asserted.
type failingStore struct {
	docstore.Store
	err error
}

func (f failingStore) AtomicWrite(context.Context, []docstore.Op) error { return f.err }
