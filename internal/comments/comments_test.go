package comments

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/opinionpulse/internal/docstore"
	"github.com/pscheid92/opinionpulse/internal/domain"
	"github.com/pscheid92/opinionpulse/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfiles map[uuid.UUID]domain.Profile

func (f fakeProfiles) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.Profile, error) {
	profile, ok := f[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &profile, nil
}

// flakyStore lets tests fail the next atomic write while reads and
// subscriptions keep working.
type flakyStore struct {
	docstore.Store
	fail atomic.Bool
}

func (f *flakyStore) AtomicWrite(ctx context.Context, ops []docstore.Op) error {
	if f.fail.Load() {
		return errors.New("write refused")
	}
	return f.Store.AtomicWrite(ctx, ops)
}

type commentsFixture struct {
	engine   *Engine
	store    *flakyStore
	clock    *clockwork.FakeClock
	ref      domain.ItemRef
	author   uuid.UUID
	profiles fakeProfiles
}

func newCommentsFixture(t *testing.T) *commentsFixture {
	t.Helper()
	author := uuid.New()
	profiles := fakeProfiles{
		author: {UserID: author, DisplayName: "Ada", AvatarURL: "https://example.com/ada.png"},
	}
	store := &flakyStore{Store: docstore.NewMemoryStore()}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	engine := NewEngine(store, identity.ContextIdentity{}, profiles, clock)
	t.Cleanup(engine.Stop)

	ref := domain.ItemRef{CategoryID: uuid.New(), SubcategoryID: uuid.New()}
	engine.Subscribe(ref)

	return &commentsFixture{
		engine:   engine,
		store:    store,
		clock:    clock,
		ref:      ref,
		author:   author,
		profiles: profiles,
	}
}

func (f *commentsFixture) ctx() context.Context {
	return identity.WithUserID(context.Background(), f.author)
}

func (f *commentsFixture) add(t *testing.T, text string, parentID *uuid.UUID) domain.Comment {
	t.Helper()
	comment, err := f.engine.AddComment(f.ctx(), f.ref, text, parentID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	return comment
}

func (f *commentsFixture) waitThreads(t *testing.T, match func([]domain.CommentThread) bool) []domain.CommentThread {
	t.Helper()
	var threads []domain.CommentThread
	require.Eventually(t, func() bool {
		threads = f.engine.Threads(f.ref.ItemID())
		return match(threads)
	}, 2*time.Second, 5*time.Millisecond)
	return threads
}

func TestAddCommentUnauthenticated(t *testing.T) {
	f := newCommentsFixture(t)

	_, err := f.engine.AddComment(context.Background(), f.ref, "hello", nil)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestAddCommentDenormalizesProfile(t *testing.T) {
	f := newCommentsFixture(t)

	comment := f.add(t, "first", nil)
	assert.Equal(t, "Ada", comment.AuthorName)
	assert.Equal(t, "https://example.com/ada.png", comment.AuthorAvatarURL)
	assert.Equal(t, f.ref.ItemID(), comment.ItemID)
	assert.Nil(t, comment.ParentID)

	threads := f.waitThreads(t, func(ts []domain.CommentThread) bool { return len(ts) == 1 })
	assert.Equal(t, comment.ID, threads[0].Comment.ID)
	assert.Equal(t, "Ada", threads[0].Comment.AuthorName)
}

func TestAddCommentWithoutProfileStillPosts(t *testing.T) {
	f := newCommentsFixture(t)
	stranger := uuid.New()
	ctx := identity.WithUserID(context.Background(), stranger)

	comment, err := f.engine.AddComment(ctx, f.ref, "anonymous-ish", nil)
	require.NoError(t, err)
	assert.Empty(t, comment.AuthorName)
	assert.Empty(t, comment.AuthorAvatarURL)
}

func TestThreadsOrdering(t *testing.T) {
	f := newCommentsFixture(t)

	oldest := f.add(t, "oldest", nil)
	middle := f.add(t, "middle", nil)
	replyA := f.add(t, "reply a", &middle.ID)
	replyB := f.add(t, "reply b", &middle.ID)
	newest := f.add(t, "newest", nil)

	threads := f.waitThreads(t, func(ts []domain.CommentThread) bool { return len(ts) == 3 })

	// Top-level newest first.
	assert.Equal(t, newest.ID, threads[0].Comment.ID)
	assert.Equal(t, middle.ID, threads[1].Comment.ID)
	assert.Equal(t, oldest.ID, threads[2].Comment.ID)

	// Replies oldest first under their parent.
	require.Len(t, threads[1].Replies, 2)
	assert.Equal(t, replyA.ID, threads[1].Replies[0].ID)
	assert.Equal(t, replyB.ID, threads[1].Replies[1].ID)
	assert.Empty(t, threads[0].Replies)
	assert.Empty(t, threads[2].Replies)
}

func TestAddCommentRollbackOnFailedWrite(t *testing.T) {
	f := newCommentsFixture(t)

	f.store.fail.Store(true)
	_, err := f.engine.AddComment(f.ctx(), f.ref, "doomed", nil)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	f.store.fail.Store(false)

	assert.Empty(t, f.engine.Threads(f.ref.ItemID()))
}

func TestLikeCommentIdempotent(t *testing.T) {
	f := newCommentsFixture(t)
	comment := f.add(t, "likeable", nil)

	require.NoError(t, f.engine.LikeComment(f.ctx(), comment.ID))
	require.NoError(t, f.engine.LikeComment(f.ctx(), comment.ID))

	threads := f.waitThreads(t, func(ts []domain.CommentThread) bool {
		return len(ts) == 1 && ts[0].Comment.Likes == 1
	})
	assert.Equal(t, int64(1), threads[0].Comment.Likes)
	assert.True(t, threads[0].Comment.IsLikedBy(f.author))
}

func TestLikeCommentTwoUsers(t *testing.T) {
	f := newCommentsFixture(t)
	comment := f.add(t, "popular", nil)
	other := identity.WithUserID(context.Background(), uuid.New())

	require.NoError(t, f.engine.LikeComment(f.ctx(), comment.ID))
	require.NoError(t, f.engine.LikeComment(other, comment.ID))

	f.waitThreads(t, func(ts []domain.CommentThread) bool {
		return len(ts) == 1 && ts[0].Comment.Likes == 2
	})
}

func TestLikeCommentUnknown(t *testing.T) {
	f := newCommentsFixture(t)

	err := f.engine.LikeComment(f.ctx(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLikeCommentRollbackOnFailedWrite(t *testing.T) {
	f := newCommentsFixture(t)
	comment := f.add(t, "likeable", nil)

	f.store.fail.Store(true)
	err := f.engine.LikeComment(f.ctx(), comment.ID)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	f.store.fail.Store(false)

	threads := f.engine.Threads(f.ref.ItemID())
	require.Len(t, threads, 1)
	assert.Equal(t, int64(0), threads[0].Comment.Likes)
	assert.False(t, threads[0].Comment.IsLikedBy(f.author))
}

func TestDeleteCommentAuthorOnly(t *testing.T) {
	f := newCommentsFixture(t)
	comment := f.add(t, "mine", nil)
	other := identity.WithUserID(context.Background(), uuid.New())

	err := f.engine.DeleteComment(other, comment.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	threads := f.engine.Threads(f.ref.ItemID())
	assert.Len(t, threads, 1)
}

func TestDeleteTopLevelCascadesToReplies(t *testing.T) {
	f := newCommentsFixture(t)
	parent := f.add(t, "parent", nil)
	f.add(t, "reply 1", &parent.ID)
	f.add(t, "reply 2", &parent.ID)
	keeper := f.add(t, "unrelated", nil)

	require.NoError(t, f.engine.DeleteComment(f.ctx(), parent.ID))

	threads := f.waitThreads(t, func(ts []domain.CommentThread) bool { return len(ts) == 1 })
	assert.Equal(t, keeper.ID, threads[0].Comment.ID)
}

func TestDeleteReplyRemovesOnlyReply(t *testing.T) {
	f := newCommentsFixture(t)
	parent := f.add(t, "parent", nil)
	reply := f.add(t, "reply", &parent.ID)

	require.NoError(t, f.engine.DeleteComment(f.ctx(), reply.ID))

	threads := f.waitThreads(t, func(ts []domain.CommentThread) bool {
		return len(ts) == 1 && len(ts[0].Replies) == 0
	})
	assert.Equal(t, parent.ID, threads[0].Comment.ID)
}

func TestDeleteCommentRollbackOnFailedWrite(t *testing.T) {
	f := newCommentsFixture(t)
	parent := f.add(t, "parent", nil)
	f.add(t, "reply", &parent.ID)

	f.store.fail.Store(true)
	err := f.engine.DeleteComment(f.ctx(), parent.ID)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	f.store.fail.Store(false)

	threads := f.engine.Threads(f.ref.ItemID())
	require.Len(t, threads, 1)
	assert.Equal(t, parent.ID, threads[0].Comment.ID)
	assert.Len(t, threads[0].Replies, 1)

	// A failed delete leaves nothing to undo.
	_, err = f.engine.UndoDelete(f.ctx())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUndoDeleteRestoresParentOnly(t *testing.T) {
	f := newCommentsFixture(t)
	parent := f.add(t, "parent", nil)
	f.add(t, "reply", &parent.ID)

	require.NoError(t, f.engine.DeleteComment(f.ctx(), parent.ID))
	f.waitThreads(t, func(ts []domain.CommentThread) bool { return len(ts) == 0 })

	restored, err := f.engine.UndoDelete(f.ctx())
	require.NoError(t, err)
	assert.Equal(t, parent.ID, restored.ID)

	// Cascaded replies stay gone.
	threads := f.waitThreads(t, func(ts []domain.CommentThread) bool { return len(ts) == 1 })
	assert.Equal(t, parent.ID, threads[0].Comment.ID)
	assert.Empty(t, threads[0].Replies)
}

func TestUndoDeleteSingleUse(t *testing.T) {
	f := newCommentsFixture(t)
	comment := f.add(t, "short-lived", nil)

	require.NoError(t, f.engine.DeleteComment(f.ctx(), comment.ID))
	_, err := f.engine.UndoDelete(f.ctx())
	require.NoError(t, err)

	_, err = f.engine.UndoDelete(f.ctx())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUndoDeleteWithoutSnapshot(t *testing.T) {
	f := newCommentsFixture(t)

	_, err := f.engine.UndoDelete(f.ctx())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
