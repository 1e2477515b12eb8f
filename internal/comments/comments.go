// Package comments implements the threaded comment lifecycle: create, like,
// reversible delete with cascading replies, and the derived threading view.
// It follows the same optimistic-then-reconciled model as the vote path: the
// local projection changes first, the atomic write follows, and a failed
// write restores the exact prior state.
package comments

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/opinionpulse/internal/docstore"
	"github.com/pscheid92/opinionpulse/internal/domain"
)

// Field names on comment documents.
const (
	fieldID        = "id"
	fieldItemID    = "itemId"
	fieldUserID    = "userId"
	fieldAuthor    = "authorName"
	fieldAvatarURL = "authorAvatarUrl"
	fieldText      = "text"
	fieldTimestamp = "timestamp"
	fieldLikes     = "likes"
	fieldLikedBy   = "likedBy"
	fieldParentID  = "parentId"
)

// CommentsPrefix returns the collection prefix holding an item's comments.
func CommentsPrefix(ref domain.ItemRef) string {
	return ref.DocPath() + "/comments/"
}

func commentPath(ref domain.ItemRef, commentID uuid.UUID) string {
	return CommentsPrefix(ref) + commentID.String()
}

type itemComments struct {
	ref     domain.ItemRef
	records map[uuid.UUID]domain.Comment
	cancel  func()
}

type deleteSnapshot struct {
	itemID  uuid.UUID
	comment domain.Comment
}

// Engine owns comment state for all subscribed items. The records map is the
// locally merged projection; remote collection snapshots replace it wholesale.
type Engine struct {
	mu          sync.Mutex
	docs        docstore.Store
	identity    domain.Identity
	profiles    domain.ProfileRepository
	clock       clockwork.Clock
	items       map[uuid.UUID]*itemComments
	lastDeleted *deleteSnapshot
	stopCh      chan struct{}
}

func NewEngine(docs docstore.Store, identity domain.Identity, profiles domain.ProfileRepository, clock clockwork.Clock) *Engine {
	return &Engine{
		docs:     docs,
		identity: identity,
		profiles: profiles,
		clock:    clock,
		items:    make(map[uuid.UUID]*itemComments),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe starts tracking an item's comment collection. Idempotent.
func (e *Engine) Subscribe(ref domain.ItemRef) {
	e.mu.Lock()
	defer e.mu.Unlock()

	itemID := ref.ItemID()
	if _, exists := e.items[itemID]; exists {
		return
	}

	updates, cancel := e.docs.SubscribePrefix(CommentsPrefix(ref))
	e.items[itemID] = &itemComments{
		ref:     ref,
		records: make(map[uuid.UUID]domain.Comment),
		cancel:  cancel,
	}

	go func() {
		for snap := range updates {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.applyCollectionSnapshot(itemID, snap)
		}
	}()
}

// Unsubscribe stops tracking an item and discards its local state.
func (e *Engine) Unsubscribe(itemID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[itemID]
	if !ok {
		return
	}
	item.cancel()
	delete(e.items, itemID)
	if e.lastDeleted != nil && e.lastDeleted.itemID == itemID {
		e.lastDeleted = nil
	}
}

// Stop tears down all subscriptions.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.stopCh)
	for _, item := range e.items {
		item.cancel()
	}
	e.items = make(map[uuid.UUID]*itemComments)
}

func (e *Engine) applyCollectionSnapshot(itemID uuid.UUID, snap docstore.CollectionSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[itemID]
	if !ok {
		return
	}

	records := make(map[uuid.UUID]domain.Comment, len(snap.Docs))
	for _, doc := range snap.Docs {
		comment := decodeComment(doc)
		if comment.ID == uuid.Nil {
			continue
		}
		records[comment.ID] = comment
	}
	item.records = records
}

// AddComment creates a comment, denormalizing the poster's display fields at
// write time. A nil parentID makes it top-level.
func (e *Engine) AddComment(ctx context.Context, ref domain.ItemRef, text string, parentID *uuid.UUID) (domain.Comment, error) {
	userID, ok := e.identity.CurrentUserID(ctx)
	if !ok {
		return domain.Comment{}, domain.ErrUnauthenticated
	}

	comment := domain.Comment{
		ID:        uuid.New(),
		ItemID:    ref.ItemID(),
		UserID:    userID,
		Text:      text,
		Timestamp: e.clock.Now(),
		ParentID:  parentID,
	}

	// Display fields reflect the profile at post time and are never re-synced.
	if profile, err := e.profiles.GetByUserID(ctx, userID); err != nil {
		slog.Warn("failed to load profile for comment denormalization", "user_id", userID, "error", err)
	} else {
		comment.AuthorName = profile.DisplayName
		comment.AuthorAvatarURL = profile.AvatarURL
	}

	e.mu.Lock()
	item, subscribed := e.items[comment.ItemID]
	if subscribed {
		item.records[comment.ID] = comment
	}
	e.mu.Unlock()

	op := docstore.Set(commentPath(ref, comment.ID), encodeComment(comment))
	if err := e.docs.AtomicWrite(ctx, []docstore.Op{op}); err != nil {
		e.mu.Lock()
		if item, ok := e.items[comment.ItemID]; ok {
			delete(item.records, comment.ID)
		}
		e.mu.Unlock()
		return domain.Comment{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return comment, nil
}

// LikeComment adds the caller to the comment's liked-by set. Liking a comment
// twice is a no-op: the set membership is the idempotency key.
func (e *Engine) LikeComment(ctx context.Context, commentID uuid.UUID) error {
	userID, ok := e.identity.CurrentUserID(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}

	e.mu.Lock()
	item, comment, found := e.findLocked(commentID)
	if !found {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	if comment.IsLikedBy(userID) {
		e.mu.Unlock()
		return nil
	}

	before := comment
	comment.Likes++
	comment.LikedBy = append(append([]uuid.UUID(nil), comment.LikedBy...), userID)
	item.records[commentID] = comment
	ref := item.ref
	likedBy := uuidStrings(comment.LikedBy)
	e.mu.Unlock()

	ops := []docstore.Op{
		docstore.SetMerge(commentPath(ref, commentID), map[string]any{fieldLikedBy: likedBy}),
		docstore.Increment(commentPath(ref, commentID), fieldLikes, 1),
	}
	if err := e.docs.AtomicWrite(ctx, ops); err != nil {
		e.mu.Lock()
		if item, ok := e.items[before.ItemID]; ok {
			item.records[commentID] = before
		}
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteComment removes a comment. Only the author may delete. Deleting a
// top-level comment cascades to every direct reply in one atomic batch;
// deleting a reply removes only that reply. A snapshot of the top-level
// comment is held for a single undo.
func (e *Engine) DeleteComment(ctx context.Context, commentID uuid.UUID) error {
	userID, ok := e.identity.CurrentUserID(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}

	e.mu.Lock()
	item, comment, found := e.findLocked(commentID)
	if !found {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	if comment.UserID != userID {
		e.mu.Unlock()
		return domain.ErrUnauthorized
	}

	removed := map[uuid.UUID]domain.Comment{commentID: comment}
	ops := []docstore.Op{docstore.Delete(commentPath(item.ref, commentID))}
	if comment.ParentID == nil {
		for id, record := range item.records {
			if record.ParentID != nil && *record.ParentID == commentID {
				removed[id] = record
				ops = append(ops, docstore.Delete(commentPath(item.ref, id)))
			}
		}
	}

	// Snapshot taken immediately before the delete is issued; a cascade
	// does not support partial undo of individual replies.
	snapshot := &deleteSnapshot{itemID: comment.ItemID, comment: comment}

	for id := range removed {
		delete(item.records, id)
	}
	e.mu.Unlock()

	if err := e.docs.AtomicWrite(ctx, ops); err != nil {
		// The batch is one atomic unit: nothing applied, restore everything.
		e.mu.Lock()
		if item, ok := e.items[comment.ItemID]; ok {
			for id, record := range removed {
				item.records[id] = record
			}
		}
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	e.mu.Lock()
	e.lastDeleted = snapshot
	e.mu.Unlock()
	return nil
}

// UndoDelete restores the most recently deleted comment from the held
// snapshot. With no snapshot (never taken, or already consumed) it reports
// ErrNotFound.
func (e *Engine) UndoDelete(ctx context.Context) (domain.Comment, error) {
	e.mu.Lock()
	snapshot := e.lastDeleted
	if snapshot == nil {
		e.mu.Unlock()
		return domain.Comment{}, domain.ErrNotFound
	}
	item, subscribed := e.items[snapshot.itemID]
	if subscribed {
		item.records[snapshot.comment.ID] = snapshot.comment
	}
	var ref domain.ItemRef
	if subscribed {
		ref = item.ref
	}
	e.mu.Unlock()

	if !subscribed {
		return domain.Comment{}, domain.ErrNotFound
	}

	op := docstore.Set(commentPath(ref, snapshot.comment.ID), encodeComment(snapshot.comment))
	if err := e.docs.AtomicWrite(ctx, []docstore.Op{op}); err != nil {
		e.mu.Lock()
		if item, ok := e.items[snapshot.itemID]; ok {
			delete(item.records, snapshot.comment.ID)
		}
		e.mu.Unlock()
		return domain.Comment{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	// The snapshot is consumed by a successful undo.
	e.mu.Lock()
	if e.lastDeleted == snapshot {
		e.lastDeleted = nil
	}
	e.mu.Unlock()
	return snapshot.comment, nil
}

// Threads builds the display view: top-level comments newest-first, replies
// grouped under their parent in insertion order.
func (e *Engine) Threads(itemID uuid.UUID) []domain.CommentThread {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[itemID]
	if !ok {
		return nil
	}

	replies := make(map[uuid.UUID][]domain.Comment)
	var topLevel []domain.Comment
	for _, comment := range item.records {
		if comment.ParentID == nil {
			topLevel = append(topLevel, comment)
		} else {
			replies[*comment.ParentID] = append(replies[*comment.ParentID], comment)
		}
	}

	sort.Slice(topLevel, func(i, j int) bool {
		return topLevel[i].Timestamp.After(topLevel[j].Timestamp)
	})

	threads := make([]domain.CommentThread, 0, len(topLevel))
	for _, parent := range topLevel {
		children := replies[parent.ID]
		sort.Slice(children, func(i, j int) bool {
			return children[i].Timestamp.Before(children[j].Timestamp)
		})
		threads = append(threads, domain.CommentThread{Comment: parent, Replies: children})
	}
	return threads
}

func (e *Engine) findLocked(commentID uuid.UUID) (*itemComments, domain.Comment, bool) {
	for _, item := range e.items {
		if comment, ok := item.records[commentID]; ok {
			return item, comment, true
		}
	}
	return nil, domain.Comment{}, false
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func encodeComment(c domain.Comment) map[string]any {
	fields := map[string]any{
		fieldID:        c.ID,
		fieldItemID:    c.ItemID,
		fieldUserID:    c.UserID,
		fieldAuthor:    c.AuthorName,
		fieldAvatarURL: c.AuthorAvatarURL,
		fieldText:      c.Text,
		fieldTimestamp: c.Timestamp,
		fieldLikes:     c.Likes,
		fieldLikedBy:   uuidStrings(c.LikedBy),
	}
	if c.ParentID != nil {
		fields[fieldParentID] = *c.ParentID
	}
	return fields
}

func decodeComment(snap docstore.Snapshot) domain.Comment {
	comment := domain.Comment{
		ID:              docstore.UUIDField(snap, fieldID),
		ItemID:          docstore.UUIDField(snap, fieldItemID),
		UserID:          docstore.UUIDField(snap, fieldUserID),
		AuthorName:      docstore.StringField(snap, fieldAuthor),
		AuthorAvatarURL: docstore.StringField(snap, fieldAvatarURL),
		Text:            docstore.StringField(snap, fieldText),
		Timestamp:       docstore.TimeField(snap, fieldTimestamp),
		Likes:           docstore.Int64Field(snap, fieldLikes),
		LikedBy:         docstore.UUIDSliceField(snap, fieldLikedBy),
	}
	if parentID := docstore.UUIDField(snap, fieldParentID); parentID != uuid.Nil {
		parent := parentID
		comment.ParentID = &parent
	}
	return comment
}
