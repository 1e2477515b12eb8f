// Package engine composes the cooldown policy, vote ledger, counter store,
// reconciler, and comment engine into the operations callers invoke.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/opinionpulse/internal/comments"
	"github.com/pscheid92/opinionpulse/internal/cooldown"
	"github.com/pscheid92/opinionpulse/internal/counters"
	"github.com/pscheid92/opinionpulse/internal/docstore"
	"github.com/pscheid92/opinionpulse/internal/domain"
	"github.com/pscheid92/opinionpulse/internal/ledger"
	"github.com/pscheid92/opinionpulse/internal/metrics"
	"github.com/pscheid92/opinionpulse/internal/reconcile"
)

// Service is the engine facade. A vote call runs the state machine
// CooldownCheck → Writing → Committed|RolledBack; the optimistic projection
// update happens synchronously before the write is issued, and a failed
// write reverts the projection exactly to its pre-attempt value.
type Service struct {
	identity   domain.Identity
	markers    domain.CooldownMarkerStore
	counters   *counters.Store
	ledger     *ledger.Ledger
	reconciler *reconcile.Reconciler
	comments   *comments.Engine
	catalog    domain.CatalogRepository
	clock      clockwork.Clock

	mu        sync.Mutex
	voteLocks map[voteKey]*sync.Mutex
}

type voteKey struct {
	userID uuid.UUID
	itemID uuid.UUID
}

func NewService(
	identity domain.Identity,
	markers domain.CooldownMarkerStore,
	counterStore *counters.Store,
	voteLedger *ledger.Ledger,
	reconciler *reconcile.Reconciler,
	commentEngine *comments.Engine,
	catalog domain.CatalogRepository,
	clock clockwork.Clock,
) *Service {
	return &Service{
		identity:   identity,
		markers:    markers,
		counters:   counterStore,
		ledger:     voteLedger,
		reconciler: reconciler,
		comments:   commentEngine,
		catalog:    catalog,
		clock:      clock,
		voteLocks:  make(map[voteKey]*sync.Mutex),
	}
}

// lockVote serializes vote submissions per (user, item): the eligibility
// reads and the staged write must not interleave with another submission by
// the same user, or a stale first-vote decision could double-count.
func (s *Service) lockVote(userID, itemID uuid.UUID) func() {
	s.mu.Lock()
	key := voteKey{userID: userID, itemID: itemID}
	l, ok := s.voteLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.voteLocks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Stop shuts down the composed engines.
func (s *Service) Stop() {
	s.reconciler.Stop()
	s.comments.Stop()
}

// EnsureSubscribed resolves an item and starts reconciling it. Idempotent;
// used by vote calls and by the websocket/projection read path.
func (s *Service) EnsureSubscribed(ctx context.Context, itemID uuid.UUID) (domain.ItemRef, error) {
	ref, err := s.catalog.ResolveItem(ctx, itemID)
	if err != nil {
		return domain.ItemRef{}, err
	}
	if err := s.reconciler.Subscribe(ref); err != nil {
		return domain.ItemRef{}, err
	}
	s.comments.Subscribe(ref)
	return ref, nil
}

// Unsubscribe tears down reconciliation for an item.
func (s *Service) Unsubscribe(itemID uuid.UUID) {
	s.reconciler.Unsubscribe(itemID)
	s.comments.Unsubscribe(itemID)
}

// Vote casts a yay/nay on a subcategory-level item.
func (s *Service) Vote(ctx context.Context, itemID uuid.UUID, isYay bool) domain.VoteOutcome {
	return s.vote(ctx, itemID, isYay)
}

// VoteForSubQuestion casts a yay/nay on a sub-question.
func (s *Service) VoteForSubQuestion(ctx context.Context, subQuestionID uuid.UUID, isYay bool) domain.VoteOutcome {
	return s.vote(ctx, subQuestionID, isYay)
}

func (s *Service) vote(ctx context.Context, itemID uuid.UUID, isYay bool) domain.VoteOutcome {
	ref, err := s.EnsureSubscribed(ctx, itemID)
	if err != nil {
		return s.failed(err)
	}

	userID, ok := s.identity.CurrentUserID(ctx)
	if !ok {
		return s.failed(domain.ErrUnauthenticated)
	}

	unlock := s.lockVote(userID, itemID)
	defer unlock()

	now := s.clock.Now()

	// Cooldown gate: evaluated locally, no writes happen on rejection. The
	// local marker covers the window before the vote record round-trips;
	// the ledger record is the authoritative fallback.
	record, err := s.ledger.GetVote(ctx, userID, ref)
	if err != nil {
		return s.failed(err)
	}
	lastVoteAt := time.Time{}
	if record != nil {
		lastVoteAt = record.Timestamp
	}
	if markerAt, found, err := s.markers.Get(ctx, userID, itemID); err != nil {
		slog.Warn("cooldown marker read failed, falling back to ledger", "user_id", userID, "error", err)
	} else if found && markerAt.After(lastVoteAt) {
		lastVoteAt = markerAt
	}

	if !cooldown.Eligible(lastVoteAt, now) {
		metrics.VotesTotal.WithLabelValues(string(domain.VoteRejectedCooldown)).Inc()
		return domain.VoteOutcome{
			Status:    domain.VoteRejectedCooldown,
			Remaining: cooldown.Remaining(lastVoteAt, now),
		}
	}

	firstVote := record == nil
	voteChanged := record != nil && record.IsYay != isYay
	correlationID := uuid.New()

	// The ledger upsert and the counter adjustment commit together or not
	// at all: one batch, one atomic write.
	ledgerOps, _ := ledger.UpsertOps(ref, userID, isYay, now, record)
	ops := append([]docstore.Op{}, ledgerOps...)
	switch {
	case firstVote:
		ops = append(ops, counters.VoteDeltaOps(ref, isYay, 1)...)
	case voteChanged:
		ops = append(ops, counters.VoteChangeOps(ref, record.IsYay, isYay)...)
	}
	ops = append(ops, counters.MetadataTouchOps(ref, now, firstVote, correlationID)...)

	// Optimistic apply before the write is issued.
	err = s.reconciler.StageMutation(itemID, correlationID, func(view domain.ItemAggregateView) domain.ItemAggregateView {
		switch {
		case firstVote:
			if isYay {
				view.YayCount++
			} else {
				view.NayCount++
			}
			view.Metadata.TotalVotes++
			view.Metadata.UniqueVoters++
		case voteChanged:
			if isYay {
				view.YayCount++
				view.NayCount--
			} else {
				view.NayCount++
				view.YayCount--
			}
		}
		view.Metadata.LastVoteAt = now
		return view
	})
	if err != nil {
		return s.failed(err)
	}

	if err := s.counters.Submit(ctx, ops); err != nil {
		// RolledBack: the projection reverts to its pre-attempt value and
		// the cooldown marker stays untouched, so the user may retry.
		s.reconciler.Rollback(itemID, correlationID)
		metrics.VoteRollbacks.Inc()
		metrics.VotesTotal.WithLabelValues(string(domain.VoteFailed)).Inc()
		return domain.VoteOutcome{Status: domain.VoteFailed, Err: err}
	}

	s.reconciler.Commit(itemID, correlationID)
	if err := s.markers.Set(ctx, userID, itemID, now); err != nil {
		slog.Warn("failed to persist cooldown marker", "user_id", userID, "item_id", itemID, "error", err)
	}
	if voteChanged {
		metrics.VoteChanges.Inc()
	}
	metrics.VotesTotal.WithLabelValues(string(domain.VoteCommitted)).Inc()
	return domain.VoteOutcome{Status: domain.VoteCommitted}
}

func (s *Service) failed(err error) domain.VoteOutcome {
	metrics.VotesTotal.WithLabelValues(string(domain.VoteFailed)).Inc()
	return domain.VoteOutcome{Status: domain.VoteFailed, Err: err}
}

// VoteForAttribute records a yay/nay on a named facet of an item. Attribute
// tallies are independent buckets and do not touch the item's own counters.
func (s *Service) VoteForAttribute(ctx context.Context, itemID uuid.UUID, attribute string, isYay bool) error {
	ref, err := s.catalog.ResolveItem(ctx, itemID)
	if err != nil {
		return err
	}
	if _, ok := s.identity.CurrentUserID(ctx); !ok {
		return domain.ErrUnauthenticated
	}
	if err := s.counters.ApplyAttributeVote(ctx, ref, attribute, isYay); err != nil {
		return err
	}
	metrics.AttributeVotesTotal.Inc()
	return nil
}

// AttributeTally reads one facet bucket of an item.
func (s *Service) AttributeTally(ctx context.Context, itemID uuid.UUID, attribute string) (domain.AttributeVoteTally, error) {
	ref, err := s.catalog.ResolveItem(ctx, itemID)
	if err != nil {
		return domain.AttributeVoteTally{}, err
	}
	return s.counters.GetAttributeTally(ctx, ref, attribute)
}

// Projection returns the current merged aggregate view for an item,
// subscribing it first if needed.
func (s *Service) Projection(ctx context.Context, itemID uuid.UUID) (domain.ItemAggregateView, error) {
	if _, err := s.EnsureSubscribed(ctx, itemID); err != nil {
		return domain.ItemAggregateView{}, err
	}
	view, ok := s.reconciler.Projection(itemID)
	if !ok {
		return domain.ItemAggregateView{}, domain.ErrNotFound
	}
	return view, nil
}

// AddComment posts a comment on an item; a nil parentID makes it top-level.
func (s *Service) AddComment(ctx context.Context, itemID uuid.UUID, text string, parentID *uuid.UUID) (domain.Comment, error) {
	ref, err := s.EnsureSubscribed(ctx, itemID)
	if err != nil {
		return domain.Comment{}, err
	}
	comment, err := s.comments.AddComment(ctx, ref, text, parentID)
	s.recordCommentOp("add", err)
	return comment, err
}

// LikeComment adds the caller's like to a comment; double-liking is a no-op.
func (s *Service) LikeComment(ctx context.Context, commentID uuid.UUID) error {
	err := s.comments.LikeComment(ctx, commentID)
	s.recordCommentOp("like", err)
	return err
}

// DeleteComment deletes the caller's comment, cascading over replies for
// top-level comments.
func (s *Service) DeleteComment(ctx context.Context, commentID uuid.UUID) error {
	err := s.comments.DeleteComment(ctx, commentID)
	s.recordCommentOp("delete", err)
	return err
}

// UndoDeleteComment restores the most recently deleted comment.
func (s *Service) UndoDeleteComment(ctx context.Context) (domain.Comment, error) {
	comment, err := s.comments.UndoDelete(ctx)
	s.recordCommentOp("undo", err)
	return comment, err
}

// Threads returns the threaded comment view for an item.
func (s *Service) Threads(ctx context.Context, itemID uuid.UUID) ([]domain.CommentThread, error) {
	if _, err := s.EnsureSubscribed(ctx, itemID); err != nil {
		return nil, err
	}
	return s.comments.Threads(itemID), nil
}

func (s *Service) recordCommentOp(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.CommentOpsTotal.WithLabelValues(kind, status).Inc()
}

// OutcomeError converts a failed outcome into the error the transport layer
// reports; nil for committed outcomes.
func OutcomeError(outcome domain.VoteOutcome) error {
	switch outcome.Status {
	case domain.VoteCommitted:
		return nil
	case domain.VoteRejectedCooldown:
		return fmt.Errorf("cooldown active, %s remaining", outcome.Remaining)
	default:
		if outcome.Err != nil {
			return outcome.Err
		}
		return errors.New("vote failed")
	}
}
