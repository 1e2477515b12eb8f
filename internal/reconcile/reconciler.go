// Package reconcile merges the asynchronous stream of remote document
// snapshots with locally pending optimistic mutations into the single
// projection callers observe.
package reconcile

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/opinionpulse/internal/counters"
	"github.com/pscheid92/opinionpulse/internal/docstore"
	"github.com/pscheid92/opinionpulse/internal/domain"
	"github.com/pscheid92/opinionpulse/internal/metrics"
)

// DefaultPendingTimeout bounds how long a pending marker waits for its
// correlation key to show up in a remote snapshot before it is dropped and
// the latest remote state is trusted unconditionally.
const DefaultPendingTimeout = 15 * time.Second

const expiryCheckInterval = time.Second

// --- Command types ---

type reconcilerCmd interface{ reconcilerCmd() }

type cmdSubscribe struct {
	ref     domain.ItemRef
	replyCh chan error
}

func (cmdSubscribe) reconcilerCmd() {}

type cmdUnsubscribe struct {
	itemID  uuid.UUID
	replyCh chan struct{}
}

func (cmdUnsubscribe) reconcilerCmd() {}

type cmdStageMutation struct {
	itemID        uuid.UUID
	correlationID uuid.UUID
	apply         func(domain.ItemAggregateView) domain.ItemAggregateView
	replyCh       chan error
}

func (cmdStageMutation) reconcilerCmd() {}

type cmdResolveMutation struct {
	itemID        uuid.UUID
	correlationID uuid.UUID
	commit        bool
	replyCh       chan struct{}
}

func (cmdResolveMutation) reconcilerCmd() {}

type cmdRemoteSnapshot struct {
	itemID uuid.UUID
	snap   docstore.Snapshot
}

func (cmdRemoteSnapshot) reconcilerCmd() {}

type cmdGetProjection struct {
	itemID  uuid.UUID
	replyCh chan projectionResult
}

func (cmdGetProjection) reconcilerCmd() {}

type projectionResult struct {
	view domain.ItemAggregateView
	ok   bool
}

type cmdTick struct{}

func (cmdTick) reconcilerCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) reconcilerCmd() {}

// --- State ---

type pendingMutation struct {
	correlationID uuid.UUID
	rollback      domain.ItemAggregateView
	committed     bool
	remoteArrived bool
	expiresAt     time.Time
}

type entityState struct {
	ref     domain.ItemRef
	view    domain.ItemAggregateView
	cancel  func()
	pending *pendingMutation
}

// Reconciler is the actor owning the merged projection. All state lives in
// the run goroutine; callers interact through blocking command/reply pairs,
// so operations on the same entity serialize naturally.
type Reconciler struct {
	cmdCh          chan reconcilerCmd
	docs           docstore.Store
	clock          clockwork.Clock
	pendingTimeout time.Duration
	notifier       domain.ProjectionNotifier
	entities       map[uuid.UUID]*entityState
	stopCh         chan struct{}
}

func New(docs docstore.Store, clock clockwork.Clock, pendingTimeout time.Duration) *Reconciler {
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}
	return &Reconciler{
		cmdCh:          make(chan reconcilerCmd, 512),
		docs:           docs,
		clock:          clock,
		pendingTimeout: pendingTimeout,
		entities:       make(map[uuid.UUID]*entityState),
		stopCh:         make(chan struct{}),
	}
}

// SetNotifier sets the projection change listener. Must be called before
// Start; the broadcaster needs the reconciler and vice versa.
func (r *Reconciler) SetNotifier(n domain.ProjectionNotifier) {
	r.notifier = n
}

// Start begins the actor and expiry ticker goroutines.
func (r *Reconciler) Start() {
	go r.tickerLoop()
	go r.run()
}

func (r *Reconciler) run() {
	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case cmdSubscribe:
			c.replyCh <- r.handleSubscribe(c.ref)

		case cmdUnsubscribe:
			r.handleUnsubscribe(c.itemID)
			c.replyCh <- struct{}{}

		case cmdStageMutation:
			c.replyCh <- r.handleStage(c)

		case cmdResolveMutation:
			r.handleResolve(c)
			c.replyCh <- struct{}{}

		case cmdRemoteSnapshot:
			r.handleRemoteSnapshot(c)

		case cmdGetProjection:
			entity, ok := r.entities[c.itemID]
			if !ok {
				c.replyCh <- projectionResult{}
				break
			}
			c.replyCh <- projectionResult{view: entity.view, ok: true}

		case cmdTick:
			r.handleTick()

		case cmdStop:
			for _, entity := range r.entities {
				entity.cancel()
			}
			close(r.stopCh)
			close(c.doneCh)
			return
		}
	}
}

func (r *Reconciler) handleSubscribe(ref domain.ItemRef) error {
	itemID := ref.ItemID()
	if _, exists := r.entities[itemID]; exists {
		return nil
	}

	updates, cancel := r.docs.Subscribe(ref.DocPath())
	r.entities[itemID] = &entityState{
		ref:    ref,
		view:   domain.ItemAggregateView{Ref: ref},
		cancel: cancel,
	}
	metrics.ReconcilerSubscriptions.Set(float64(len(r.entities)))

	// Pump remote snapshots into the actor. Exits when the subscription
	// channel closes on cancel.
	go func() {
		for snap := range updates {
			select {
			case r.cmdCh <- cmdRemoteSnapshot{itemID: itemID, snap: snap}:
			case <-r.stopCh:
				return
			}
		}
	}()

	return nil
}

func (r *Reconciler) handleUnsubscribe(itemID uuid.UUID) {
	entity, ok := r.entities[itemID]
	if !ok {
		return
	}
	entity.cancel()
	// Rollback state for the entity is discarded with it; a late write
	// result for this item becomes a no-op.
	delete(r.entities, itemID)
	metrics.ReconcilerSubscriptions.Set(float64(len(r.entities)))
}

func (r *Reconciler) handleStage(c cmdStageMutation) error {
	entity, ok := r.entities[c.itemID]
	if !ok {
		return domain.ErrNotSubscribed
	}
	if entity.pending != nil && !entity.pending.committed {
		return domain.ErrMutationInProgress
	}

	entity.pending = &pendingMutation{
		correlationID: c.correlationID,
		rollback:      entity.view,
		expiresAt:     r.clock.Now().Add(r.pendingTimeout),
	}
	entity.view = c.apply(entity.view)
	r.notify(c.itemID, entity.view)
	return nil
}

func (r *Reconciler) handleResolve(c cmdResolveMutation) {
	entity, ok := r.entities[c.itemID]
	if !ok {
		// Entity unsubscribed while the write was in flight.
		return
	}
	pending := entity.pending
	if pending == nil || pending.correlationID != c.correlationID {
		return
	}

	if c.commit {
		// Keep the optimistic view until the authoritative snapshot lands;
		// the marker stays live so the correlation can be matched.
		pending.committed = true
		return
	}

	// Failed write: revert exactly to the pre-mutation snapshot, unless a
	// remote snapshot arrived meanwhile, in which case remote state wins.
	if !pending.remoteArrived {
		entity.view = pending.rollback
		r.notify(c.itemID, entity.view)
	}
	entity.pending = nil
}

func (r *Reconciler) handleRemoteSnapshot(c cmdRemoteSnapshot) {
	entity, ok := r.entities[c.itemID]
	if !ok {
		return
	}

	// Last writer wins by the store's own ordering: replace wholesale.
	entity.view = counters.DecodeItemView(entity.ref, c.snap)

	if pending := entity.pending; pending != nil {
		pending.remoteArrived = true
		correlation := docstore.UUIDField(c.snap, counters.FieldLastMutationID)
		if correlation == pending.correlationID {
			entity.pending = nil
		}
	}
	r.notify(c.itemID, entity.view)
}

func (r *Reconciler) handleTick() {
	now := r.clock.Now()
	for itemID, entity := range r.entities {
		pending := entity.pending
		if pending == nil || now.Before(pending.expiresAt) {
			continue
		}
		slog.Debug("pending mutation expired, trusting remote state",
			"item_id", itemID,
			"correlation_id", pending.correlationID)
		entity.pending = nil
		metrics.PendingMutationsExpired.Inc()
	}
}

func (r *Reconciler) notify(itemID uuid.UUID, view domain.ItemAggregateView) {
	if r.notifier != nil {
		r.notifier.NotifyItem(itemID, view)
	}
}

func (r *Reconciler) tickerLoop() {
	ticker := r.clock.NewTicker(expiryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			select {
			case r.cmdCh <- cmdTick{}:
			case <-r.stopCh:
				return
			}
		case <-r.stopCh:
			return
		}
	}
}

// --- Public API ---

// Subscribe starts reconciling the given item. Idempotent.
func (r *Reconciler) Subscribe(ref domain.ItemRef) error {
	replyCh := make(chan error, 1)
	r.cmdCh <- cmdSubscribe{ref: ref, replyCh: replyCh}
	return <-replyCh
}

// Unsubscribe tears down the item's subscription immediately and discards
// any rollback state for it.
func (r *Reconciler) Unsubscribe(itemID uuid.UUID) {
	replyCh := make(chan struct{}, 1)
	r.cmdCh <- cmdUnsubscribe{itemID: itemID, replyCh: replyCh}
	<-replyCh
}

// StageMutation applies an optimistic change to the projection and records
// the rollback snapshot under the correlation id. Returns
// ErrMutationInProgress when an unresolved mutation exists for the item.
func (r *Reconciler) StageMutation(itemID, correlationID uuid.UUID, apply func(domain.ItemAggregateView) domain.ItemAggregateView) error {
	replyCh := make(chan error, 1)
	r.cmdCh <- cmdStageMutation{itemID: itemID, correlationID: correlationID, apply: apply, replyCh: replyCh}
	return <-replyCh
}

// Commit marks the staged mutation's write as acknowledged.
func (r *Reconciler) Commit(itemID, correlationID uuid.UUID) {
	replyCh := make(chan struct{}, 1)
	r.cmdCh <- cmdResolveMutation{itemID: itemID, correlationID: correlationID, commit: true, replyCh: replyCh}
	<-replyCh
}

// Rollback reverts the staged mutation to its pre-mutation snapshot.
func (r *Reconciler) Rollback(itemID, correlationID uuid.UUID) {
	replyCh := make(chan struct{}, 1)
	r.cmdCh <- cmdResolveMutation{itemID: itemID, correlationID: correlationID, commit: false, replyCh: replyCh}
	<-replyCh
}

// Projection returns the current merged view for the item.
func (r *Reconciler) Projection(itemID uuid.UUID) (domain.ItemAggregateView, bool) {
	replyCh := make(chan projectionResult, 1)
	r.cmdCh <- cmdGetProjection{itemID: itemID, replyCh: replyCh}
	result := <-replyCh
	return result.view, result.ok
}

// Stop shuts the actor down and cancels every subscription.
func (r *Reconciler) Stop() {
	doneCh := make(chan struct{})
	r.cmdCh <- cmdStop{doneCh: doneCh}
	<-doneCh
}
