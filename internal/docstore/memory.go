package docstore

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

const subscriptionBuffer = 64

// sendLatest delivers v to a subscription channel. When the buffer is full
// the oldest queued value is evicted first, so a slow subscriber always
// converges on the newest state rather than holding a stale one. Only one
// goroutine sends on a given subscription channel, so the retry terminates.
// Returns whether anything was evicted.
func sendLatest[T any](ch chan T, v T) bool {
	evicted := false
	for {
		select {
		case ch <- v:
			return evicted
		default:
		}
		select {
		case <-ch:
			evicted = true
		default:
		}
	}
}

type docSub struct {
	ch     chan Snapshot
	closed bool
}

type prefixSub struct {
	prefix string
	ch     chan CollectionSnapshot
	closed bool
}

// MemoryStore is an in-process Store for single-instance mode and tests.
// Batches apply under one lock, so readers and subscribers never observe a
// half-applied batch. Snapshots are delivered in commit order.
type MemoryStore struct {
	mu         sync.Mutex
	docs       map[string]map[string]any
	docSubs    map[string]map[int]*docSub
	prefixSubs map[int]*prefixSub
	nextSubID  int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:       make(map[string]map[string]any),
		docSubs:    make(map[string]map[int]*docSub),
		prefixSubs: make(map[int]*prefixSub),
	}
}

func (s *MemoryStore) AtomicWrite(_ context.Context, ops []Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if op.Merge {
				doc, exists := s.docs[op.Path]
				if !exists {
					doc = make(map[string]any, len(op.Fields))
					s.docs[op.Path] = doc
				}
				for k, v := range copyFields(op.Fields) {
					doc[k] = v
				}
			} else {
				s.docs[op.Path] = copyFields(op.Fields)
			}
		case OpIncrement:
			doc, exists := s.docs[op.Path]
			if !exists {
				doc = make(map[string]any)
				s.docs[op.Path] = doc
			}
			current := Int64Field(Snapshot{Fields: doc}, op.Field)
			doc[op.Field] = current + op.Delta
		case OpDelete:
			delete(s.docs, op.Path)
		}
		changed[op.Path] = struct{}{}
	}

	s.notifyLocked(changed)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(path), nil
}

func (s *MemoryStore) Subscribe(path string) (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++

	sub := &docSub{ch: make(chan Snapshot, subscriptionBuffer)}
	if s.docSubs[path] == nil {
		s.docSubs[path] = make(map[int]*docSub)
	}
	s.docSubs[path][id] = sub

	// Current state first, then commit-ordered updates.
	sub.ch <- s.snapshotLocked(path)

	// Closing under the lock is safe: sends only happen under the same lock.
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		close(sub.ch)
		if subs, ok := s.docSubs[path]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.docSubs, path)
			}
		}
	}
	return sub.ch, cancel
}

func (s *MemoryStore) SubscribePrefix(prefix string) (<-chan CollectionSnapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++

	sub := &prefixSub{prefix: prefix, ch: make(chan CollectionSnapshot, subscriptionBuffer)}
	s.prefixSubs[id] = sub

	sub.ch <- s.collectionLocked(prefix)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		close(sub.ch)
		delete(s.prefixSubs, id)
	}
	return sub.ch, cancel
}

func (s *MemoryStore) snapshotLocked(path string) Snapshot {
	doc, exists := s.docs[path]
	return Snapshot{Path: path, Fields: copyFields(doc), Exists: exists}
}

func (s *MemoryStore) collectionLocked(prefix string) CollectionSnapshot {
	var docs []Snapshot
	for path := range s.docs {
		if strings.HasPrefix(path, prefix) {
			docs = append(docs, s.snapshotLocked(path))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return CollectionSnapshot{Prefix: prefix, Docs: docs}
}

func (s *MemoryStore) notifyLocked(changed map[string]struct{}) {
	for path := range changed {
		for _, sub := range s.docSubs[path] {
			if sendLatest(sub.ch, s.snapshotLocked(path)) {
				slog.Warn("slow document subscriber, coalesced to latest snapshot", "path", path)
			}
		}
	}

	for _, sub := range s.prefixSubs {
		touched := false
		for path := range changed {
			if strings.HasPrefix(path, sub.prefix) {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		if sendLatest(sub.ch, s.collectionLocked(sub.prefix)) {
			slog.Warn("slow collection subscriber, coalesced to latest snapshot", "prefix", sub.prefix)
		}
	}
}
