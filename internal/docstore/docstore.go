// Package docstore defines the document store contract the engines write
// through: ordered push subscriptions per document or collection, and
// all-or-nothing multi-document write batches.
//
// Two implementations exist: MemoryStore for single-instance mode and tests,
// and RedisStore for multi-instance deployments.
package docstore

import "context"

// OpKind discriminates the operations allowed inside an atomic batch.
type OpKind int

const (
	OpSet OpKind = iota
	OpIncrement
	OpDelete
)

// Op is a single document operation. All ops submitted in one AtomicWrite
// call apply all-or-nothing.
type Op struct {
	Kind   OpKind
	Path   string
	Fields map[string]any // OpSet only
	Merge  bool           // OpSet: merge into existing fields instead of replacing
	Field  string         // OpIncrement only
	Delta  int64          // OpIncrement only
}

// Set replaces the document at path with the given fields.
func Set(path string, fields map[string]any) Op {
	return Op{Kind: OpSet, Path: path, Fields: fields}
}

// SetMerge merges fields into the document at path, creating it if absent.
func SetMerge(path string, fields map[string]any) Op {
	return Op{Kind: OpSet, Path: path, Fields: fields, Merge: true}
}

// Increment adds delta to a numeric field, treating a missing field as zero.
func Increment(path, field string, delta int64) Op {
	return Op{Kind: OpIncrement, Path: path, Field: field, Delta: delta}
}

// Delete removes the document at path.
func Delete(path string) Op {
	return Op{Kind: OpDelete, Path: path}
}

// Snapshot is the state of one document at a point in the store's own order.
type Snapshot struct {
	Path   string
	Fields map[string]any
	Exists bool
}

// CollectionSnapshot is the full state of a path prefix, delivered wholesale
// on every change to any document underneath it.
type CollectionSnapshot struct {
	Prefix string
	Docs   []Snapshot
}

// Store is the document store contract (external collaborator boundary).
type Store interface {
	// AtomicWrite applies all ops or none of them.
	AtomicWrite(ctx context.Context, ops []Op) error

	// Get reads a single document. A missing document is not an error: the
	// returned snapshot has Exists == false.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Subscribe delivers snapshots of one document, in the order the store
	// commits them, until cancel is called. The current state is delivered
	// first.
	Subscribe(path string) (updates <-chan Snapshot, cancel func())

	// SubscribePrefix delivers wholesale collection snapshots for every
	// change under prefix, current state first.
	SubscribePrefix(prefix string) (updates <-chan CollectionSnapshot, cancel func())
}
