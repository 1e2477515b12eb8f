package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	iredis "github.com/pscheid92/opinionpulse/internal/redis"
	goredis "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store for multi-instance deployments.
//
// Documents are hashes at "doc:<path>" with JSON-encoded field values.
// Collection membership is tracked in sets at "col:<dir>" where dir is the
// path up to the last slash, so SubscribePrefix supports exactly one
// collection level (which is how the engines use it). Batches run inside
// MULTI/EXEC so they apply all-or-nothing, and change notifications are
// published in the same transaction, preserving commit order per channel.
type RedisStore struct {
	rdb *goredis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *iredis.Client) *RedisStore {
	return &RedisStore{rdb: client.Underlying()}
}

func docKey(path string) string { return "doc:" + path }

func collectionOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx+1]
}

func docChannel(path string) string   { return "ch:doc:" + path }
func colChannel(prefix string) string { return "ch:col:" + prefix }

func (s *RedisStore) AtomicWrite(ctx context.Context, ops []Op) error {
	changedDocs := make(map[string]struct{}, len(ops))
	changedCols := make(map[string]struct{}, len(ops))

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, op := range ops {
			key := docKey(op.Path)
			col := collectionOf(op.Path)
			switch op.Kind {
			case OpSet:
				encoded, err := encodeFields(op.Fields)
				if err != nil {
					return err
				}
				if !op.Merge {
					pipe.Del(ctx, key)
				}
				if len(encoded) > 0 {
					pipe.HSet(ctx, key, encoded)
				}
				if col != "" {
					pipe.SAdd(ctx, "col:"+col, op.Path)
				}
			case OpIncrement:
				pipe.HIncrBy(ctx, key, op.Field, op.Delta)
				if col != "" {
					pipe.SAdd(ctx, "col:"+col, op.Path)
				}
			case OpDelete:
				pipe.Del(ctx, key)
				if col != "" {
					pipe.SRem(ctx, "col:"+col, op.Path)
				}
			}
			changedDocs[op.Path] = struct{}{}
			if col != "" {
				changedCols[col] = struct{}{}
			}
		}

		for path := range changedDocs {
			pipe.Publish(ctx, docChannel(path), "")
		}
		for col := range changedCols {
			pipe.Publish(ctx, colChannel(col), "")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("atomic write failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (Snapshot, error) {
	raw, err := s.rdb.HGetAll(ctx, docKey(path)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	if len(raw) == 0 {
		return Snapshot{Path: path}, nil
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[k] = decodeValue(v)
	}
	return Snapshot{Path: path, Fields: fields, Exists: true}, nil
}

func (s *RedisStore) Subscribe(path string) (<-chan Snapshot, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.rdb.Subscribe(ctx, docChannel(path))
	ch := make(chan Snapshot, subscriptionBuffer)

	go func() {
		defer close(ch)

		deliver := func() {
			snap, err := s.Get(ctx, path)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("failed to read document for subscription", "path", path, "error", err)
				}
				return
			}
			if sendLatest(ch, snap) {
				slog.Warn("slow document subscriber, coalesced to latest snapshot", "path", path)
			}
		}

		deliver()
		msgCh := pubsub.Channel()
		for {
			select {
			case msg := <-msgCh:
				if msg == nil {
					return
				}
				deliver()
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, func() {
		cancel()
		_ = pubsub.Close()
	}
}

func (s *RedisStore) SubscribePrefix(prefix string) (<-chan CollectionSnapshot, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.rdb.Subscribe(ctx, colChannel(prefix))
	ch := make(chan CollectionSnapshot, subscriptionBuffer)

	go func() {
		defer close(ch)

		deliver := func() {
			snap, err := s.readCollection(ctx, prefix)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("failed to read collection for subscription", "prefix", prefix, "error", err)
				}
				return
			}
			if sendLatest(ch, snap) {
				slog.Warn("slow collection subscriber, coalesced to latest snapshot", "prefix", prefix)
			}
		}

		deliver()
		msgCh := pubsub.Channel()
		for {
			select {
			case msg := <-msgCh:
				if msg == nil {
					return
				}
				deliver()
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, func() {
		cancel()
		_ = pubsub.Close()
	}
}

func (s *RedisStore) readCollection(ctx context.Context, prefix string) (CollectionSnapshot, error) {
	paths, err := s.rdb.SMembers(ctx, "col:"+prefix).Result()
	if err != nil {
		return CollectionSnapshot{}, fmt.Errorf("failed to list collection %s: %w", prefix, err)
	}

	docs := make([]Snapshot, 0, len(paths))
	for _, path := range paths {
		snap, err := s.Get(ctx, path)
		if err != nil {
			return CollectionSnapshot{}, err
		}
		if snap.Exists {
			docs = append(docs, snap)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return CollectionSnapshot{Prefix: prefix, Docs: docs}, nil
}

// encodeFields JSON-encodes each value so typed data survives the hash
// round-trip. JSON integers stay HINCRBY-compatible.
func encodeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case time.Time:
			data, err := json.Marshal(val.Format(time.RFC3339Nano))
			if err != nil {
				return nil, fmt.Errorf("failed to encode field %s: %w", k, err)
			}
			out[k] = string(data)
		case uuid.UUID:
			out[k] = `"` + val.String() + `"`
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode field %s: %w", k, err)
			}
			out[k] = string(data)
		}
	}
	return out, nil
}

func decodeValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		// HINCRBY on a fresh field writes a bare integer, which is valid
		// JSON, so this path only triggers for legacy/foreign data.
		return raw
	}
	return v
}
