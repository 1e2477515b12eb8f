package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/opinionpulse/internal/domain"
	iredis "github.com/pscheid92/opinionpulse/internal/redis"
	goredis "github.com/redis/go-redis/v9"
)

// Markers expire one day after the cooldown itself so a stale entry can
// never block an eligible vote.
const markerTTL = Period + 24*time.Hour

// RedisMarkerStore persists cooldown markers in Redis so they survive
// process restarts and are shared across instances.
type RedisMarkerStore struct {
	rdb *goredis.Client
}

var _ domain.CooldownMarkerStore = (*RedisMarkerStore)(nil)

func NewRedisMarkerStore(client *iredis.Client) *RedisMarkerStore {
	return &RedisMarkerStore{rdb: client.Underlying()}
}

func markerRedisKey(userID, itemID uuid.UUID) string {
	return "cooldown:" + userID.String() + ":" + itemID.String()
}

func (s *RedisMarkerStore) Get(ctx context.Context, userID, itemID uuid.UUID) (time.Time, bool, error) {
	raw, err := s.rdb.Get(ctx, markerRedisKey(userID, itemID)).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read cooldown marker: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed cooldown marker: %w", err)
	}
	return t, true, nil
}

func (s *RedisMarkerStore) Set(ctx context.Context, userID, itemID uuid.UUID, lastVoteAt time.Time) error {
	key := markerRedisKey(userID, itemID)
	if err := s.rdb.Set(ctx, key, lastVoteAt.Format(time.RFC3339Nano), markerTTL).Err(); err != nil {
		return fmt.Errorf("failed to persist cooldown marker: %w", err)
	}
	return nil
}
