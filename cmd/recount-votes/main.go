// Command recount-votes verifies item aggregate counters against the vote
// records in Redis and optionally repairs drift. Counters and records commit
// atomically in normal operation, so drift indicates external interference
// or a bug; this tool is the operational safety net.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	votesSegment = "/votes/"
	scanCount    = 100
)

type tally struct {
	yay    int64
	nay    int64
	voters int64
}

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		fix      = flag.Bool("fix", false, "Write corrected counters back to Redis")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	opts, err := goredis.ParseURL(*redisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	rdb := goredis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	if err := recount(ctx, rdb, *fix); err != nil {
		log.Fatalf("Recount failed: %v", err)
	}

	slog.Info("Recount complete")
}

func recount(ctx context.Context, rdb *goredis.Client, fix bool) error {
	start := time.Now()

	tallies, scanned, err := collectTallies(ctx, rdb)
	if err != nil {
		return err
	}

	var checked, drifted, repaired int
	for itemKey, t := range tallies {
		checked++

		current, err := readCounters(ctx, rdb, itemKey)
		if err != nil {
			return fmt.Errorf("failed to read counters for %s: %w", itemKey, err)
		}

		if current.yay == t.yay && current.nay == t.nay && current.voters == t.voters {
			slog.Debug("Counters match", "item", itemKey)
			continue
		}

		drifted++
		slog.Warn("Counter drift detected",
			"item", itemKey,
			"stored_yay", current.yay, "actual_yay", t.yay,
			"stored_nay", current.nay, "actual_nay", t.nay,
			"stored_voters", current.voters, "actual_voters", t.voters)

		if fix {
			if err := writeCounters(ctx, rdb, itemKey, t); err != nil {
				return fmt.Errorf("failed to repair %s: %w", itemKey, err)
			}
			repaired++
		}
	}

	slog.Info("Recount summary",
		"records_scanned", scanned,
		"items_checked", checked,
		"items_drifted", drifted,
		"items_repaired", repaired,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// collectTallies scans all vote record documents and recomputes per-item
// totals from scratch.
func collectTallies(ctx context.Context, rdb *goredis.Client) (map[string]tally, int, error) {
	tallies := make(map[string]tally)
	var cursor uint64
	var scanned int

	for {
		keys, nextCursor, err := rdb.Scan(ctx, cursor, "doc:*"+votesSegment+"*", scanCount).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("scan failed: %w", err)
		}

		for _, key := range keys {
			scanned++

			idx := strings.LastIndex(key, votesSegment)
			if idx < 0 {
				continue
			}
			itemKey := key[:idx]

			raw, err := rdb.HGet(ctx, key, "isYay").Result()
			if err == goredis.Nil {
				slog.Debug("Vote record missing isYay field", "key", key)
				continue
			}
			if err != nil {
				return nil, 0, fmt.Errorf("failed to read %s: %w", key, err)
			}

			var isYay bool
			if err := json.Unmarshal([]byte(raw), &isYay); err != nil {
				slog.Warn("Invalid isYay value", "key", key, "value", raw)
				continue
			}

			t := tallies[itemKey]
			if isYay {
				t.yay++
			} else {
				t.nay++
			}
			t.voters++
			tallies[itemKey] = t
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return tallies, scanned, nil
}

func readCounters(ctx context.Context, rdb *goredis.Client, itemKey string) (tally, error) {
	var t tally
	fields, err := rdb.HMGet(ctx, itemKey, "yayCount", "nayCount", "uniqueVoters").Result()
	if err != nil {
		return t, err
	}
	t.yay = decodeInt(fields[0])
	t.nay = decodeInt(fields[1])
	t.voters = decodeInt(fields[2])
	return t, nil
}

func writeCounters(ctx context.Context, rdb *goredis.Client, itemKey string, t tally) error {
	return rdb.HSet(ctx, itemKey,
		"yayCount", t.yay,
		"nayCount", t.nay,
		"totalVotes", t.yay+t.nay,
		"uniqueVoters", t.voters,
	).Err()
}

func decodeInt(raw any) int64 {
	s, ok := raw.(string)
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return 0
	}
	return n
}

func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}
