package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestID(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		id := NewRequestID()
		require.Len(t, id, 8)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 64, "ids must not collide across a request burst")
}

func TestRequestIDRoundtrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "deadbeef")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", id)
}

func TestRequestIDAbsent(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
	}{
		{name: "bare context", ctx: context.Background()},
		{name: "empty id stored", ctx: WithRequestID(context.Background(), "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := RequestID(tt.ctx)
			assert.False(t, ok)
			assert.Empty(t, id)
		})
	}
}

func requestLogger(buf *bytes.Buffer) *slog.Logger {
	inner := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewLogHandler(inner))
}

func TestLogHandlerTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := requestLogger(&buf)

	ctx := WithRequestID(context.Background(), "cafe0042")
	logger.InfoContext(ctx, "vote committed", "item_id", "i-1")

	out := buf.String()
	assert.Contains(t, out, "request_id=cafe0042")
	assert.Contains(t, out, "item_id=i-1")
	assert.Contains(t, out, "vote committed")
}

func TestLogHandlerQuietWithoutID(t *testing.T) {
	var buf bytes.Buffer
	logger := requestLogger(&buf)

	logger.InfoContext(context.Background(), "background reconcile tick")

	assert.NotContains(t, buf.String(), "request_id")
}

func TestLogHandlerKeepsLoggerAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := requestLogger(&buf).With("component", "engine")

	ctx := WithRequestID(context.Background(), "0badf00d")
	logger.InfoContext(ctx, "staged")

	out := buf.String()
	assert.Contains(t, out, "request_id=0badf00d")
	assert.Contains(t, out, "component=engine")
}

func TestLogHandlerGroupedAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := requestLogger(&buf).WithGroup("vote")

	ctx := WithRequestID(context.Background(), "feed5eed")
	logger.InfoContext(ctx, "rolled back", "reason", "store_down")

	out := buf.String()
	assert.Contains(t, out, "vote.reason=store_down")
	assert.Contains(t, out, "request_id=feed5eed")
}
