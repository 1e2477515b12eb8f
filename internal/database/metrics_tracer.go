package database

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/opinionpulse/internal/metrics"
)

// queryTracer labels pgx query metrics with the leading SQL verb, keeping
// the label cardinality bounded no matter what the repositories run.
type queryTracer struct{}

var _ pgx.QueryTracer = queryTracer{}

type traceStartKey struct{}

type traceStart struct {
	at   time.Time
	verb string
}

func (queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceStartKey{}, traceStart{at: time.Now(), verb: sqlVerb(data.SQL)})
}

func (queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(traceStartKey{}).(traceStart)
	if !ok {
		return
	}
	metrics.DBQueryDuration.WithLabelValues(start.verb).Observe(time.Since(start.at).Seconds())
	if data.Err != nil {
		metrics.DBErrorsTotal.WithLabelValues(start.verb).Inc()
	}
}

func sqlVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	verb := strings.ToLower(fields[0])
	if len(verb) > 20 {
		verb = verb[:20]
	}
	return verb
}
