// Package metrics declares the Prometheus collectors shared across the
// service. All collectors use promauto and register on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Vote engine metrics
var (
	// VotesTotal tracks vote outcomes by status (committed, rejected_cooldown, failed)
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_total",
			Help: "Vote attempts by outcome status",
		},
		[]string{"status"},
	)

	// VoteRollbacks tracks optimistic mutations reverted after a failed write
	VoteRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vote_rollbacks_total",
			Help: "Optimistic vote mutations rolled back after write failure",
		},
	)

	// VoteChanges tracks yay/nay side switches (distinct from first votes)
	VoteChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vote_changes_total",
			Help: "Votes that switched an existing vote to the other side",
		},
	)

	// AttributeVotesTotal tracks facet tally votes
	AttributeVotesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attribute_votes_total",
			Help: "Votes recorded on attribute tally buckets",
		},
	)
)

// Comment engine metrics
var (
	// CommentOpsTotal tracks comment operations by kind and status
	CommentOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comment_operations_total",
			Help: "Comment operations by kind (add/like/delete/undo) and status",
		},
		[]string{"kind", "status"},
	)

	// CommentCascadeSize observes how many records a cascade delete removed
	CommentCascadeSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "comment_cascade_delete_size",
			Help:    "Number of records removed per cascade delete (parent plus replies)",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)
)

// Reconciler metrics
var (
	// ReconcilerSubscriptions tracks currently subscribed entities
	ReconcilerSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_subscriptions",
			Help: "Entities currently subscribed for reconciliation",
		},
	)

	// PendingMutationsExpired tracks pending markers dropped on timeout
	PendingMutationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pending_mutations_expired_total",
			Help: "Pending optimistic mutations dropped after the bounded timeout",
		},
	)
)

// Broadcaster metrics
var (
	// BroadcasterActiveClients tracks connected websocket clients
	BroadcasterActiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_active_clients",
			Help: "Currently connected websocket clients",
		},
	)

	// BroadcasterActiveItems tracks items with at least one connected client
	BroadcasterActiveItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_active_items",
			Help: "Items with at least one connected websocket client",
		},
	)

	// WebSocketMessageSendDuration tracks websocket write latency
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "Duration of websocket message sends",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// WebSocketPingFailures tracks failed keepalive pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Websocket keepalive pings that failed",
		},
	)

	// WebSocketIdleDisconnects tracks clients dropped for inactivity
	WebSocketIdleDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_idle_disconnects_total",
			Help: "Websocket clients disconnected after the idle timeout",
		},
	)

	// BroadcasterSlowClientsEvicted tracks clients dropped for full send buffers
	BroadcasterSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_slow_clients_evicted_total",
			Help: "Websocket clients evicted because their send buffer was full",
		},
	)
)

// Database metrics
var (
	// DBQueryDuration tracks query latency by statement kind
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// DBErrorsTotal tracks failed queries by statement kind
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Database query errors by statement kind",
		},
		[]string{"query"},
	)
)

// Redis metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
