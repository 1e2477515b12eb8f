package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/opinionpulse/internal/domain"
	"github.com/pscheid92/opinionpulse/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

type itemClients map[*websocket.Conn]*socketWriter

// broadcasterCmd is the command interface for the Broadcaster actor.
type broadcasterCmd interface{ isBroadcasterCmd() }

type baseBroadcasterCmd struct{}

func (baseBroadcasterCmd) isBroadcasterCmd() {}

type registerCmd struct {
	baseBroadcasterCmd
	itemID       uuid.UUID
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseBroadcasterCmd
	itemID     uuid.UUID
	connection *websocket.Conn
}

type notifyCmd struct {
	baseBroadcasterCmd
	itemID  uuid.UUID
	payload []byte
}

type getClientCountCmd struct {
	baseBroadcasterCmd
	itemID       uuid.UUID
	replyChannel chan int
}

type stopCmd struct {
	baseBroadcasterCmd
}

// itemUpdate is the wire shape fanned out to websocket clients.
type itemUpdate struct {
	ItemID uuid.UUID                `json:"itemId"`
	View   domain.ItemAggregateView `json:"view"`
}

// Broadcaster fans merged projection updates out to websocket clients. It is
// push-based: the reconciler calls NotifyItem whenever a projection changes,
// and the broadcaster writes the new view to every client watching that item.
type Broadcaster struct {
	cmdCh             chan broadcasterCmd
	clock             clockwork.Clock
	activeClients     map[uuid.UUID]itemClients
	onFirstClient     func(itemID uuid.UUID)
	onItemEmpty       func(itemID uuid.UUID)
	done              chan struct{}
	stopTimeout       time.Duration
	maxClientsPerItem int
}

// NewBroadcaster creates a broadcaster.
// onFirstClient fires when the first client connects for an item on this
// instance; onItemEmpty fires when the last one disconnects. The callbacks
// drive reconciler subscription lifetimes.
// maxClientsPerItem limits connections per item (prevents resource exhaustion).
func NewBroadcaster(onFirstClient func(uuid.UUID), onItemEmpty func(uuid.UUID), clock clockwork.Clock, maxClientsPerItem int) *Broadcaster {
	b := &Broadcaster{
		cmdCh:             make(chan broadcasterCmd, 256),
		clock:             clock,
		activeClients:     make(map[uuid.UUID]itemClients),
		onFirstClient:     onFirstClient,
		onItemEmpty:       onItemEmpty,
		done:              make(chan struct{}),
		stopTimeout:       stopTimeout,
		maxClientsPerItem: maxClientsPerItem,
	}
	go b.run()
	return b
}

// NotifyItem implements domain.ProjectionNotifier. Never blocks the caller:
// the update is dropped if the command channel is full.
func (b *Broadcaster) NotifyItem(itemID uuid.UUID, view domain.ItemAggregateView) {
	payload, err := json.Marshal(itemUpdate{ItemID: itemID, View: view})
	if err != nil {
		slog.Error("Failed to marshal broadcast message", "item_id", itemID.String(), "error", err)
		return
	}
	select {
	case b.cmdCh <- notifyCmd{itemID: itemID, payload: payload}:
	default:
		slog.Warn("Broadcaster command channel full, dropping update", "item_id", itemID.String())
	}
}

// Register adds a client for an item. Returns an error only when the
// per-item client limit is reached.
func (b *Broadcaster) Register(itemID uuid.UUID, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	b.cmdCh <- registerCmd{itemID: itemID, connection: conn, errorChannel: errCh}

	// Use timeout to prevent blocking forever if broadcaster is stuck
	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a client from an item.
func (b *Broadcaster) Unregister(itemID uuid.UUID, conn *websocket.Conn) {
	b.cmdCh <- unregisterCmd{itemID: itemID, connection: conn}
}

// GetClientCount returns the number of connected clients for an item.
// Returns -1 if the command times out.
func (b *Broadcaster) GetClientCount(itemID uuid.UUID) int {
	replyCh := make(chan int, 1)
	b.cmdCh <- getClientCountCmd{itemID: itemID, replyChannel: replyCh}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("GetClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts down the broadcaster, closing all client connections.
// Blocks until the broadcaster goroutine has exited or timeout is reached.
func (b *Broadcaster) Stop() {
	b.cmdCh <- stopCmd{}

	timeout := b.clock.NewTimer(b.stopTimeout)
	defer timeout.Stop()

	select {
	case <-b.done:
		slog.Info("Broadcaster stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Broadcaster stop timeout exceeded, forcing exit", "timeout", b.stopTimeout)
		close(b.done)
	}
}

func (b *Broadcaster) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
			b.closeAllClients("broadcaster panic")
		}
	}()
	defer close(b.done)

	for cmd := range b.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			b.handleRegister(c)
		case unregisterCmd:
			b.handleUnregister(c)
		case notifyCmd:
			b.handleNotify(c)
		case getClientCountCmd:
			c.replyChannel <- len(b.activeClients[c.itemID])
		case stopCmd:
			b.handleStop()
			return
		default:
			slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (b *Broadcaster) handleRegister(c registerCmd) {
	clients, exists := b.activeClients[c.itemID]
	if !exists {
		clients = make(itemClients)
		b.activeClients[c.itemID] = clients
	}

	if len(clients) >= b.maxClientsPerItem {
		slog.Warn("Rejecting client: max clients reached", "item_id", c.itemID.String(), "max_clients", b.maxClientsPerItem)
		c.connection.Close()
		c.errorChannel <- fmt.Errorf("max clients per item (%d) reached", b.maxClientsPerItem)
		return
	}

	// Run callback asynchronously to avoid blocking Register
	if !exists && b.onFirstClient != nil {
		go b.onFirstClient(c.itemID)
	}

	cw := newSocketWriter(c.connection, b.clock)
	clients[c.connection] = cw

	metrics.BroadcasterActiveItems.Set(float64(len(b.activeClients)))
	metrics.BroadcasterActiveClients.Inc()

	slog.Debug("Client registered", "item_id", c.itemID.String(), "total_clients", len(clients))
	c.errorChannel <- nil
}

func (b *Broadcaster) handleUnregister(c unregisterCmd) {
	clients, exists := b.activeClients[c.itemID]
	if !exists {
		return
	}

	cw, exists := clients[c.connection]
	if !exists {
		return
	}

	cw.stop()
	delete(clients, c.connection)

	metrics.BroadcasterActiveClients.Dec()

	if len(clients) == 0 {
		delete(b.activeClients, c.itemID)
		metrics.BroadcasterActiveItems.Set(float64(len(b.activeClients)))
		if b.onItemEmpty != nil {
			b.onItemEmpty(c.itemID)
		}
		slog.Info("Last client disconnected", "item_id", c.itemID.String())
	} else {
		slog.Debug("Client unregistered", "item_id", c.itemID.String(), "remaining_clients", len(clients))
	}
}

func (b *Broadcaster) handleNotify(c notifyCmd) {
	clients, exists := b.activeClients[c.itemID]
	if !exists {
		return
	}

	var slow []*websocket.Conn
	for conn, writer := range clients {
		select {
		case writer.outbound <- c.payload:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow client", "item_id", c.itemID.String())
		metrics.BroadcasterSlowClientsEvicted.Inc()
		b.handleUnregister(unregisterCmd{itemID: c.itemID, connection: conn})
	}
}

func (b *Broadcaster) handleStop() {
	totalClients := 0
	for _, clients := range b.activeClients {
		totalClients += len(clients)
	}

	slog.Info("Broadcaster shutting down", "items", len(b.activeClients), "total_clients", totalClients)

	b.closeAllClients("Server shutting down")

	slog.Info("Broadcaster shutdown complete", "disconnected_clients", totalClients)
}

// closeAllClients closes all client connections with the given reason.
// Used during panic recovery and graceful shutdown.
func (b *Broadcaster) closeAllClients(reason string) {
	for itemID, clients := range b.activeClients {
		for _, cw := range clients {
			cw.stopWithReason(reason)
		}
		delete(b.activeClients, itemID)
		if b.onItemEmpty != nil {
			b.onItemEmpty(itemID)
		}
	}
	metrics.BroadcasterActiveItems.Set(0)
	metrics.BroadcasterActiveClients.Set(0)
}
