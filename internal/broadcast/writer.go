package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/opinionpulse/internal/metrics"
)

const (
	socketWriteTimeout = 5 * time.Second
	keepaliveInterval  = 30 * time.Second
	pongWait           = 60 * time.Second
	watcherIdleLimit   = 5 * time.Minute
	idleNoticeAfter    = 4 * time.Minute
	outboundBuffer     = 16
)

// idleNotice is pushed once before an idle watcher is dropped. Activity is
// anything that triggers the pong handler.
var idleNotice = []byte(`{"notice":"idle connection, closing in 1 minute without activity"}`)

// socketWriter owns all writes to one watcher connection. Every projection
// update, keepalive ping, and close frame goes through its single goroutine;
// nothing else may write to the conn.
type socketWriter struct {
	conn     *websocket.Conn
	clock    clockwork.Clock
	outbound chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu         sync.Mutex
	lastSeen   time.Time
	noticeSent bool
}

func newSocketWriter(conn *websocket.Conn, clock clockwork.Clock) *socketWriter {
	w := &socketWriter{
		conn:     conn,
		clock:    clock,
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
		lastSeen: clock.Now(),
	}
	_ = conn.SetReadDeadline(clock.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = w.conn.SetReadDeadline(w.clock.Now().Add(pongWait))
		w.markSeen()
		return nil
	})
	w.wg.Add(1)
	go w.pump()
	return w
}

func (w *socketWriter) pump() {
	keepalive := w.clock.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	defer w.wg.Done()

	for {
		select {
		case msg, ok := <-w.outbound:
			if !ok {
				return
			}
			start := w.clock.Now()
			if err := w.write(websocket.TextMessage, msg); err != nil {
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(w.clock.Since(start).Seconds())
		case <-keepalive.Chan():
			if w.idleExpired() {
				return
			}
			if err := w.write(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketPingFailures.Inc()
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *socketWriter) write(messageType int, payload []byte) error {
	_ = w.conn.SetWriteDeadline(w.clock.Now().Add(socketWriteTimeout))
	return w.conn.WriteMessage(messageType, payload)
}

func (w *socketWriter) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
	w.wg.Wait()
}

// stopWithReason shuts the pump down first, then sends a close frame with
// the given reason. Ordering matters: the frame may only be written once the
// pump goroutine has exited.
func (w *socketWriter) stopWithReason(reason string) {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()

		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = w.write(websocket.CloseMessage, frame)
		_ = w.conn.Close()
	})
}

func (w *socketWriter) markSeen() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen = w.clock.Now()
	w.noticeSent = false
}

// idleExpired reports whether the watcher has been silent past the idle
// limit, pushing the one-time notice when it crosses the warning threshold.
func (w *socketWriter) idleExpired() bool {
	w.mu.Lock()
	idle := w.clock.Since(w.lastSeen)
	noticed := w.noticeSent
	w.mu.Unlock()

	if idle >= watcherIdleLimit {
		metrics.WebSocketIdleDisconnects.Inc()
		return true
	}
	if idle >= idleNoticeAfter && !noticed {
		if err := w.write(websocket.TextMessage, idleNotice); err == nil {
			w.mu.Lock()
			w.noticeSent = true
			w.mu.Unlock()
		}
	}
	return false
}
