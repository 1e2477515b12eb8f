package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/opinionpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxClientsPerItem = 5

// testBroadcaster sets up a Broadcaster behind a test websocket server.
func testBroadcaster(t *testing.T, onFirstClient, onItemEmpty func(uuid.UUID)) (*Broadcaster, func(itemID uuid.UUID) *ws.Conn) {
	t.Helper()

	broadcaster := NewBroadcaster(onFirstClient, onItemEmpty, clockwork.NewRealClock(), testMaxClientsPerItem)
	t.Cleanup(func() { broadcaster.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		itemID := uuid.MustParse(r.URL.Query().Get("item"))
		_ = broadcaster.Register(itemID, conn)

		go func() {
			defer broadcaster.Unregister(itemID, conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}))
	t.Cleanup(func() { server.Close() })

	dial := func(itemID uuid.UUID) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?item=" + itemID.String()
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return broadcaster, dial
}

func waitForClientCount(b *Broadcaster, itemID uuid.UUID, expected int) bool {
	for i := 0; i < 100; i++ {
		if b.GetClientCount(itemID) == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func readUpdate(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(msg, &result))
	return result
}

func TestBroadcaster_NotifyDeliversUpdate(t *testing.T) {
	broadcaster, dial := testBroadcaster(t, nil, nil)
	itemID := uuid.New()

	conn := dial(itemID)
	require.True(t, waitForClientCount(broadcaster, itemID, 1))

	broadcaster.NotifyItem(itemID, domain.ItemAggregateView{YayCount: 12, NayCount: 3})

	result := readUpdate(t, conn)
	assert.Equal(t, itemID.String(), result["itemId"])

	view, ok := result["view"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(12), view["yayCount"])
	assert.Equal(t, float64(3), view["nayCount"])
}

func TestBroadcaster_MultipleClientsReceiveSameUpdate(t *testing.T) {
	broadcaster, dial := testBroadcaster(t, nil, nil)
	itemID := uuid.New()

	conn1 := dial(itemID)
	conn2 := dial(itemID)
	require.True(t, waitForClientCount(broadcaster, itemID, 2))

	broadcaster.NotifyItem(itemID, domain.ItemAggregateView{YayCount: 7})

	for _, conn := range []*ws.Conn{conn1, conn2} {
		result := readUpdate(t, conn)
		view := result["view"].(map[string]any)
		assert.Equal(t, float64(7), view["yayCount"])
	}
}

func TestBroadcaster_NotifyOnlyReachesWatchers(t *testing.T) {
	broadcaster, dial := testBroadcaster(t, nil, nil)
	watched := uuid.New()
	other := uuid.New()

	conn := dial(other)
	require.True(t, waitForClientCount(broadcaster, other, 1))

	broadcaster.NotifyItem(watched, domain.ItemAggregateView{YayCount: 99})

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestBroadcaster_LifecycleCallbacks(t *testing.T) {
	var mu sync.Mutex
	var firsts, empties []uuid.UUID
	onFirst := func(id uuid.UUID) {
		mu.Lock()
		defer mu.Unlock()
		firsts = append(firsts, id)
	}
	onEmpty := func(id uuid.UUID) {
		mu.Lock()
		defer mu.Unlock()
		empties = append(empties, id)
	}

	broadcaster, dial := testBroadcaster(t, onFirst, onEmpty)
	itemID := uuid.New()

	conn1 := dial(itemID)
	require.True(t, waitForClientCount(broadcaster, itemID, 1))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(firsts) == 1 && firsts[0] == itemID
	}, time.Second, time.Millisecond)

	// A second client on the same item does not re-fire the first callback.
	conn2 := dial(itemID)
	require.True(t, waitForClientCount(broadcaster, itemID, 2))

	conn1.Close()
	require.True(t, waitForClientCount(broadcaster, itemID, 1))
	mu.Lock()
	assert.Len(t, firsts, 1)
	assert.Empty(t, empties)
	mu.Unlock()

	conn2.Close()
	require.True(t, waitForClientCount(broadcaster, itemID, 0))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(empties) == 1 && empties[0] == itemID
	}, time.Second, time.Millisecond)
}

func TestBroadcaster_GetClientCount(t *testing.T) {
	broadcaster, dial := testBroadcaster(t, nil, nil)
	itemID := uuid.New()

	assert.Equal(t, 0, broadcaster.GetClientCount(itemID))

	conn1 := dial(itemID)
	require.True(t, waitForClientCount(broadcaster, itemID, 1))

	dial(itemID)
	require.True(t, waitForClientCount(broadcaster, itemID, 2))

	conn1.Close()
	require.True(t, waitForClientCount(broadcaster, itemID, 1))
}

func TestBroadcaster_MaxClientsPerItem(t *testing.T) {
	broadcaster := NewBroadcaster(nil, nil, clockwork.NewRealClock(), testMaxClientsPerItem)
	t.Cleanup(func() { broadcaster.Stop() })

	itemID := uuid.New()

	for i := 0; i < testMaxClientsPerItem; i++ {
		server, _ := newTestConnPair(t)
		require.NoError(t, broadcaster.Register(itemID, server), "client %d should register", i)
	}
	assert.Equal(t, testMaxClientsPerItem, broadcaster.GetClientCount(itemID))

	server, _ := newTestConnPair(t)
	err := broadcaster.Register(itemID, server)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max clients")
	assert.Equal(t, testMaxClientsPerItem, broadcaster.GetClientCount(itemID))
}

func TestBroadcaster_NotifyWithoutClientsNoPanic(t *testing.T) {
	broadcaster := NewBroadcaster(nil, nil, clockwork.NewRealClock(), testMaxClientsPerItem)
	t.Cleanup(func() { broadcaster.Stop() })

	broadcaster.NotifyItem(uuid.New(), domain.ItemAggregateView{})
}

func TestBroadcaster_StopClosesClients(t *testing.T) {
	broadcaster, dial := testBroadcaster(t, nil, nil)
	itemID := uuid.New()

	conn := dial(itemID)
	require.True(t, waitForClientCount(broadcaster, itemID, 1))

	broadcaster.Stop()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}
