package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 4096
	wsMaxMessageSize  = 512
)

// handleWebSocket upgrades the connection and registers the client for live
// projection updates on one item. Updates flow one way; the read loop exists
// only to process pongs and detect disconnects.
func (s *Server) handleWebSocket(c echo.Context) error {
	itemID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	ip := c.RealIP()
	if ok, reason := s.connectionGate.Acquire(ip); !ok {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": reason})
	}

	// The item must resolve before we upgrade; unknown IDs get a clean 404.
	if _, err := s.engine.EnsureSubscribed(c.Request().Context(), itemID); err != nil {
		s.connectionGate.Release(ip)
		return err
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin:     newCheckOrigin(s.config.AppURL, isDevelopment(s.config.AppEnv)),
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.connectionGate.Release(ip)
		slog.Warn("WebSocket upgrade failed", "item_id", itemID.String(), "error", err)
		return nil
	}

	if err := s.broadcaster.Register(itemID, conn); err != nil {
		s.connectionGate.Release(ip)
		slog.Warn("WebSocket registration rejected", "item_id", itemID.String(), "error", err)
		return nil
	}

	// Blocks until the client disconnects.
	s.readLoop(conn)

	s.broadcaster.Unregister(itemID, conn)
	s.connectionGate.Release(ip)
	return nil
}

func (s *Server) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(wsMaxMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
