package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/metrics"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// auth happens upstream; the scanner UI is served from another origin
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the fan-out manager. Gorilla allows
// only one concurrent writer, and broadcasts race with pong replies, so
// writes are serialized here.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// observeScan upgrades the request and streams progress events until the
// client hangs up. Clients may send "ping" text frames to keep intermediate
// proxies from idling out the connection.
func (s *Server) observeScan(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.ScanStatus(r.Context(), scanID); err != nil {
		if errors.Is(err, scan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		s.logger.Error("load scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := &wsConn{conn: raw}

	// the bridge may serve later observers of the same scan, so its
	// subscription must not be tied to this request's context
	if err := s.relay.Attach(context.Background(), scanID.String(), conn); err != nil {
		s.logger.Error("progress attach failed", zap.String("scan_id", scanID.String()), zap.Error(err))
		_ = raw.Close()
		return
	}
	metrics.IncProgressObservers()
	defer func() {
		s.relay.Detach(conn)
		metrics.DecProgressObservers()
		_ = raw.Close()
	}()

	for {
		msgType, payload, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", zap.String("scan_id", scanID.String()), zap.Error(err))
			}
			return
		}
		if msgType == websocket.TextMessage && string(payload) == "ping" {
			if err := conn.WriteMessage([]byte(`{"type":"pong"}`)); err != nil {
				return
			}
		}
	}
}
