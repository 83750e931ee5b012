// Package ws fans scan progress out to websocket observers. The Manager
// tracks who watches which scan; the Relay bridges the progress broker into
// the Manager, one bridge per actively observed scan.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress"
)

// Conn is the subset of a websocket connection the manager uses. Satisfied
// by *gorilla/websocket.Conn through a thin adapter in the api package and
// by fakes in tests.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Manager tracks observer connections per scan. Both maps are guarded by
// one mutex and kept in lockstep: a connection is in scanOf exactly when it
// is in the byScan set for that scan.
type Manager struct {
	mu      sync.Mutex
	byScan  map[string]map[Conn]struct{}
	scanOf  map[Conn]string
	onEmpty func(scanID string)
	logger  *zap.Logger
}

// NewManager returns an empty Manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		byScan: make(map[string]map[Conn]struct{}),
		scanOf: make(map[Conn]string),
		logger: logger,
	}
}

// SetOnEmpty registers a callback invoked, outside the lock, whenever a
// scan loses its last observer. Set once at wiring time, before any
// connection arrives.
func (m *Manager) SetOnEmpty(fn func(scanID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmpty = fn
}

// Connect registers an observer for a scan, sends the connected
// acknowledgment, and reports whether it is the scan's first observer.
func (m *Manager) Connect(scanID string, c Conn) (first bool) {
	m.mu.Lock()
	if m.byScan[scanID] == nil {
		m.byScan[scanID] = make(map[Conn]struct{})
	}
	first = len(m.byScan[scanID]) == 0
	m.byScan[scanID][c] = struct{}{}
	m.scanOf[c] = scanID
	m.mu.Unlock()

	ack := progress.Event{
		Type:      progress.EventConnected,
		Timestamp: time.Now().UTC(),
		Message:   "observing scan " + scanID,
	}
	if id, err := uuid.Parse(scanID); err == nil {
		ack.ScanID = id
	}
	payload, err := json.Marshal(ack)
	if err == nil {
		if err := c.WriteMessage(payload); err != nil {
			m.logger.Debug("connected ack write failed", zap.String("scan_id", scanID), zap.Error(err))
		}
	}
	return first
}

// Disconnect removes an observer from both maps and reports which scan it
// watched and whether it was that scan's last observer. Unknown connections
// return ("", false).
func (m *Manager) Disconnect(c Conn) (scanID string, last bool) {
	m.mu.Lock()
	scanID, ok := m.scanOf[c]
	if !ok {
		m.mu.Unlock()
		return "", false
	}
	delete(m.scanOf, c)
	delete(m.byScan[scanID], c)
	last = len(m.byScan[scanID]) == 0
	if last {
		delete(m.byScan, scanID)
	}
	onEmpty := m.onEmpty
	m.mu.Unlock()

	if last && onEmpty != nil {
		onEmpty(scanID)
	}
	return scanID, last
}

// Broadcast sends payload to every current observer of a scan. The observer
// set is snapshotted under the mutex and writes happen outside it, so a slow
// socket never blocks registration. Connections whose write fails are
// disconnected and closed.
func (m *Manager) Broadcast(scanID string, payload []byte) {
	m.mu.Lock()
	conns := make([]Conn, 0, len(m.byScan[scanID]))
	for c := range m.byScan[scanID] {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(payload); err != nil {
			m.logger.Debug("observer write failed, dropping connection",
				zap.String("scan_id", scanID), zap.Error(err))
			m.Disconnect(c)
			if closeErr := c.Close(); closeErr != nil {
				m.logger.Debug("observer close failed", zap.Error(closeErr))
			}
		}
	}
}

// Count reports the current observers of a scan.
func (m *Manager) Count(scanID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byScan[scanID])
}
