package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Relay bridges the progress broker into the Manager. A bridge goroutine
// exists per scan only while that scan has at least one observer: the first
// Attach starts it, the last Detach cancels it.
type Relay struct {
	broker  scan.Broker
	manager *Manager
	logger  *zap.Logger

	mu      sync.Mutex
	bridges map[string]func()
}

// NewRelay wires the relay into the manager's empty-scan callback.
func NewRelay(broker scan.Broker, manager *Manager, logger *zap.Logger) *Relay {
	r := &Relay{
		broker:  broker,
		manager: manager,
		logger:  logger,
		bridges: make(map[string]func()),
	}
	manager.SetOnEmpty(r.stopBridge)
	return r
}

// Attach registers an observer and, for a scan's first observer, starts the
// broker bridge. A subscription failure undoes the registration.
func (r *Relay) Attach(ctx context.Context, scanID string, c Conn) error {
	first := r.manager.Connect(scanID, c)
	if !first {
		return nil
	}
	if err := r.startBridge(ctx, scanID); err != nil {
		r.manager.Disconnect(c)
		return err
	}
	return nil
}

// Detach removes an observer. The manager's callback stops the bridge when
// this was the scan's last observer.
func (r *Relay) Detach(c Conn) {
	r.manager.Disconnect(c)
}

func (r *Relay) startBridge(ctx context.Context, scanID string) error {
	ch, cancel, err := r.broker.Subscribe(ctx, scanID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	stale := r.bridges[scanID]
	r.bridges[scanID] = cancel
	r.mu.Unlock()
	// a bridge left behind by a stop that lost the race gets released here
	if stale != nil {
		stale()
	}

	r.logger.Debug("progress bridge started", zap.String("scan_id", scanID))
	go func() {
		for payload := range ch {
			r.manager.Broadcast(scanID, payload)
		}
		r.logger.Debug("progress bridge stopped", zap.String("scan_id", scanID))
	}()
	return nil
}

func (r *Relay) stopBridge(scanID string) {
	r.mu.Lock()
	// the empty callback fires outside the manager's lock, so an observer
	// may have attached since; their bridge must survive a stale stop
	if r.manager.Count(scanID) > 0 {
		r.mu.Unlock()
		return
	}
	cancel, ok := r.bridges[scanID]
	if ok {
		delete(r.bridges, scanID)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
