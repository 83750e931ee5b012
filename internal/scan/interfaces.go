package scan

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a scan or application is absent.
var ErrNotFound = errors.New("not found")

// ErrTerminal is returned by stores when a status write would move a scan
// out of COMPLETED, FAILED, or CANCELLED.
var ErrTerminal = errors.New("scan already terminal")

// Store persists scans, applications, and findings. Findings are written in
// batches at page boundaries, never row-by-row, to bound write amplification.
type Store interface {
	LoadApplication(ctx context.Context, id uuid.UUID) (Application, error)
	LoadScan(ctx context.Context, id uuid.UUID) (Scan, error)
	UpdateScanStatus(ctx context.Context, id uuid.UUID, status Status, message string) error
	MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time, score float64) error
	SaveFindings(ctx context.Context, scanID uuid.UUID, findings []Finding) error
	UpdateScanCounters(ctx context.Context, scanID uuid.UUID, counters Counters) error
	ScanStatus(ctx context.Context, id uuid.UUID) (Status, error)
}

// Broker relays progress payloads between the worker process and observer
// connections. Publish is fire-and-forget: no delivery guarantee, no replay.
type Broker interface {
	Publish(ctx context.Context, scanID string, payload []byte) error
	// Subscribe returns a channel of payloads for the scan and a cancel
	// function that releases the subscription. The channel is closed when
	// the subscription ends.
	Subscribe(ctx context.Context, scanID string) (<-chan []byte, func(), error)
}

// Scorer computes the overall compliance score from the final finding set.
// The orchestrator consumes the score; it never computes one.
type Scorer interface {
	Score(findings []Finding, pagesScanned int) float64
}

// Queue provides enqueue/dequeue semantics for scan jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces scan and finding IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
