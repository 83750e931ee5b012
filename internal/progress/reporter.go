package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Reporter publishes one scan's progress stream. It owns the elapsed/ETA
// arithmetic so the orchestrator only hands it counters. Publish failures
// are logged and swallowed: a broker outage must not fail a scan.
type Reporter struct {
	scanID  uuid.UUID
	broker  scan.Broker
	clock   scan.Clock
	logger  *zap.Logger
	started time.Time
}

// NewReporter starts the elapsed clock at construction time.
func NewReporter(scanID uuid.UUID, broker scan.Broker, clock scan.Clock, logger *zap.Logger) *Reporter {
	return &Reporter{
		scanID:  scanID,
		broker:  broker,
		clock:   clock,
		logger:  logger,
		started: clock.Now(),
	}
}

// PageScanned emits a progress event after one page boundary.
func (r *Reporter) PageScanned(ctx context.Context, c scan.Counters) {
	elapsed := r.clock.Now().Sub(r.started).Seconds()
	ev := Event{
		Type:           EventProgress,
		PagesScanned:   c.PagesScanned,
		TotalPages:     c.TotalPages,
		FindingsCount:  c.FindingsCount,
		CriticalCount:  c.CriticalCount,
		HighCount:      c.HighCount,
		MediumCount:    c.MediumCount,
		LowCount:       c.LowCount,
		CurrentURL:     c.CurrentURL,
		Percent:        Percent(c.PagesScanned, c.TotalPages),
		ElapsedSeconds: elapsed,
		ETASeconds:     eta(elapsed, c.PagesScanned, c.TotalPages),
	}
	r.publish(ctx, ev)
}

// FindingDetected emits a finding event. Only critical and high findings go
// on the stream; the rest arrive with the progress counters.
func (r *Reporter) FindingDetected(ctx context.Context, f scan.Finding) {
	if f.Severity != scan.SeverityCritical && f.Severity != scan.SeverityHigh {
		return
	}
	if f.Status != scan.FindingFail {
		return
	}
	r.publish(ctx, Event{Type: EventFinding, Finding: &f})
}

// Completed emits the terminal success event.
func (r *Reporter) Completed(ctx context.Context, score float64, c scan.Counters) {
	r.publish(ctx, Event{
		Type:          EventCompleted,
		Status:        string(scan.StatusCompleted),
		OverallScore:  &score,
		PagesScanned:  c.PagesScanned,
		TotalPages:    c.TotalPages,
		FindingsCount: c.FindingsCount,
		CriticalCount: c.CriticalCount,
		HighCount:     c.HighCount,
		MediumCount:   c.MediumCount,
		LowCount:      c.LowCount,
		Percent:       100,
	})
}

// Failed emits the terminal error event.
func (r *Reporter) Failed(ctx context.Context, status scan.Status, message string) {
	r.publish(ctx, Event{
		Type:    EventError,
		Status:  string(status),
		Message: message,
	})
}

func (r *Reporter) publish(ctx context.Context, ev Event) {
	ev.ScanID = r.scanID
	ev.Timestamp = r.clock.Now()
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("progress event marshal failed", zap.Error(err))
		return
	}
	if err := r.broker.Publish(ctx, r.scanID.String(), payload); err != nil {
		r.logger.Warn("progress publish failed",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err))
	}
}

func eta(elapsed float64, pagesScanned, totalPages int) float64 {
	if pagesScanned <= 0 || totalPages <= pagesScanned {
		return 0
	}
	perPage := elapsed / float64(pagesScanned)
	return perPage * float64(totalPages-pagesScanned)
}
