// Package orchestrator drives one scan through its lifecycle: load, run the
// discovery engine, evaluate detectors, persist and emit at page boundaries,
// and settle the terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/config"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/crawler"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/detector"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/metrics"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// errCancelled is the internal signal that the persisted status flipped to
// CANCELLED and the page loop must stop.
var errCancelled = errors.New("scan cancelled")

// Discoverer is the page source for one scan, satisfied by *crawler.Engine.
type Discoverer interface {
	Run(ctx context.Context, handler crawler.Handler) error
}

// DiscovererFactory builds a single-use Discoverer for one application. The
// returned cleanup releases the browser session and always runs, even when
// the build partially failed.
type DiscovererFactory func(ctx context.Context, app scan.Application, tier config.TierConfig) (Discoverer, func(), error)

// Estimator seeds the total-pages denominator before discovery starts.
type Estimator interface {
	Estimate(ctx context.Context, baseURL string) (int, error)
}

// EvidenceCapturer screenshots serious findings at page boundaries.
type EvidenceCapturer interface {
	Capture(ctx context.Context, scanID uuid.UUID, findings []scan.Finding) []scan.Finding
}

// Orchestrator executes scans. One Orchestrator serves many scans; all
// per-scan state lives on the stack of Run.
type Orchestrator struct {
	store     scan.Store
	broker    scan.Broker
	scorer    scan.Scorer
	registry  *detector.Registry
	runner    *detector.Runner
	discover  DiscovererFactory
	estimator Estimator
	evidence  EvidenceCapturer
	tierFor   func(scan.Type) config.TierConfig
	clock     scan.Clock
	logger    *zap.Logger
}

// Options carries the optional collaborators.
type Options struct {
	Estimator Estimator
	Evidence  EvidenceCapturer
}

// New wires an Orchestrator.
func New(
	store scan.Store,
	broker scan.Broker,
	scorer scan.Scorer,
	registry *detector.Registry,
	runner *detector.Runner,
	discover DiscovererFactory,
	tierFor func(scan.Type) config.TierConfig,
	clock scan.Clock,
	logger *zap.Logger,
	opts Options,
) *Orchestrator {
	metrics.Init()
	return &Orchestrator{
		store:     store,
		broker:    broker,
		scorer:    scorer,
		registry:  registry,
		runner:    runner,
		discover:  discover,
		estimator: opts.Estimator,
		evidence:  opts.Evidence,
		tierFor:   tierFor,
		clock:     clock,
		logger:    logger,
	}
}

// Run executes one queued scan to a terminal state. The returned error is
// diagnostic only: by the time Run returns, the scan row already carries its
// terminal status.
func (o *Orchestrator) Run(ctx context.Context, item scan.QueueItem) error {
	logger := o.logger.With(zap.String("scan_id", item.ScanID.String()))

	sc, err := o.store.LoadScan(ctx, item.ScanID)
	if err != nil {
		return fmt.Errorf("load scan: %w", err)
	}
	if sc.Status.Terminal() {
		logger.Info("scan already terminal, skipping", zap.String("status", string(sc.Status)))
		return nil
	}
	app, err := o.store.LoadApplication(ctx, sc.ApplicationID)
	if err != nil {
		o.fail(ctx, nil, sc, "application not found")
		return fmt.Errorf("load application: %w", err)
	}

	started := o.clock.Now()
	if err := o.store.MarkStarted(ctx, sc.ID, started); err != nil {
		if errors.Is(err, scan.ErrTerminal) {
			logger.Info("scan cancelled before it could start")
			return nil
		}
		return fmt.Errorf("mark started: %w", err)
	}
	metrics.IncActiveScans()
	defer metrics.DecActiveScans()

	reporter := progress.NewReporter(sc.ID, o.broker, o.clock, logger)
	tier := o.tierFor(sc.Type)

	// the tier wall-clock bound covers estimation and discovery; terminal
	// persistence below stays on the caller's context so it survives expiry
	scanCtx := ctx
	if tier.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, time.Duration(tier.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	counters := scan.Counters{TotalPages: o.estimateTotal(scanCtx, app.URL, tier, logger)}
	detectors := o.registry.ForTier(tier.CoreChecksOnly)
	var allFindings []scan.Finding

	engine, cleanup, err := o.discover(scanCtx, app, tier)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		o.fail(ctx, reporter, sc, "browser session failed: "+err.Error())
		return fmt.Errorf("build discoverer: %w", err)
	}

	runErr := engine.Run(scanCtx, func(page scan.CrawledPage) error {
		counters.PagesScanned++
		counters.CurrentURL = page.URL
		if counters.PagesScanned > counters.TotalPages {
			counters.TotalPages = counters.PagesScanned
		}
		metrics.ObservePage()

		findings := o.runner.Run(scanCtx, sc.ID, detectors, page)
		if o.evidence != nil {
			findings = o.evidence.Capture(scanCtx, sc.ID, findings)
		}
		for _, f := range findings {
			counters.Observe(f)
			metrics.ObserveFinding(string(f.Severity))
		}
		allFindings = append(allFindings, findings...)

		// persist first, emit after: observers never see state the store
		// does not have
		if err := o.store.SaveFindings(ctx, sc.ID, findings); err != nil {
			return fmt.Errorf("save findings: %w", err)
		}
		if err := o.store.UpdateScanCounters(ctx, sc.ID, counters); err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
		reporter.PageScanned(ctx, counters)
		for _, f := range findings {
			reporter.FindingDetected(ctx, f)
		}

		status, err := o.store.ScanStatus(ctx, sc.ID)
		if err != nil {
			logger.Warn("status poll failed", zap.Error(err))
			return nil
		}
		if status == scan.StatusCancelled {
			return errCancelled
		}
		return nil
	})

	duration := o.clock.Now().Sub(started)
	switch {
	case errors.Is(runErr, errCancelled):
		logger.Info("scan cancelled at page boundary",
			zap.Int("pages_scanned", counters.PagesScanned))
		reporter.Failed(ctx, scan.StatusCancelled, "scan cancelled")
		metrics.ObserveScanFinished(string(scan.StatusCancelled), string(sc.Type), duration)
		return nil
	case runErr != nil:
		msg := runErr.Error()
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("scan exceeded the %dm tier timeout", tier.TimeoutMinutes)
		}
		o.fail(ctx, reporter, sc, msg)
		metrics.ObserveScanFinished(string(scan.StatusFailed), string(sc.Type), duration)
		return fmt.Errorf("discovery: %w", runErr)
	}

	score := o.scorer.Score(allFindings, counters.PagesScanned)
	if err := o.store.MarkCompleted(ctx, sc.ID, o.clock.Now(), score); err != nil {
		if errors.Is(err, scan.ErrTerminal) {
			// a cancel landed after the last page-boundary poll; the
			// persisted terminal state wins
			logger.Info("scan reached a terminal state during the final pages")
			metrics.ObserveScanFinished(string(scan.StatusCancelled), string(sc.Type), duration)
			return nil
		}
		o.fail(ctx, reporter, sc, "persist completion: "+err.Error())
		return fmt.Errorf("mark completed: %w", err)
	}
	reporter.Completed(ctx, score, counters)
	metrics.ObserveScanFinished(string(scan.StatusCompleted), string(sc.Type), duration)
	logger.Info("scan completed",
		zap.Int("pages_scanned", counters.PagesScanned),
		zap.Int("findings", counters.FindingsCount),
		zap.Float64("score", score))
	return nil
}

func (o *Orchestrator) estimateTotal(ctx context.Context, baseURL string, tier config.TierConfig, logger *zap.Logger) int {
	total := tier.MaxPages
	if total <= 0 {
		total = 1
	}
	if o.estimator == nil {
		return total
	}
	est, err := o.estimator.Estimate(ctx, baseURL)
	if err != nil {
		logger.Debug("page estimate failed, using tier budget", zap.Error(err))
		return total
	}
	if est > 0 && est < total {
		return est
	}
	return total
}

// fail moves the scan to FAILED and emits the error event. Best effort on
// both sides; the original failure is what the caller reports.
func (o *Orchestrator) fail(ctx context.Context, reporter *progress.Reporter, sc scan.Scan, message string) {
	err := o.store.UpdateScanStatus(ctx, sc.ID, scan.StatusFailed, message)
	if errors.Is(err, scan.ErrTerminal) {
		o.logger.Info("scan already terminal, keeping its status",
			zap.String("scan_id", sc.ID.String()))
		return
	}
	if err != nil {
		o.logger.Error("failed to persist FAILED status",
			zap.String("scan_id", sc.ID.String()), zap.Error(err))
	}
	if reporter != nil {
		reporter.Failed(ctx, scan.StatusFailed, message)
	}
}
