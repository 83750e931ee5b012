package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/config"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/crawler"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/detector"
	idgen "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/id/uuid"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress"
	brokermem "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress/memory"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
	storemem "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/storage/memory"
)

// fakeDiscoverer yields a scripted page sequence through the handler.
type fakeDiscoverer struct {
	pages  []scan.CrawledPage
	runErr error
	// onPage lets a test mutate store state mid-crawl, e.g. to cancel.
	onPage func(i int)
}

func (d *fakeDiscoverer) Run(_ context.Context, handler crawler.Handler) error {
	if d.runErr != nil {
		return d.runErr
	}
	for i, p := range d.pages {
		if d.onPage != nil {
			d.onPage(i)
		}
		if err := handler(p); err != nil {
			return err
		}
	}
	return nil
}

// failDetector emits one failed finding per page.
type failDetector struct{}

func (failDetector) Name() string    { return "always_fails" }
func (failDetector) Section() string { return "Section 5" }
func (failDetector) Detect(_ context.Context, page scan.CrawledPage, _ *goquery.Document) ([]scan.Finding, error) {
	return []scan.Finding{{
		CheckType: scan.CheckPrivacyNoticeMissing,
		Severity:  scan.SeverityHigh,
		Status:    scan.FindingFail,
		Title:     "No privacy notice link on page",
	}}, nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type env struct {
	store  *storemem.Store
	broker *brokermem.Broker
	orch   *Orchestrator
	scanID uuid.UUID
	appID  uuid.UUID
}

func newEnv(t *testing.T, disc *fakeDiscoverer, discoverErr error) *env {
	t.Helper()
	store := storemem.NewStore()
	broker := brokermem.NewBroker()

	registry := detector.NewRegistry("always_fails")
	registry.Register(failDetector{})
	runner := detector.NewRunner(idgen.Generator{}, zap.NewNop())

	factory := func(context.Context, scan.Application, config.TierConfig) (Discoverer, func(), error) {
		if discoverErr != nil {
			return nil, func() {}, discoverErr
		}
		return disc, func() {}, nil
	}
	tierFor := func(scan.Type) config.TierConfig {
		return config.TierConfig{MaxPages: 10}
	}

	e := &env{
		store:  store,
		broker: broker,
		scanID: uuid.New(),
		appID:  uuid.New(),
	}
	e.orch = New(store, broker, &stubScorer{score: 85}, registry, runner,
		factory, tierFor, &fixedClock{now: time.Unix(1756000000, 0)}, zap.NewNop(), Options{})

	store.PutApplication(scan.Application{ID: e.appID, Name: "Billing", URL: "http://billing.local/"})
	store.PutScan(scan.Scan{
		ID:            e.scanID,
		ApplicationID: e.appID,
		Type:          scan.TypeStandard,
		Status:        scan.StatusQueued,
	})
	return e
}

type stubScorer struct{ score float64 }

func (s *stubScorer) Score([]scan.Finding, int) float64 { return s.score }

func pages(urls ...string) []scan.CrawledPage {
	out := make([]scan.CrawledPage, 0, len(urls))
	for _, u := range urls {
		out = append(out, scan.CrawledPage{URL: u, RoutePath: scan.RoutePath(u), HTMLContent: "<html></html>"})
	}
	return out
}

func collectEvents(t *testing.T, broker *brokermem.Broker, scanID uuid.UUID) (<-chan []byte, func()) {
	t.Helper()
	ch, cancel, err := broker.Subscribe(context.Background(), scanID.String())
	require.NoError(t, err)
	return ch, cancel
}

func decodeAll(ch <-chan []byte) []progress.Event {
	var out []progress.Event
	for {
		select {
		case payload := <-ch:
			var ev progress.Event
			if json.Unmarshal(payload, &ev) == nil {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func TestRunCompletesScan(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{pages: pages("http://billing.local/", "http://billing.local/privacy")}
	e := newEnv(t, disc, nil)
	ch, cancel := collectEvents(t, e.broker, e.scanID)
	defer cancel()

	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID, ApplicationID: e.appID}))

	sc, err := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCompleted, sc.Status)
	require.NotNil(t, sc.CompletedAt)
	require.NotNil(t, sc.OverallScore)
	require.InDelta(t, 85, *sc.OverallScore, 0.01)
	require.Equal(t, 2, sc.Counters.PagesScanned)
	require.Equal(t, 2, sc.Counters.FindingsCount)
	require.Equal(t, 2, sc.Counters.HighCount)
	require.Len(t, e.store.Findings(e.scanID), 2)

	events := decodeAll(ch)
	var types []progress.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	// progress + finding per page, completed at the end
	require.Equal(t, []progress.EventType{
		progress.EventProgress, progress.EventFinding,
		progress.EventProgress, progress.EventFinding,
		progress.EventCompleted,
	}, types)
	last := events[len(events)-1]
	require.InDelta(t, 100, last.Percent, 0.01)
}

func TestRunPersistsBeforeEmitting(t *testing.T) {
	t.Parallel()
	var persistedAtEmit int
	disc := &fakeDiscoverer{pages: pages("http://billing.local/")}
	e := newEnv(t, disc, nil)

	ch, cancel, err := e.broker.Subscribe(context.Background(), e.scanID.String())
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID}))

	// inspect the first progress event against what the store held by then
	payload := <-ch
	var ev progress.Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	persistedAtEmit = len(e.store.Findings(e.scanID))
	require.Equal(t, progress.EventProgress, ev.Type)
	require.LessOrEqual(t, ev.FindingsCount, persistedAtEmit)
}

func TestRunStopsAtPageBoundaryOnCancel(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{
		pages: pages("http://billing.local/", "http://billing.local/a", "http://billing.local/b"),
	}
	e := newEnv(t, disc, nil)
	// cancel while the second page is being processed
	disc.onPage = func(i int) {
		if i == 2 {
			t.Fatal("crawler advanced past the cancellation boundary")
		}
		if i == 1 {
			require.NoError(t, e.store.UpdateScanStatus(
				context.Background(), e.scanID, scan.StatusCancelled, "cancelled by operator"))
		}
	}
	ch, cancel := collectEvents(t, e.broker, e.scanID)
	defer cancel()

	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID}))

	sc, err := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCancelled, sc.Status)
	// both pages up to the boundary were persisted
	require.Equal(t, 2, sc.Counters.PagesScanned)
	require.Len(t, e.store.Findings(e.scanID), 2)

	events := decodeAll(ch)
	last := events[len(events)-1]
	require.Equal(t, progress.EventError, last.Type)
	require.Equal(t, string(scan.StatusCancelled), last.Status)
}

func TestRunMarksFailedOnDiscoveryError(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{runErr: errors.New("browser crashed")}
	e := newEnv(t, disc, nil)
	ch, cancel := collectEvents(t, e.broker, e.scanID)
	defer cancel()

	err := e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID})
	require.Error(t, err)

	sc, loadErr := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, loadErr)
	require.Equal(t, scan.StatusFailed, sc.Status)
	require.Contains(t, sc.StatusMessage, "browser crashed")

	events := decodeAll(ch)
	require.NotEmpty(t, events)
	require.Equal(t, progress.EventError, events[len(events)-1].Type)
}

func TestRunMarksFailedWhenBrowserCannotStart(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, errors.New("chrome not found"))

	err := e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID})
	require.Error(t, err)

	sc, loadErr := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, loadErr)
	require.Equal(t, scan.StatusFailed, sc.Status)
}

func TestRunSkipsTerminalScan(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{pages: pages("http://billing.local/")}
	e := newEnv(t, disc, nil)
	require.NoError(t, e.store.UpdateScanStatus(context.Background(), e.scanID, scan.StatusCancelled, ""))

	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID}))

	sc, err := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCancelled, sc.Status)
	require.Equal(t, 0, sc.Counters.PagesScanned)
}

func TestRunCorrectsTotalPagesUpward(t *testing.T) {
	t.Parallel()
	urls := make([]string, 0, 5)
	for _, p := range []string{"/", "/a", "/b", "/c", "/d"} {
		urls = append(urls, "http://billing.local"+p)
	}
	disc := &fakeDiscoverer{pages: pages(urls...)}
	e := newEnv(t, disc, nil)

	e.orch.estimator = stubEstimator{total: 2} // undercounts the SPA

	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID}))

	sc, err := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, err)
	require.Equal(t, 5, sc.Counters.PagesScanned)
	require.Equal(t, 5, sc.Counters.TotalPages)
}

type stubEstimator struct{ total int }

func (s stubEstimator) Estimate(context.Context, string) (int, error) { return s.total, nil }

// flakyDetector errors on one URL and passes everywhere else.
type flakyDetector struct{ failURL string }

func (flakyDetector) Name() string    { return "flaky" }
func (flakyDetector) Section() string { return "Section 9" }
func (d flakyDetector) Detect(_ context.Context, page scan.CrawledPage, _ *goquery.Document) ([]scan.Finding, error) {
	if page.URL == d.failURL {
		return nil, errors.New("selector engine crashed")
	}
	return []scan.Finding{{
		CheckType: scan.CheckConsentPreselected,
		Severity:  scan.SeverityMedium,
		Status:    scan.FindingFail,
		Title:     "Consent checkbox is pre-selected",
	}}, nil
}

func TestRunSurvivesDetectorErrorMidScan(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{
		pages: pages("http://billing.local/", "http://billing.local/a", "http://billing.local/b"),
	}
	e := newEnv(t, disc, nil)
	registry := detector.NewRegistry()
	registry.Register(failDetector{})
	registry.Register(flakyDetector{failURL: "http://billing.local/a"})
	e.orch.registry = registry

	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID}))

	sc, err := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCompleted, sc.Status)
	require.Equal(t, 3, sc.Counters.PagesScanned)

	// the erroring detector loses only its own page-2 findings
	findings := e.store.Findings(e.scanID)
	require.Len(t, findings, 5)
	var flakyLocations []string
	for _, f := range findings {
		if f.Section == "Section 9" {
			flakyLocations = append(flakyLocations, f.Location)
		}
	}
	require.ElementsMatch(t,
		[]string{"http://billing.local/", "http://billing.local/b"},
		flakyLocations)
}

func TestRunBoundsScanByTierTimeout(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{pages: pages("http://billing.local/")}
	e := newEnv(t, disc, nil)
	e.orch.tierFor = func(scan.Type) config.TierConfig {
		return config.TierConfig{MaxPages: 10, TimeoutMinutes: 30}
	}
	var deadline time.Time
	var bounded bool
	inner := e.orch.discover
	e.orch.discover = func(ctx context.Context, app scan.Application, tier config.TierConfig) (Discoverer, func(), error) {
		deadline, bounded = ctx.Deadline()
		return inner(ctx, app, tier)
	}

	before := time.Now()
	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID}))

	require.True(t, bounded)
	require.WithinDuration(t, before.Add(30*time.Minute), deadline, time.Minute)

	sc, err := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCompleted, sc.Status)
}

func TestRunWithoutTierTimeoutHasNoDeadline(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{pages: pages("http://billing.local/")}
	e := newEnv(t, disc, nil)
	var bounded bool
	inner := e.orch.discover
	e.orch.discover = func(ctx context.Context, app scan.Application, tier config.TierConfig) (Discoverer, func(), error) {
		_, bounded = ctx.Deadline()
		return inner(ctx, app, tier)
	}

	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID}))
	require.False(t, bounded)
}

func TestRunMapsTimeoutToFailed(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{runErr: fmt.Errorf("navigate: %w", context.DeadlineExceeded)}
	e := newEnv(t, disc, nil)
	e.orch.tierFor = func(scan.Type) config.TierConfig {
		return config.TierConfig{MaxPages: 10, TimeoutMinutes: 30}
	}

	err := e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID})
	require.Error(t, err)

	sc, loadErr := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, loadErr)
	require.Equal(t, scan.StatusFailed, sc.Status)
	require.Contains(t, sc.StatusMessage, "30m tier timeout")
}

// lyingStore hides a cancellation from the page-boundary poll, forcing the
// race where the cancel lands after the final poll.
type lyingStore struct{ *storemem.Store }

func (s *lyingStore) ScanStatus(context.Context, uuid.UUID) (scan.Status, error) {
	return scan.StatusRunning, nil
}

func TestRunKeepsCancelledWhenCancelRacesCompletion(t *testing.T) {
	t.Parallel()
	disc := &fakeDiscoverer{pages: pages("http://billing.local/")}
	e := newEnv(t, disc, nil)
	e.orch.store = &lyingStore{e.store}
	disc.onPage = func(int) {
		require.NoError(t, e.store.UpdateScanStatus(
			context.Background(), e.scanID, scan.StatusCancelled, "cancelled by operator"))
	}
	ch, cancel := collectEvents(t, e.broker, e.scanID)
	defer cancel()

	require.NoError(t, e.orch.Run(context.Background(), scan.QueueItem{ScanID: e.scanID}))

	sc, err := e.store.LoadScan(context.Background(), e.scanID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCancelled, sc.Status)
	require.Nil(t, sc.OverallScore)
	for _, ev := range decodeAll(ch) {
		require.NotEqual(t, progress.EventCompleted, ev.Type)
	}
}
