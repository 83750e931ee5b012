// Package detector runs compliance rule checks against crawled pages. Each
// detector inspects one concern in isolation: a detector that fails or
// panics is logged and skipped without touching the findings of its peers.
package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Detector is one compliance rule family evaluated against a single page.
// Detect receives a parsed document alongside the raw page so detectors
// don't each re-parse the HTML.
type Detector interface {
	// Name identifies the detector in logs and metrics.
	Name() string
	// Section is the regulation section the detector's findings cite.
	Section() string
	// Detect inspects one page and returns zero or more findings. ScanID,
	// ID and Location are stamped by the runner afterwards.
	Detect(ctx context.Context, page scan.CrawledPage, doc *goquery.Document) ([]scan.Finding, error)
}

// Registry holds the known detectors and selects them per scan tier.
type Registry struct {
	all  []Detector
	core map[string]struct{}
}

// NewRegistry builds an empty registry. coreNames marks the subset that
// core-only tiers run; the remaining tiers run everything.
func NewRegistry(coreNames ...string) *Registry {
	core := make(map[string]struct{}, len(coreNames))
	for _, n := range coreNames {
		core[n] = struct{}{}
	}
	return &Registry{core: core}
}

// Register appends a detector. Registration order is evaluation order.
func (r *Registry) Register(d Detector) {
	r.all = append(r.all, d)
}

// ForTier returns the detectors a scan runs, per the tier's core-only flag.
func (r *Registry) ForTier(coreOnly bool) []Detector {
	if !coreOnly {
		return r.all
	}
	var out []Detector
	for _, d := range r.all {
		if _, ok := r.core[d.Name()]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Default returns the registry with every built-in detector registered, with
// the consent, privacy-notice and dark-pattern checks marked as the quick
// tier core.
func Default() *Registry {
	r := NewRegistry("consent", "privacy_notice", "dark_patterns")
	r.Register(&ConsentDetector{})
	r.Register(&PrivacyNoticeDetector{})
	r.Register(&DarkPatternDetector{})
	r.Register(&ChildrenDataDetector{})
	r.Register(&RightsDetector{})
	r.Register(&BreachReadinessDetector{})
	return r
}

// Runner executes detectors over pages, stamping identity fields onto every
// finding it returns.
type Runner struct {
	ids    scan.IDGenerator
	logger *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(ids scan.IDGenerator, logger *zap.Logger) *Runner {
	return &Runner{ids: ids, logger: logger}
}

// Run evaluates every detector against one page. A detector error or panic
// drops only that detector's findings for this page.
func (r *Runner) Run(ctx context.Context, scanID uuid.UUID, detectors []Detector, page scan.CrawledPage) []scan.Finding {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTMLContent))
	if err != nil {
		r.logger.Warn("page unparseable, skipping detection",
			zap.String("url", page.URL), zap.Error(err))
		return nil
	}

	var out []scan.Finding
	for _, d := range detectors {
		findings, err := r.runOne(ctx, d, page, doc)
		if err != nil {
			r.logger.Warn("detector failed",
				zap.String("detector", d.Name()),
				zap.String("url", page.URL),
				zap.Error(err))
			continue
		}
		for i := range findings {
			id, err := r.ids.NewID()
			if err != nil {
				r.logger.Error("finding id generation failed", zap.Error(err))
				continue
			}
			findings[i].ID = id
			findings[i].ScanID = scanID
			if findings[i].Location == "" {
				findings[i].Location = page.URL
			}
			if findings[i].Section == "" {
				findings[i].Section = d.Section()
			}
			out = append(out, findings[i])
		}
	}
	return out
}

func (r *Runner) runOne(ctx context.Context, d Detector, page scan.CrawledPage, doc *goquery.Document) (findings []scan.Finding, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("detector panicked: %v", rec)
		}
	}()
	return d.Detect(ctx, page, doc)
}
