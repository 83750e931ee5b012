package evidence

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/browser"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Capturer screenshots the pages behind serious findings after the scan's
// detection pass. Captures run concurrently, bounded by a semaphore so a
// finding-heavy scan cannot fork an unbounded number of browser tabs.
type Capturer struct {
	factory browser.Factory
	blobs   BlobStore
	rewrite scan.HostRewriter
	sem     *semaphore.Weighted
	logger  *zap.Logger
}

// NewCapturer bounds concurrent captures at maxConcurrent.
func NewCapturer(factory browser.Factory, blobs BlobStore, rewrite scan.HostRewriter, maxConcurrent int64, logger *zap.Logger) *Capturer {
	if rewrite == nil {
		rewrite = scan.NopRewriter
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Capturer{
		factory: factory,
		blobs:   blobs,
		rewrite: rewrite,
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger,
	}
}

// Capture screenshots every critical or high failed finding that has a
// location and returns the findings with ScreenshotPath filled in. An
// individual capture failure leaves its finding untouched.
func (c *Capturer) Capture(ctx context.Context, scanID uuid.UUID, findings []scan.Finding) []scan.Finding {
	out := make([]scan.Finding, len(findings))
	copy(out, findings)

	var wg sync.WaitGroup
	for i := range out {
		if !c.wantsEvidence(out[i]) {
			continue
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(f *scan.Finding) {
			defer wg.Done()
			defer c.sem.Release(1)
			uri, err := c.captureOne(ctx, scanID, *f)
			if err != nil {
				c.logger.Warn("evidence capture failed",
					zap.String("finding_id", f.ID.String()),
					zap.String("location", f.Location),
					zap.Error(err))
				return
			}
			f.ScreenshotPath = uri
		}(&out[i])
	}
	wg.Wait()
	return out
}

func (c *Capturer) wantsEvidence(f scan.Finding) bool {
	if f.Status != scan.FindingFail || f.Location == "" {
		return false
	}
	return f.Severity == scan.SeverityCritical || f.Severity == scan.SeverityHigh
}

func (c *Capturer) captureOne(ctx context.Context, scanID uuid.UUID, f scan.Finding) (string, error) {
	driver, err := c.factory.NewDriver(ctx)
	if err != nil {
		return "", fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			c.logger.Debug("evidence browser close failed", zap.Error(err))
		}
	}()

	if err := driver.Navigate(ctx, c.rewrite(f.Location)); err != nil {
		return "", fmt.Errorf("revisit %s: %w", f.Location, err)
	}
	shot, err := driver.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}

	path := fmt.Sprintf("scans/%s/findings/%s.png", scanID, f.ID)
	uri, err := c.blobs.PutObject(ctx, path, "image/png", bytes.NewReader(shot))
	if err != nil {
		return "", fmt.Errorf("store screenshot: %w", err)
	}
	return uri, nil
}
