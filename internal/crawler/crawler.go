// Package crawler implements browser-driven page discovery: a classic
// link-following phase for server-rendered sites, then a click-based phase
// that reaches routes single-page applications only expose through their
// navigation chrome.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/browser"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// maxClickDepth bounds how far the SPA phase follows nested navigation from
// a discovered route before returning to its siblings.
const maxClickDepth = 3

// Handler consumes each discovered page at the page boundary. Returning an
// error stops discovery and is returned from Run unchanged, which is how
// callers implement cancellation and persistence failures.
type Handler func(page scan.CrawledPage) error

// Config tunes one discovery run.
type Config struct {
	BaseURL          string
	MaxPages         int
	Auth             *scan.AuthConfig
	Rewrite          scan.HostRewriter
	Settle           time.Duration
	PagesPerSecond   float64
	MenuExpandRounds int
}

// Engine walks one application with one browser session. An Engine is
// single-use: construct a fresh one per scan.
type Engine struct {
	cfg       Config
	driver    browser.Driver
	logger    *zap.Logger
	limiter   *rate.Limiter
	framework string

	visitedURLs   map[string]struct{}
	visitedRoutes map[string]struct{}
	captured      int
	started       bool
}

// New builds an Engine around an open browser session.
func New(driver browser.Driver, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Rewrite == nil {
		cfg.Rewrite = scan.NopRewriter
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.PagesPerSecond <= 0 {
		cfg.PagesPerSecond = 2
	}
	if cfg.MenuExpandRounds <= 0 {
		cfg.MenuExpandRounds = 2
	}
	return &Engine{
		cfg:           cfg,
		driver:        driver,
		logger:        logger,
		limiter:       rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1),
		visitedURLs:   make(map[string]struct{}),
		visitedRoutes: make(map[string]struct{}),
	}
}

// Run authenticates, then discovers pages until the budget is exhausted or
// the handler stops it. Per-page failures are logged and skipped; only
// handler errors and context cancellation abort the run.
func (e *Engine) Run(ctx context.Context, handler Handler) error {
	if e.started {
		return errors.New("crawler: engine already ran, construct a new one")
	}
	e.started = true

	base, err := scan.NormalizeURL(e.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("crawler: base url: %w", err)
	}

	e.authenticate(ctx, e.cfg.Auth)

	if err := e.classicPhase(ctx, base, handler); err != nil {
		return err
	}
	if e.captured >= e.cfg.MaxPages || ctx.Err() != nil {
		return ctx.Err()
	}
	return e.spaPhase(ctx, base, handler)
}

// Captured reports how many pages the run produced.
func (e *Engine) Captured() int { return e.captured }

// classicPhase is a breadth-first walk over same-origin anchors starting at
// the base URL.
func (e *Engine) classicPhase(ctx context.Context, base string, handler Handler) error {
	queue := []string{base}
	queued := map[string]struct{}{base: {}}

	for len(queue) > 0 && e.captured < e.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return err
		}
		url := queue[0]
		queue = queue[1:]
		if _, seen := e.visitedURLs[url]; seen {
			continue
		}
		e.visitedURLs[url] = struct{}{}

		page, err := e.visit(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("page visit failed, skipping", zap.String("url", url), zap.Error(err))
			continue
		}
		if e.framework == "" {
			e.framework = e.detectFramework(ctx)
		}
		if err := e.emit(page, handler); err != nil {
			return err
		}

		for _, link := range page.Links {
			norm, err := scan.NormalizeURL(link)
			if err != nil || !scan.SameOrigin(base, norm) {
				continue
			}
			if _, seen := e.visitedURLs[norm]; seen {
				continue
			}
			if _, inQueue := queued[norm]; inQueue {
				continue
			}
			queued[norm] = struct{}{}
			queue = append(queue, norm)
		}
	}
	return nil
}

// spaPhase returns to the base URL and clicks through navigation candidates,
// capturing any route the classic phase could not reach through hrefs.
func (e *Engine) spaPhase(ctx context.Context, base string, handler Handler) error {
	if err := e.driver.Navigate(ctx, e.cfg.Rewrite(base)); err != nil {
		e.logger.Warn("spa phase: return to base failed", zap.Error(err))
		return nil
	}
	e.settle(ctx)
	e.expandMenus(ctx)
	return e.clickThrough(ctx, base, 0, handler)
}

func (e *Engine) clickThrough(ctx context.Context, returnTo string, depth int, handler Handler) error {
	if depth >= maxClickDepth || e.captured >= e.cfg.MaxPages {
		return nil
	}
	candidates := e.navCandidates(ctx)
	e.logger.Debug("nav candidates",
		zap.Int("count", len(candidates)),
		zap.Int("depth", depth))

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.captured >= e.cfg.MaxPages {
			return nil
		}
		newRoute, ok := e.clickCandidate(ctx, cand)
		if !ok {
			continue
		}
		loc, err := e.driver.Location(ctx)
		if err != nil {
			continue
		}
		if _, seen := e.visitedRoutes[newRoute]; seen {
			e.returnTo(ctx, returnTo)
			continue
		}

		page, err := e.capture(ctx, loc)
		if err != nil {
			e.logger.Warn("route capture failed, skipping",
				zap.String("route", newRoute), zap.Error(err))
			e.returnTo(ctx, returnTo)
			continue
		}
		e.logger.Info("discovered route by click",
			zap.String("route", newRoute),
			zap.String("trigger", cand.Text))
		if err := e.emit(page, handler); err != nil {
			return err
		}

		if err := e.clickThrough(ctx, loc, depth+1, handler); err != nil {
			return err
		}
		e.returnTo(ctx, returnTo)
	}
	return nil
}

// clickCandidate clicks one candidate and reports the resulting route when
// the click actually navigated somewhere new. A failed click gets one retry
// after re-expanding menus, since route changes invalidate DOM paths.
func (e *Engine) clickCandidate(ctx context.Context, cand scan.NavElement) (string, bool) {
	before, err := e.driver.Location(ctx)
	if err != nil {
		return "", false
	}
	if err := e.driver.Click(ctx, cand.Selector); err != nil {
		e.expandMenus(ctx)
		if err := e.driver.Click(ctx, cand.Selector); err != nil {
			e.logger.Debug("candidate click failed",
				zap.String("selector", cand.Selector), zap.Error(err))
			return "", false
		}
	}
	e.settle(ctx)
	after, err := e.driver.Location(ctx)
	if err != nil || after == before {
		return "", false
	}
	return scan.RoutePath(after), true
}

func (e *Engine) navCandidates(ctx context.Context) []scan.NavElement {
	var out []scan.NavElement
	if err := e.driver.Evaluate(ctx, navElementsScript, &out); err != nil {
		e.logger.Debug("nav candidate extraction failed", zap.Error(err))
		return nil
	}
	return out
}

// expandMenus clicks collapsed menu toggles so hidden nav items become
// clickable. Rounds stop early once no new toggles appear.
func (e *Engine) expandMenus(ctx context.Context) {
	clicked := make(map[string]struct{})
	for round := 0; round < e.cfg.MenuExpandRounds; round++ {
		var toggles []string
		if err := e.driver.Evaluate(ctx, toggleCandidatesScript, &toggles); err != nil {
			return
		}
		progress := false
		for _, sel := range toggles {
			if _, done := clicked[sel]; done {
				continue
			}
			clicked[sel] = struct{}{}
			if err := e.driver.Click(ctx, sel); err == nil {
				progress = true
			}
		}
		if !progress {
			return
		}
		e.sleep(ctx, 200*time.Millisecond)
	}
}

func (e *Engine) returnTo(ctx context.Context, url string) {
	loc, err := e.driver.Location(ctx)
	if err == nil && loc == url {
		return
	}
	if err := e.driver.Navigate(ctx, e.cfg.Rewrite(url)); err != nil {
		e.logger.Warn("return navigation failed", zap.String("url", url), zap.Error(err))
		return
	}
	e.settle(ctx)
}

// visit navigates to a URL and captures it. Rate limiting applies here, at
// the navigation boundary.
func (e *Engine) visit(ctx context.Context, url string) (scan.CrawledPage, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return scan.CrawledPage{}, err
	}
	if err := e.driver.Navigate(ctx, e.cfg.Rewrite(url)); err != nil {
		return scan.CrawledPage{}, fmt.Errorf("navigate: %w", err)
	}
	e.settle(ctx)
	return e.capture(ctx, url)
}

// capture snapshots the current browser state into a CrawledPage attributed
// to the given URL. Title and extraction failures degrade to empty values;
// only a missing document body fails the capture.
func (e *Engine) capture(ctx context.Context, url string) (scan.CrawledPage, error) {
	html, err := e.driver.HTML(ctx)
	if err != nil {
		return scan.CrawledPage{}, fmt.Errorf("read document: %w", err)
	}
	page := scan.CrawledPage{
		URL:         url,
		HTMLContent: html,
		RoutePath:   scan.RoutePath(url),
	}
	if title, err := e.driver.Title(ctx); err == nil {
		page.Title = title
	}
	if err := e.driver.Evaluate(ctx, linksScript, &page.Links); err != nil {
		e.logger.Debug("link extraction failed", zap.String("url", url), zap.Error(err))
	}
	if err := e.driver.Evaluate(ctx, formsScript, &page.Forms); err != nil {
		e.logger.Debug("form extraction failed", zap.String("url", url), zap.Error(err))
	}
	if err := e.driver.Evaluate(ctx, consentScript, &page.ConsentElements); err != nil {
		e.logger.Debug("consent extraction failed", zap.String("url", url), zap.Error(err))
	}
	if cookies, err := e.driver.Cookies(ctx); err == nil {
		page.Cookies = cookies
	}
	return page, nil
}

// emit records the page against both dedup sets and hands it to the handler.
func (e *Engine) emit(page scan.CrawledPage, handler Handler) error {
	if norm, err := scan.NormalizeURL(page.URL); err == nil {
		e.visitedURLs[norm] = struct{}{}
	}
	e.visitedRoutes[page.RoutePath] = struct{}{}
	e.captured++
	return handler(page)
}
