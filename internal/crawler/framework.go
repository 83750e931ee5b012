package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Frontend frameworks the engine recognizes. Detection drives how long and
// how the engine waits for the DOM to settle after navigation or a click.
const (
	frameworkAngular = "angular"
	frameworkReact   = "react"
	frameworkVue     = "vue"
	frameworkNext    = "next"
)

// detectFramework probes the current page for well-known framework globals.
// Runs once per crawl; an empty result means a classic server-rendered site.
func (e *Engine) detectFramework(ctx context.Context) string {
	var fw string
	if err := e.driver.Evaluate(ctx, frameworkProbeScript, &fw); err != nil {
		e.logger.Debug("framework probe failed", zap.Error(err))
		return ""
	}
	if fw != "" {
		e.logger.Info("detected frontend framework", zap.String("framework", fw))
	}
	return fw
}

// settle waits for the page to reach a steady state after navigation or a
// simulated click. All frameworks get the base grace period; Angular
// additionally polls its testability API until stable or the deadline hits.
func (e *Engine) settle(ctx context.Context) {
	e.sleep(ctx, e.cfg.Settle)

	if e.framework != frameworkAngular {
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var stable bool
		if err := e.driver.Evaluate(ctx, angularStableScript, &stable); err != nil || stable {
			return
		}
		e.sleep(ctx, 100*time.Millisecond)
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
