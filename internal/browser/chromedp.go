package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// ChromedpConfig controls the behavior of the chromedp driver.
type ChromedpConfig struct {
	UserAgent  string
	NavTimeout time.Duration
	Headless   bool
	WindowW    int
	WindowH    int
}

// ChromedpFactory creates browser sessions from a shared exec allocator.
type ChromedpFactory struct {
	cfg         ChromedpConfig
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedpFactory starts an exec allocator used by all sessions.
func NewChromedpFactory(cfg ChromedpConfig, logger *zap.Logger) *ChromedpFactory {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.WindowW <= 0 {
		cfg.WindowW = 1920
	}
	if cfg.WindowH <= 0 {
		cfg.WindowH = 1080
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(cfg.WindowW, cfg.WindowH),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpFactory{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
}

// Close cancels the allocator context.
func (f *ChromedpFactory) Close() {
	f.allocCancel()
}

// NewDriver opens a fresh browser context for one scan.
func (f *ChromedpFactory) NewDriver(ctx context.Context) (Driver, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)

	setup := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if f.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
	}
	if err := chromedp.Run(taskCtx, setup...); err != nil {
		taskCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	select {
	case <-ctx.Done():
		taskCancel()
		return nil, fmt.Errorf("driver start: %w", ctx.Err())
	default:
	}

	return &chromedpDriver{
		cfg:        f.cfg,
		browserCtx: taskCtx,
		cancel:     taskCancel,
		logger:     f.logger,
	}, nil
}

type chromedpDriver struct {
	cfg        ChromedpConfig
	browserCtx context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
}

func (d *chromedpDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancelTask := context.WithTimeout(d.browserCtx, timeout)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// forwardCancel propagates caller cancellation into the chromedp task
// context, which is rooted at the browser, not the caller.
func forwardCancel(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (d *chromedpDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, d.cfg.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *chromedpDriver) Location(ctx context.Context) (string, error) {
	var loc string
	if err := d.run(ctx, d.cfg.NavTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (d *chromedpDriver) Title(ctx context.Context) (string, error) {
	var title string
	if err := d.run(ctx, d.cfg.NavTimeout, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (d *chromedpDriver) HTML(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, d.cfg.NavTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (d *chromedpDriver) Evaluate(ctx context.Context, script string, out any) error {
	return d.run(ctx, d.cfg.NavTimeout, chromedp.Evaluate(script, out))
}

func (d *chromedpDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, 5*time.Second,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (d *chromedpDriver) Fill(ctx context.Context, selector, value string) error {
	return d.run(ctx, 5*time.Second,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (d *chromedpDriver) PressEnter(ctx context.Context, selector string) error {
	return d.run(ctx, 5*time.Second,
		chromedp.SendKeys(selector, "\r", chromedp.ByQuery),
	)
}

func (d *chromedpDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.cfg.NavTimeout, chromedp.FullScreenshot(&buf, 85)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *chromedpDriver) Cookies(ctx context.Context) ([]scan.Cookie, error) {
	var out []scan.Cookie
	err := d.run(ctx, d.cfg.NavTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("get cookies: %w", err)
		}
		for _, c := range cookies {
			out = append(out, scan.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *chromedpDriver) SetCookies(ctx context.Context, cookies []scan.Cookie) error {
	return d.run(ctx, d.cfg.NavTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			p := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if err := p.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %q: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (d *chromedpDriver) SetBasicAuth(ctx context.Context, username, password string) error {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	headers := network.Headers{"Authorization": "Basic " + token}
	return d.run(ctx, d.cfg.NavTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set basic auth header: %w", err)
		}
		return nil
	}))
}

func (d *chromedpDriver) Close() error {
	d.cancel()
	return nil
}
