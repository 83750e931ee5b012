package crawler

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

var loginURLPattern = regexp.MustCompile(`(?i)(login|signin|sign-in|auth)`)

// Selector strategies tried in order when the application config does not
// pin exact selectors. Covers plain HTML, Angular reactive forms and the
// usual id/placeholder conventions.
var (
	usernameSelectors = []string{
		`input[name="username"]`,
		`input[name="email"]`,
		`input[type="email"]`,
		`input[formcontrolname="username"]`,
		`input[formcontrolname="email"]`,
		`input[id*="user"]`,
		`input[id*="email"]`,
		`input[placeholder*="user"]`,
		`input[placeholder*="email"]`,
		`input[type="text"]`,
	}
	passwordSelectors = []string{
		`input[type="password"]`,
		`input[name="password"]`,
		`input[formcontrolname="password"]`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[id*="login"]`,
		`button[class*="login"]`,
		`form button`,
	}
)

// authenticate runs the configured auth sub-protocol before discovery
// starts. Failures never abort the crawl: the engine degrades to an
// unauthenticated session and says so in the log.
func (e *Engine) authenticate(ctx context.Context, auth *scan.AuthConfig) {
	if auth == nil || auth.Type == scan.AuthNone {
		return
	}
	var err error
	switch auth.Type {
	case scan.AuthForm:
		err = e.formLogin(ctx, auth)
	case scan.AuthBasic:
		err = e.driver.SetBasicAuth(ctx, auth.Username, auth.Password)
	case scan.AuthCookie, scan.AuthSession:
		err = e.driver.SetCookies(ctx, auth.Cookies)
	default:
		err = fmt.Errorf("unknown auth type %q", auth.Type)
	}
	if err != nil {
		e.logger.Warn("authentication failed, continuing unauthenticated",
			zap.String("auth_type", string(auth.Type)),
			zap.Error(err))
		return
	}
	e.logger.Info("authenticated", zap.String("auth_type", string(auth.Type)))
}

func (e *Engine) formLogin(ctx context.Context, auth *scan.AuthConfig) error {
	loginURL := auth.LoginURL
	if loginURL == "" {
		return fmt.Errorf("form auth requires a login URL")
	}
	if err := e.driver.Navigate(ctx, e.cfg.Rewrite(loginURL)); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	e.settle(ctx)

	userSel, err := e.fillFirst(ctx, withOverride(auth.UsernameSelector, usernameSelectors), auth.Username)
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	passSel, err := e.fillFirst(ctx, withOverride(auth.PasswordSelector, passwordSelectors), auth.Password)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	e.logger.Debug("filled credentials",
		zap.String("username_selector", userSel),
		zap.String("password_selector", passSel))

	if !e.clickFirst(ctx, withOverride(auth.SubmitSelector, submitSelectors)) {
		// No clickable submit found, Enter in the password field usually
		// triggers the form anyway.
		if err := e.driver.PressEnter(ctx, passSel); err != nil {
			return fmt.Errorf("submit login form: %w", err)
		}
	}

	if err := e.awaitLogin(ctx, loginURL); err != nil {
		if msgs := e.scrapeLoginErrors(ctx); len(msgs) > 0 {
			return fmt.Errorf("%w: page reported: %s", err, strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// awaitLogin polls for a success signal: either the browser left the login
// URL or a session-looking cookie appeared.
func (e *Engine) awaitLogin(ctx context.Context, loginURL string) error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		e.sleep(ctx, 500*time.Millisecond)
		loc, err := e.driver.Location(ctx)
		if err == nil && loc != "" && !loginURLPattern.MatchString(loc) && loc != loginURL {
			return nil
		}
		if cookies, err := e.driver.Cookies(ctx); err == nil && hasSessionCookie(cookies) {
			return nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return fmt.Errorf("no login success signal, still at %s", loc)
		}
	}
}

func hasSessionCookie(cookies []scan.Cookie) bool {
	for _, c := range cookies {
		name := strings.ToLower(c.Name)
		if strings.Contains(name, "session") || strings.Contains(name, "sid") ||
			strings.Contains(name, "token") || strings.Contains(name, "auth") {
			return true
		}
	}
	return false
}

// fillFirst tries selectors in order and fills the first one visible on the
// page. Returns the selector that worked.
func (e *Engine) fillFirst(ctx context.Context, selectors []string, value string) (string, error) {
	for _, sel := range selectors {
		if !e.isVisible(ctx, sel) {
			continue
		}
		if err := e.driver.Fill(ctx, sel, value); err != nil {
			e.logger.Debug("fill failed, trying next selector", zap.String("selector", sel), zap.Error(err))
			continue
		}
		return sel, nil
	}
	return "", fmt.Errorf("no matching visible field among %d selectors", len(selectors))
}

func (e *Engine) clickFirst(ctx context.Context, selectors []string) bool {
	for _, sel := range selectors {
		if !e.isVisible(ctx, sel) {
			continue
		}
		if err := e.driver.Click(ctx, sel); err == nil {
			return true
		}
	}
	return false
}

func (e *Engine) isVisible(ctx context.Context, selector string) bool {
	var visible bool
	if err := e.driver.Evaluate(ctx, visibleScript(selector), &visible); err != nil {
		return false
	}
	return visible
}

func (e *Engine) scrapeLoginErrors(ctx context.Context) []string {
	var msgs []string
	if err := e.driver.Evaluate(ctx, loginErrorScript, &msgs); err != nil {
		return nil
	}
	return msgs
}

func withOverride(override string, fallbacks []string) []string {
	if override == "" {
		return fallbacks
	}
	return append([]string{override}, fallbacks...)
}
