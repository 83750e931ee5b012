// Package browser defines the automation driver capability the discovery
// engine is written against, plus its chromedp implementation.
package browser

import (
	"context"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Driver is a single browsing session. One driver serves one scan; page
// processing within a scan is sequential, so implementations need not be
// safe for concurrent calls.
type Driver interface {
	// Navigate opens the URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Location returns the current page URL after any client-side routing.
	Location(ctx context.Context) (string, error)
	// Title returns the current document title.
	Title(ctx context.Context) (string, error)
	// HTML returns the serialized DOM at the time of the call.
	HTML(ctx context.Context) (string, error)
	// Evaluate runs a script in the page and unmarshals its result into out.
	Evaluate(ctx context.Context, script string, out any) error
	// Click clicks the first visible element matching the selector.
	Click(ctx context.Context, selector string) error
	// Fill clears and types into the first element matching the selector.
	Fill(ctx context.Context, selector, value string) error
	// PressEnter sends the Enter key to the element.
	PressEnter(ctx context.Context, selector string) error
	// Screenshot captures the full page.
	Screenshot(ctx context.Context) ([]byte, error)
	// Cookies snapshots the session cookies.
	Cookies(ctx context.Context) ([]scan.Cookie, error)
	// SetCookies injects cookies into the browsing context.
	SetCookies(ctx context.Context, cookies []scan.Cookie) error
	// SetBasicAuth attaches HTTP basic credentials to subsequent requests.
	SetBasicAuth(ctx context.Context, username, password string) error
	// Close tears the session down.
	Close() error
}

// Factory builds one driver per scan job.
type Factory interface {
	NewDriver(ctx context.Context) (Driver, error)
}
