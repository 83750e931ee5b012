package crawler

import (
	"context"
	"net/url"
	"sync"

	"github.com/gocolly/colly/v2"
)

// Estimator sizes a site cheaply before the browser run starts, so progress
// reporting has a denominator from the first page on. It fetches raw HTML
// without JavaScript, which undercounts SPAs; the orchestrator corrects the
// total upward as real discovery overtakes it.
type Estimator struct {
	UserAgent string
	MaxPages  int
	MaxDepth  int
}

// Estimate walks same-domain anchors from baseURL and returns the number of
// distinct pages seen, at least 1 and at most MaxPages.
func (e *Estimator) Estimate(ctx context.Context, baseURL string) (int, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return 1, err
	}
	maxPages := e.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	depth := e.MaxDepth
	if depth <= 0 {
		depth = 3
	}

	var (
		mu    sync.Mutex
		count int
	)

	opts := []colly.CollectorOption{
		colly.AllowedDomains(u.Hostname()),
		colly.MaxDepth(depth),
	}
	if e.UserAgent != "" {
		opts = append(opts, colly.UserAgent(e.UserAgent))
	}
	c := colly.NewCollector(opts...)

	c.OnRequest(func(r *colly.Request) {
		mu.Lock()
		full := count >= maxPages
		mu.Unlock()
		if full || ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	c.OnHTML("a[href]", func(el *colly.HTMLElement) {
		link := el.Request.AbsoluteURL(el.Attr("href"))
		if link != "" {
			el.Request.Visit(link)
		}
	})

	err = c.Visit(baseURL)
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count < 1 {
		count = 1
	}
	if count > maxPages {
		count = maxPages
	}
	if err != nil && count == 1 {
		return 1, err
	}
	return count, nil
}
