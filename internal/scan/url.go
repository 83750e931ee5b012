package scan

import (
	"fmt"
	"net/url"
	"strings"
)

// HostRewriter maps an outbound URL to the address actually reachable from
// the scanning environment. It is applied uniformly to every navigation in
// the discovery engine and the authentication protocol; the identity rewrite
// is NopRewriter.
type HostRewriter func(rawURL string) string

// NopRewriter returns the URL unchanged.
func NopRewriter(rawURL string) string { return rawURL }

// LoopbackRewriter maps loopback hostnames to the given alias, typically
// host.docker.internal, so a containerized browser can reach a target that
// the submitting client addressed as localhost.
func LoopbackRewriter(alias string) HostRewriter {
	return func(rawURL string) string {
		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" {
			return rawURL
		}
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return rawURL
		}
		if port := u.Port(); port != "" {
			u.Host = alias + ":" + port
		} else {
			u.Host = alias
		}
		return u.String()
	}
}

// NormalizeURL standardizes a URL to avoid duplicate visits. It lowercases
// the scheme and host, strips default ports and fragments, and sorts query
// parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// RoutePath derives the client-side route of a URL: path plus fragment.
// Hash-routed SPAs expose distinct routes under one URL path, so the
// fragment participates in route identity even though NormalizeURL drops it.
func RoutePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	route := u.Path
	if route == "" {
		route = "/"
	}
	if u.Fragment != "" {
		route += "#" + u.Fragment
	}
	return route
}

// SameOrigin reports whether candidate belongs to the host of base.
func SameOrigin(base, candidate string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	c, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if c.Host == "" {
		return true
	}
	return strings.EqualFold(b.Hostname(), c.Hostname())
}
