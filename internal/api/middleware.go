package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/metrics"
)

// responseWriter captures the status code for the metrics middleware.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counts and latencies labelled by the chi
// route pattern. Websocket upgrades bypass the wrapper because hijacking
// needs the raw ResponseWriter.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.ObserveHTTPRequest(r.Method, route, rw.status, time.Since(start))
	})
}
