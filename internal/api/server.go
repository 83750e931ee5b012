// Package api exposes the HTTP interface for the scanner service. Notable
// routes:
//   - GET  /healthz and /readyz for probes.
//   - GET  /metrics for Prometheus scraping.
//   - POST /api/v1/scans/{scan_id}/run and /cancel for lifecycle control.
//   - GET  /api/v1/scans/{scan_id}/progress for polling clients.
//   - GET  /api/v1/scans/ws/{scan_id} for live progress over websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/metrics"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/ws"
)

// Enqueuer submits queued scans for execution. Satisfied by the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, item scan.QueueItem) error
}

// Server wires HTTP handlers to the store, the queue, and the progress
// relay.
type Server struct {
	router chi.Router
	store  scan.Store
	queue  Enqueuer
	relay  *ws.Relay
	clock  scan.Clock
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store scan.Store, queue Enqueuer, relay *ws.Relay, clock scan.Clock, logger *zap.Logger) *Server {
	metrics.Init()
	s := &Server{
		store:  store,
		queue:  queue,
		relay:  relay,
		clock:  clock,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1/scans", func(r chi.Router) {
		r.Get("/ws/{scan_id}", s.observeScan)
		r.Route("/{scan_id}", func(r chi.Router) {
			r.Post("/run", s.runScan)
			r.Post("/cancel", s.cancelScan)
			r.Get("/progress", s.scanProgress)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// the store answers a cheap read when it is reachable
	if _, err := s.store.ScanStatus(r.Context(), uuid.Nil); err != nil && !errors.Is(err, scan.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// runScan moves a PENDING scan to QUEUED and hands it to the dispatcher.
func (s *Server) runScan(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := s.store.LoadScan(r.Context(), scanID)
	if err != nil {
		if errors.Is(err, scan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		s.logger.Error("load scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	if sc.Status != scan.StatusPending {
		writeError(w, http.StatusConflict, "scan is not pending, current status: "+string(sc.Status))
		return
	}

	if err := s.store.UpdateScanStatus(r.Context(), scanID, scan.StatusQueued, ""); err != nil {
		if errors.Is(err, scan.ErrTerminal) {
			writeError(w, http.StatusConflict, "scan already finished")
			return
		}
		s.logger.Error("queue status update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue scan")
		return
	}
	item := scan.QueueItem{
		ScanID:        scanID,
		ApplicationID: sc.ApplicationID,
		Submitted:     s.clock.Now(),
	}
	if err := s.queue.Enqueue(r.Context(), item); err != nil {
		s.logger.Error("enqueue failed", zap.Error(err))
		// undo the optimistic transition so the scan can be retried
		if revertErr := s.store.UpdateScanStatus(r.Context(), scanID, scan.StatusPending, "enqueue failed"); revertErr != nil {
			s.logger.Error("queue revert failed", zap.Error(revertErr))
		}
		writeError(w, http.StatusServiceUnavailable, "scan queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"scan_id": scanID.String(),
		"status":  string(scan.StatusQueued),
	})
}

// cancelScan requests cancellation. Running scans notice the persisted
// status at their next page boundary; pending or queued scans simply never
// start.
func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := s.store.LoadScan(r.Context(), scanID)
	if err != nil {
		if errors.Is(err, scan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		s.logger.Error("load scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	if sc.Status.Terminal() {
		writeError(w, http.StatusConflict, "scan already finished with status "+string(sc.Status))
		return
	}
	if err := s.store.UpdateScanStatus(r.Context(), scanID, scan.StatusCancelled, "cancelled by operator"); err != nil {
		// a terminal write that lost the race gets the same answer as the
		// pre-check above
		if errors.Is(err, scan.ErrTerminal) {
			writeError(w, http.StatusConflict, "scan already finished")
			return
		}
		s.logger.Error("cancel status update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel scan")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"scan_id": scanID.String(),
		"status":  string(scan.StatusCancelled),
	})
}

// scanProgress serves polling clients that cannot hold a websocket open.
func (s *Server) scanProgress(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := s.store.LoadScan(r.Context(), scanID)
	if err != nil {
		if errors.Is(err, scan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		s.logger.Error("load scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}

	percent := progress.Percent(sc.Counters.PagesScanned, sc.Counters.TotalPages)
	if sc.Status.Terminal() {
		percent = 100
	}
	resp := map[string]any{
		"scan_id":        sc.ID.String(),
		"status":         string(sc.Status),
		"status_message": sc.StatusMessage,
		"percent":        percent,
		"pages_scanned":  sc.Counters.PagesScanned,
		"total_pages":    sc.Counters.TotalPages,
		"findings_count": sc.Counters.FindingsCount,
		"critical_count": sc.Counters.CriticalCount,
		"high_count":     sc.Counters.HighCount,
		"medium_count":   sc.Counters.MediumCount,
		"low_count":      sc.Counters.LowCount,
		"current_url":    sc.Counters.CurrentURL,
	}
	if sc.OverallScore != nil {
		resp["overall_score"] = *sc.OverallScore
	}
	if sc.StartedAt != nil {
		resp["started_at"] = sc.StartedAt.UTC().Format(time.RFC3339)
	}
	if sc.CompletedAt != nil {
		resp["completed_at"] = sc.CompletedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseScanID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "scan_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid scan id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
