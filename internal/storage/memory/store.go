// Package memory provides an in-memory scan.Store for tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Store keeps scans, applications, and findings in maps guarded by one
// mutex. Values are copied in and out, so callers never share memory with
// the store.
type Store struct {
	mu           sync.Mutex
	applications map[uuid.UUID]scan.Application
	scans        map[uuid.UUID]scan.Scan
	findings     map[uuid.UUID][]scan.Finding
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		applications: make(map[uuid.UUID]scan.Application),
		scans:        make(map[uuid.UUID]scan.Scan),
		findings:     make(map[uuid.UUID][]scan.Finding),
	}
}

// PutApplication seeds an application.
func (s *Store) PutApplication(app scan.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ID] = app
}

// PutScan seeds a scan.
func (s *Store) PutScan(sc scan.Scan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[sc.ID] = sc
}

// LoadApplication implements scan.Store.
func (s *Store) LoadApplication(_ context.Context, id uuid.UUID) (scan.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[id]
	if !ok {
		return scan.Application{}, scan.ErrNotFound
	}
	return app, nil
}

// LoadScan implements scan.Store.
func (s *Store) LoadScan(_ context.Context, id uuid.UUID) (scan.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scans[id]
	if !ok {
		return scan.Scan{}, scan.ErrNotFound
	}
	return sc, nil
}

// UpdateScanStatus implements scan.Store. Terminal states are sticky.
func (s *Store) UpdateScanStatus(_ context.Context, id uuid.UUID, status scan.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scans[id]
	if !ok {
		return scan.ErrNotFound
	}
	if sc.Status.Terminal() {
		return scan.ErrTerminal
	}
	sc.Status = status
	sc.StatusMessage = message
	s.scans[id] = sc
	return nil
}

// MarkStarted implements scan.Store.
func (s *Store) MarkStarted(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scans[id]
	if !ok {
		return scan.ErrNotFound
	}
	if sc.Status.Terminal() {
		return scan.ErrTerminal
	}
	sc.Status = scan.StatusRunning
	sc.StartedAt = &at
	s.scans[id] = sc
	return nil
}

// MarkCompleted implements scan.Store.
func (s *Store) MarkCompleted(_ context.Context, id uuid.UUID, at time.Time, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scans[id]
	if !ok {
		return scan.ErrNotFound
	}
	if sc.Status.Terminal() {
		return scan.ErrTerminal
	}
	sc.Status = scan.StatusCompleted
	sc.CompletedAt = &at
	sc.OverallScore = &score
	s.scans[id] = sc
	return nil
}

// SaveFindings implements scan.Store.
func (s *Store) SaveFindings(_ context.Context, scanID uuid.UUID, findings []scan.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[scanID] = append(s.findings[scanID], findings...)
	return nil
}

// UpdateScanCounters implements scan.Store.
func (s *Store) UpdateScanCounters(_ context.Context, scanID uuid.UUID, c scan.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scans[scanID]
	if !ok {
		return scan.ErrNotFound
	}
	sc.Counters = c
	s.scans[scanID] = sc
	return nil
}

// ScanStatus implements scan.Store.
func (s *Store) ScanStatus(_ context.Context, id uuid.UUID) (scan.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scans[id]
	if !ok {
		return "", scan.ErrNotFound
	}
	return sc.Status, nil
}

// Findings returns a copy of the stored findings for one scan.
func (s *Store) Findings(scanID uuid.UUID) []scan.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scan.Finding, len(s.findings[scanID]))
	copy(out, s.findings[scanID])
	return out
}
