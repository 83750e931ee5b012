// Package progress defines the event stream a running scan emits and the
// reporter that publishes it. Events travel through a Broker and reach
// observers over websockets; they are advisory, so every publish is
// best-effort and never blocks the scan.
package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// EventType discriminates the messages on a scan's progress stream.
type EventType string

// Event types, in rough lifecycle order. Connected is sent directly by the
// fan-out manager on subscription, not through the broker.
const (
	EventConnected EventType = "connected"
	EventProgress  EventType = "progress"
	EventFinding   EventType = "finding"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is one message on a scan's progress stream. Fields outside the
// always-present header are populated per type.
type Event struct {
	Type      EventType `json:"type"`
	ScanID    uuid.UUID `json:"scan_id"`
	Timestamp time.Time `json:"timestamp"`

	// progress
	PagesScanned   int     `json:"pages_scanned,omitempty"`
	TotalPages     int     `json:"total_pages,omitempty"`
	FindingsCount  int     `json:"findings_count,omitempty"`
	CriticalCount  int     `json:"critical_count,omitempty"`
	HighCount      int     `json:"high_count,omitempty"`
	MediumCount    int     `json:"medium_count,omitempty"`
	LowCount       int     `json:"low_count,omitempty"`
	CurrentURL     string  `json:"current_url,omitempty"`
	Percent        float64 `json:"percent,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	ETASeconds     float64 `json:"eta_seconds,omitempty"`

	// finding
	Finding *scan.Finding `json:"finding,omitempty"`

	// completed
	OverallScore *float64 `json:"overall_score,omitempty"`
	Status       string   `json:"status,omitempty"`

	// error, also used for the connected acknowledgment text
	Message string `json:"message,omitempty"`
}

// Percent maps page counts onto a 0-100 progress figure, capped below 100
// while the scan is still running so observers never see a premature finish.
func Percent(pagesScanned, totalPages int) float64 {
	if totalPages <= 0 {
		return 0
	}
	p := float64(pagesScanned) / float64(totalPages)
	if p > 0.99 {
		p = 0.99
	}
	return p * 100
}
