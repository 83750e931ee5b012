// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ScanStoreConfig controls the Postgres connection pool.
type ScanStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// ScanStore implements scan.Store on Postgres.
type ScanStore struct {
	pool pool
}

// NewScanStore connects a pool using the provided config.
func NewScanStore(ctx context.Context, cfg ScanStoreConfig) (*ScanStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ScanStore{pool: p}, nil
}

// NewScanStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewScanStoreWithPool(p pool) (*ScanStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ScanStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *ScanStore) Close() {
	s.pool.Close()
}

// LoadApplication fetches one application with its auth configuration.
func (s *ScanStore) LoadApplication(ctx context.Context, id uuid.UUID) (scan.Application, error) {
	query := `
		SELECT id, name, url, auth_config
		FROM applications
		WHERE id = $1
	`
	var (
		app      scan.Application
		authJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&app.ID, &app.Name, &app.URL, &authJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return scan.Application{}, scan.ErrNotFound
	}
	if err != nil {
		return scan.Application{}, fmt.Errorf("load application: %w", err)
	}
	if len(authJSON) > 0 {
		var auth scan.AuthConfig
		if err := json.Unmarshal(authJSON, &auth); err != nil {
			return scan.Application{}, fmt.Errorf("decode auth config: %w", err)
		}
		app.AuthConfig = &auth
	}
	return app, nil
}

// LoadScan fetches one scan row including its progress counters.
func (s *ScanStore) LoadScan(ctx context.Context, id uuid.UUID) (scan.Scan, error) {
	query := `
		SELECT id, application_id, scan_type, status, status_message,
			pages_scanned, total_pages, findings_count,
			critical_count, high_count, medium_count, low_count,
			current_url, overall_score, started_at, completed_at
		FROM scans
		WHERE id = $1
	`
	var sc scan.Scan
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sc.ID, &sc.ApplicationID, &sc.Type, &sc.Status, &sc.StatusMessage,
		&sc.Counters.PagesScanned, &sc.Counters.TotalPages, &sc.Counters.FindingsCount,
		&sc.Counters.CriticalCount, &sc.Counters.HighCount, &sc.Counters.MediumCount, &sc.Counters.LowCount,
		&sc.Counters.CurrentURL, &sc.OverallScore, &sc.StartedAt, &sc.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scan.Scan{}, scan.ErrNotFound
	}
	if err != nil {
		return scan.Scan{}, fmt.Errorf("load scan: %w", err)
	}
	return sc, nil
}

// terminalGuard keeps status writes from leaving a settled scan. Appended to
// every UPDATE that changes the status column.
const terminalGuard = `AND status NOT IN ('completed', 'failed', 'cancelled')`

// UpdateScanStatus moves a scan to a new status with an optional message.
// Terminal states are sticky: a write against a settled scan returns
// scan.ErrTerminal.
func (s *ScanStore) UpdateScanStatus(ctx context.Context, id uuid.UUID, status scan.Status, message string) error {
	query := `
		UPDATE scans
		SET status = $1, status_message = $2
		WHERE id = $3 ` + terminalGuard
	tag, err := s.pool.Exec(ctx, query, status, message, id)
	if err != nil {
		return fmt.Errorf("update scan status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrTerminal(ctx, id)
	}
	return nil
}

// MarkStarted records the transition into RUNNING.
func (s *ScanStore) MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE scans
		SET status = $1, started_at = $2
		WHERE id = $3 ` + terminalGuard
	tag, err := s.pool.Exec(ctx, query, scan.StatusRunning, at, id)
	if err != nil {
		return fmt.Errorf("mark scan started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrTerminal(ctx, id)
	}
	return nil
}

// MarkCompleted records the terminal COMPLETED state with the overall score.
func (s *ScanStore) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time, score float64) error {
	query := `
		UPDATE scans
		SET status = $1, completed_at = $2, overall_score = $3
		WHERE id = $4 ` + terminalGuard
	tag, err := s.pool.Exec(ctx, query, scan.StatusCompleted, at, score, id)
	if err != nil {
		return fmt.Errorf("mark scan completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrTerminal(ctx, id)
	}
	return nil
}

// missOrTerminal resolves a zero-row status update into the right sentinel.
func (s *ScanStore) missOrTerminal(ctx context.Context, id uuid.UUID) error {
	status, err := s.ScanStatus(ctx, id)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return scan.ErrTerminal
	}
	return scan.ErrNotFound
}

// SaveFindings inserts one page's findings in a single transaction.
func (s *ScanStore) SaveFindings(ctx context.Context, scanID uuid.UUID, findings []scan.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin findings tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO findings (
			id, scan_id, check_type, severity, status, section,
			location, element_selector, title, description, remediation,
			extra_data, screenshot_path
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, f := range findings {
		var extraJSON []byte
		if f.ExtraData != nil {
			extraJSON, err = json.Marshal(f.ExtraData)
			if err != nil {
				return fmt.Errorf("marshal finding extra data: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, query,
			f.ID, scanID, f.CheckType, f.Severity, f.Status, f.Section,
			f.Location, f.ElementSelector, f.Title, f.Description, f.Remediation,
			extraJSON, f.ScreenshotPath,
		); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit findings: %w", err)
	}
	return nil
}

// UpdateScanCounters persists the aggregate progress numbers.
func (s *ScanStore) UpdateScanCounters(ctx context.Context, scanID uuid.UUID, c scan.Counters) error {
	query := `
		UPDATE scans
		SET pages_scanned = $1, total_pages = $2, findings_count = $3,
			critical_count = $4, high_count = $5, medium_count = $6,
			low_count = $7, current_url = $8
		WHERE id = $9
	`
	tag, err := s.pool.Exec(ctx, query,
		c.PagesScanned, c.TotalPages, c.FindingsCount,
		c.CriticalCount, c.HighCount, c.MediumCount,
		c.LowCount, c.CurrentURL, scanID,
	)
	if err != nil {
		return fmt.Errorf("update scan counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scan.ErrNotFound
	}
	return nil
}

// ScanStatus reads just the status column; the orchestrator polls this at
// page boundaries to notice cancellation.
func (s *ScanStore) ScanStatus(ctx context.Context, id uuid.UUID) (scan.Status, error) {
	var status scan.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM scans WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", scan.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read scan status: %w", err)
	}
	return status, nil
}
