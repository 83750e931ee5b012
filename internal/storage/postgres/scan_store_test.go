package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

func newMockStore(t *testing.T) (*ScanStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewScanStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestLoadApplicationDecodesAuthConfig(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	appID := uuid.New()

	mock.ExpectQuery("SELECT id, name, url, auth_config").
		WithArgs(appID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "url", "auth_config"}).
			AddRow(appID, "Billing Portal", "http://billing.local", []byte(`{"auth_type":"form","login_url":"http://billing.local/login"}`)))

	app, err := store.LoadApplication(context.Background(), appID)
	require.NoError(t, err)
	require.Equal(t, "Billing Portal", app.Name)
	require.NotNil(t, app.AuthConfig)
	require.Equal(t, scan.AuthForm, app.AuthConfig.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadApplicationNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	appID := uuid.New()

	mock.ExpectQuery("SELECT id, name, url, auth_config").
		WithArgs(appID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "url", "auth_config"}))

	_, err := store.LoadApplication(context.Background(), appID)
	require.ErrorIs(t, err, scan.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadScanReadsCounters(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID, appID := uuid.New(), uuid.New()
	started := time.Unix(1756000000, 0).UTC()

	mock.ExpectQuery("SELECT id, application_id, scan_type, status").
		WithArgs(scanID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "application_id", "scan_type", "status", "status_message",
			"pages_scanned", "total_pages", "findings_count",
			"critical_count", "high_count", "medium_count", "low_count",
			"current_url", "overall_score", "started_at", "completed_at",
		}).AddRow(
			scanID, appID, scan.TypeStandard, scan.StatusRunning, "",
			7, 20, 12, 1, 3, 5, 3,
			"http://billing.local/settings", (*float64)(nil), &started, (*time.Time)(nil),
		))

	sc, err := store.LoadScan(context.Background(), scanID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusRunning, sc.Status)
	require.Equal(t, 7, sc.Counters.PagesScanned)
	require.Equal(t, 20, sc.Counters.TotalPages)
	require.Nil(t, sc.OverallScore)
	require.Equal(t, &started, sc.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScanStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID := uuid.New()

	mock.ExpectExec("UPDATE scans").
		WithArgs(scan.StatusCancelled, "cancelled by operator", scanID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateScanStatus(context.Background(), scanID, scan.StatusCancelled, "cancelled by operator")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScanStatusMissingRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID := uuid.New()

	mock.ExpectExec("UPDATE scans").
		WithArgs(scan.StatusQueued, "", scanID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM scans").
		WithArgs(scanID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))

	err := store.UpdateScanStatus(context.Background(), scanID, scan.StatusQueued, "")
	require.ErrorIs(t, err, scan.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScanStatusKeepsTerminalState(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID := uuid.New()

	// the guarded UPDATE matches no row because the scan already settled
	mock.ExpectExec("UPDATE scans").
		WithArgs(scan.StatusFailed, "late failure", scanID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM scans").
		WithArgs(scanID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(scan.StatusCancelled))

	err := store.UpdateScanStatus(context.Background(), scanID, scan.StatusFailed, "late failure")
	require.ErrorIs(t, err, scan.ErrTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedKeepsTerminalState(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID := uuid.New()
	done := time.Unix(1756000000, 0).UTC()

	mock.ExpectExec("UPDATE scans").
		WithArgs(scan.StatusCompleted, done, 82.5, scanID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM scans").
		WithArgs(scanID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(scan.StatusCancelled))

	err := store.MarkCompleted(context.Background(), scanID, done, 82.5)
	require.ErrorIs(t, err, scan.ErrTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkStartedAndCompleted(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID := uuid.New()
	now := time.Unix(1756000000, 0).UTC()

	mock.ExpectExec("UPDATE scans").
		WithArgs(scan.StatusRunning, now, scanID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkStarted(context.Background(), scanID, now))

	done := now.Add(90 * time.Second)
	mock.ExpectExec("UPDATE scans").
		WithArgs(scan.StatusCompleted, done, 82.5, scanID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkCompleted(context.Background(), scanID, done, 82.5))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFindingsBatchTransaction(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID := uuid.New()
	f1 := scan.Finding{
		ID:        uuid.New(),
		CheckType: scan.CheckConsentPreselected,
		Severity:  scan.SeverityHigh,
		Status:    scan.FindingFail,
		Section:   "Section 6",
		Location:  "http://billing.local/signup",
		Title:     "Consent checkbox is pre-selected",
		ExtraData: map[string]any{"label": "I agree"},
	}
	f2 := scan.Finding{
		ID:        uuid.New(),
		CheckType: scan.CheckPrivacyNoticeMissing,
		Severity:  scan.SeverityHigh,
		Status:    scan.FindingFail,
		Location:  "http://billing.local/signup",
		Title:     "No privacy notice link on page",
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO findings").
		WithArgs(
			f1.ID, scanID, f1.CheckType, f1.Severity, f1.Status, f1.Section,
			f1.Location, f1.ElementSelector, f1.Title, f1.Description, f1.Remediation,
			[]byte(`{"label":"I agree"}`), f1.ScreenshotPath,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO findings").
		WithArgs(
			f2.ID, scanID, f2.CheckType, f2.Severity, f2.Status, f2.Section,
			f2.Location, f2.ElementSelector, f2.Title, f2.Description, f2.Remediation,
			[]byte(nil), f2.ScreenshotPath,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.SaveFindings(context.Background(), scanID, []scan.Finding{f1, f2})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFindingsEmptyIsNoop(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	require.NoError(t, store.SaveFindings(context.Background(), uuid.New(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScanCounters(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID := uuid.New()
	c := scan.Counters{
		PagesScanned: 3, TotalPages: 12, FindingsCount: 5,
		CriticalCount: 1, HighCount: 1, MediumCount: 2, LowCount: 1,
		CurrentURL: "http://billing.local/privacy",
	}

	mock.ExpectExec("UPDATE scans").
		WithArgs(3, 12, 5, 1, 1, 2, 1, "http://billing.local/privacy", scanID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateScanCounters(context.Background(), scanID, c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanStatusPolling(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	scanID := uuid.New()

	mock.ExpectQuery("SELECT status FROM scans").
		WithArgs(scanID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(scan.StatusCancelled))

	status, err := store.ScanStatus(context.Background(), scanID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCancelled, status)
	require.NoError(t, mock.ExpectationsWereMet())
}
