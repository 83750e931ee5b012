package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress"
	brokermem "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress/memory"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
	storemem "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/storage/memory"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/ws"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type captureQueue struct {
	items []scan.QueueItem
	err   error
}

func (q *captureQueue) Enqueue(_ context.Context, item scan.QueueItem) error {
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

type testEnv struct {
	server *Server
	store  *storemem.Store
	broker *brokermem.Broker
	queue  *captureQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := storemem.NewStore()
	broker := brokermem.NewBroker()
	manager := ws.NewManager(logger)
	relay := ws.NewRelay(broker, manager, logger)
	queue := &captureQueue{}
	clock := stubClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return &testEnv{
		server: NewServer(store, queue, relay, clock, logger),
		store:  store,
		broker: broker,
		queue:  queue,
	}
}

func seedScan(t *testing.T, env *testEnv, status scan.Status) scan.Scan {
	t.Helper()
	sc := scan.Scan{
		ID:            uuid.New(),
		ApplicationID: uuid.New(),
		Type:          scan.TypeStandard,
		Status:        status,
	}
	env.store.PutScan(sc)
	return sc
}

func doRequest(env *testEnv, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRunScanQueuesPendingScan(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := seedScan(t, env, scan.StatusPending)

	rec := doRequest(env, http.MethodPost, "/api/v1/scans/"+sc.ID.String()+"/run")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, string(scan.StatusQueued), body["status"])

	status, err := env.store.ScanStatus(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusQueued, status)

	require.Len(t, env.queue.items, 1)
	require.Equal(t, sc.ID, env.queue.items[0].ScanID)
	require.Equal(t, sc.ApplicationID, env.queue.items[0].ApplicationID)
}

func TestRunScanRejectsNonPending(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := seedScan(t, env, scan.StatusRunning)

	rec := doRequest(env, http.MethodPost, "/api/v1/scans/"+sc.ID.String()+"/run")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Empty(t, env.queue.items)
}

func TestRunScanUnknownAndInvalidIDs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := doRequest(env, http.MethodPost, "/api/v1/scans/"+uuid.NewString()+"/run")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(env, http.MethodPost, "/api/v1/scans/not-a-uuid/run")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunScanRevertsOnEnqueueFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.queue.err = errors.New("queue full")
	sc := seedScan(t, env, scan.StatusPending)

	rec := doRequest(env, http.MethodPost, "/api/v1/scans/"+sc.ID.String()+"/run")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status, err := env.store.ScanStatus(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusPending, status)
}

func TestCancelScan(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	running := seedScan(t, env, scan.StatusRunning)
	done := seedScan(t, env, scan.StatusCompleted)

	rec := doRequest(env, http.MethodPost, "/api/v1/scans/"+running.ID.String()+"/cancel")
	require.Equal(t, http.StatusAccepted, rec.Code)
	status, err := env.store.ScanStatus(context.Background(), running.ID)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCancelled, status)

	rec = doRequest(env, http.MethodPost, "/api/v1/scans/"+done.ID.String()+"/cancel")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestScanProgressWhileRunning(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := scan.Scan{
		ID:            uuid.New(),
		ApplicationID: uuid.New(),
		Type:          scan.TypeStandard,
		Status:        scan.StatusRunning,
		Counters: scan.Counters{
			PagesScanned:  4,
			TotalPages:    10,
			FindingsCount: 7,
			CriticalCount: 1,
			CurrentURL:    "https://app.example.com/settings",
		},
	}
	env.store.PutScan(sc)

	rec := doRequest(env, http.MethodGet, "/api/v1/scans/"+sc.ID.String()+"/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, string(scan.StatusRunning), body["status"])
	require.InDelta(t, 40.0, body["percent"], 0.01)
	require.EqualValues(t, 4, body["pages_scanned"])
	require.EqualValues(t, 7, body["findings_count"])
	require.Equal(t, "https://app.example.com/settings", body["current_url"])
	require.NotContains(t, body, "overall_score")
}

func TestScanProgressTerminalReportsFullPercent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	score := 82.5
	completedAt := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	sc := scan.Scan{
		ID:            uuid.New(),
		ApplicationID: uuid.New(),
		Type:          scan.TypeDeep,
		Status:        scan.StatusCompleted,
		Counters:      scan.Counters{PagesScanned: 6, TotalPages: 10},
		OverallScore:  &score,
		CompletedAt:   &completedAt,
	}
	env.store.PutScan(sc)

	rec := doRequest(env, http.MethodGet, "/api/v1/scans/"+sc.ID.String()+"/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.InDelta(t, 100.0, body["percent"], 0.01)
	require.InDelta(t, 82.5, body["overall_score"], 0.01)
	require.Equal(t, "2025-03-01T12:30:00Z", body["completed_at"])
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := doRequest(env, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(env, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func dialObserver(t *testing.T, srv *httptest.Server, scanID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/scans/ws/" + scanID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) progress.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev progress.Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	return ev
}

func TestObserveScanStreamsEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := seedScan(t, env, scan.StatusRunning)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn := dialObserver(t, srv, sc.ID.String())
	defer conn.Close()

	ack := readEvent(t, conn)
	require.Equal(t, progress.EventConnected, ack.Type)
	require.Equal(t, sc.ID, ack.ScanID)

	// the bridge subscribes asynchronously from the dialer's point of view
	require.Eventually(t, func() bool {
		return env.broker.SubscriberCount(sc.ID.String()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev := progress.Event{Type: progress.EventProgress, ScanID: sc.ID, PagesScanned: 3, TotalPages: 9}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, env.broker.Publish(context.Background(), sc.ID.String(), payload))

	got := readEvent(t, conn)
	require.Equal(t, progress.EventProgress, got.Type)
	require.Equal(t, 3, got.PagesScanned)
}

func TestObserveScanAnswersPing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := seedScan(t, env, scan.StatusRunning)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn := dialObserver(t, srv, sc.ID.String())
	defer conn.Close()
	readEvent(t, conn) // connected ack

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(payload))
}

func TestObserveScanStopsBridgeOnDisconnect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := seedScan(t, env, scan.StatusRunning)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn := dialObserver(t, srv, sc.ID.String())
	readEvent(t, conn)
	require.Eventually(t, func() bool {
		return env.broker.SubscriberCount(sc.ID.String()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return env.broker.SubscriberCount(sc.ID.String()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestObserveScanRejectsUnknownScan(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/scans/ws/" + uuid.NewString()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}
