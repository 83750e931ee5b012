package evidence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/browser"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/evidence/memory"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

type stubDriver struct {
	navErr    error
	navigated []string
	mu        sync.Mutex
}

func (d *stubDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.navErr != nil {
		return d.navErr
	}
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *stubDriver) Location(context.Context) (string, error) { return "", nil }
func (d *stubDriver) Title(context.Context) (string, error)    { return "", nil }
func (d *stubDriver) HTML(context.Context) (string, error)     { return "", nil }

func (d *stubDriver) Evaluate(context.Context, string, any) error { return nil }
func (d *stubDriver) Click(context.Context, string) error         { return nil }
func (d *stubDriver) Fill(context.Context, string, string) error  { return nil }
func (d *stubDriver) PressEnter(context.Context, string) error    { return nil }

func (d *stubDriver) Screenshot(context.Context) ([]byte, error) { return []byte("png-bytes"), nil }

func (d *stubDriver) Cookies(context.Context) ([]scan.Cookie, error)  { return nil, nil }
func (d *stubDriver) SetCookies(context.Context, []scan.Cookie) error { return nil }

func (d *stubDriver) SetBasicAuth(context.Context, string, string) error { return nil }

func (d *stubDriver) Close() error { return nil }

type stubFactory struct {
	driver  *stubDriver
	opened  atomic.Int64
	openErr error
}

func (f *stubFactory) NewDriver(context.Context) (browser.Driver, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened.Add(1)
	return f.driver, nil
}

func TestCaptureStoresScreenshotsForSeriousFindings(t *testing.T) {
	t.Parallel()
	blobs := memory.NewBlobStore()
	factory := &stubFactory{driver: &stubDriver{}}
	c := NewCapturer(factory, blobs, nil, 2, zap.NewNop())
	scanID := uuid.New()

	findings := []scan.Finding{
		{ID: uuid.New(), Severity: scan.SeverityCritical, Status: scan.FindingFail, Location: "http://app.local/signup"},
		{ID: uuid.New(), Severity: scan.SeverityHigh, Status: scan.FindingFail, Location: "http://app.local/privacy"},
		{ID: uuid.New(), Severity: scan.SeverityLow, Status: scan.FindingFail, Location: "http://app.local/footer"},
		{ID: uuid.New(), Severity: scan.SeverityHigh, Status: scan.FindingPass, Location: "http://app.local/ok"},
		{ID: uuid.New(), Severity: scan.SeverityHigh, Status: scan.FindingFail}, // no location
	}

	out := c.Capture(context.Background(), scanID, findings)

	require.Len(t, out, 5)
	require.True(t, strings.HasPrefix(out[0].ScreenshotPath, "memory://scans/"+scanID.String()))
	require.NotEmpty(t, out[1].ScreenshotPath)
	require.Empty(t, out[2].ScreenshotPath)
	require.Empty(t, out[3].ScreenshotPath)
	require.Empty(t, out[4].ScreenshotPath)
	require.Equal(t, 2, blobs.Len())
	require.Equal(t, int64(2), factory.opened.Load())
}

func TestCaptureFailureLeavesFindingUntouched(t *testing.T) {
	t.Parallel()
	blobs := memory.NewBlobStore()
	factory := &stubFactory{driver: &stubDriver{navErr: errors.New("net::ERR_CONNECTION_REFUSED")}}
	c := NewCapturer(factory, blobs, nil, 2, zap.NewNop())

	findings := []scan.Finding{
		{ID: uuid.New(), Severity: scan.SeverityCritical, Status: scan.FindingFail, Location: "http://app.local/gone"},
	}
	out := c.Capture(context.Background(), uuid.New(), findings)

	require.Empty(t, out[0].ScreenshotPath)
	require.Equal(t, 0, blobs.Len())
}

func TestCaptureAppliesHostRewrite(t *testing.T) {
	t.Parallel()
	blobs := memory.NewBlobStore()
	driver := &stubDriver{}
	factory := &stubFactory{driver: driver}
	c := NewCapturer(factory, blobs, scan.LoopbackRewriter("host.docker.internal"), 1, zap.NewNop())

	findings := []scan.Finding{
		{ID: uuid.New(), Severity: scan.SeverityHigh, Status: scan.FindingFail, Location: "http://localhost:3000/signup"},
	}
	c.Capture(context.Background(), uuid.New(), findings)

	require.Equal(t, []string{"http://host.docker.internal:3000/signup"}, driver.navigated)
}
