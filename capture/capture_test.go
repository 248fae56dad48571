package capture_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-attendance-server/attendance"
	"github.com/jrsteele09/go-attendance-server/capture"
	"github.com/jrsteele09/go-attendance-server/geo"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const payload = `{"sessionId":"sess-1","courseCode":"CS101"}`

var campus = geo.Point{Latitude: 12.9716, Longitude: 77.5946}

type fakeCamera struct {
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (c *fakeCamera) Start(context.Context) error {
	c.started.Add(1)
	return c.startErr
}

func (c *fakeCamera) Stop() { c.stopped.Add(1) }

// fakeLocator returns point/err, or blocks until ctx is done when block is set.
type fakeLocator struct {
	point   geo.Point
	err     error
	block   bool
	entered chan struct{}
}

func (l *fakeLocator) Locate(ctx context.Context) (geo.Point, error) {
	if l.entered != nil {
		close(l.entered)
	}
	if l.block {
		<-ctx.Done()
		return geo.Point{}, ctx.Err()
	}
	return l.point, l.err
}

type fakeMarker struct {
	mu     sync.Mutex
	calls  []proof.Proof
	course []string
	err    error
}

func (m *fakeMarker) VerifyAndMark(_ context.Context, p proof.Proof, course string, loc geo.Point) (*ledger.Mark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p)
	m.course = append(m.course, course)
	if m.err != nil {
		return nil, m.err
	}
	return &ledger.Mark{ID: "m1", StudentLocation: loc, Status: ledger.StatusPresent}, nil
}

type testFixture struct {
	machine   *capture.Machine
	camera    *fakeCamera
	locator   *fakeLocator
	marker    *fakeMarker
	refreshed atomic.Int32
}

func setupTestFixture(t *testing.T, opts ...capture.MachineOption) *testFixture {
	t.Helper()
	f := &testFixture{
		camera:  &fakeCamera{},
		locator: &fakeLocator{point: campus},
		marker:  &fakeMarker{},
	}
	opts = append(opts, capture.WithOnVerified(func(*ledger.Mark) { f.refreshed.Add(1) }))
	f.machine = capture.NewMachine(f.camera, f.locator, f.marker, opts...)
	return f
}

func TestScanPath_HappyFlow(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.machine.OpenCamera(ctx))
	require.Equal(t, capture.Scanning, f.machine.State())

	err := f.machine.Frame("not a qr payload")
	require.ErrorIs(t, err, proof.ErrInvalidFormat)
	require.Equal(t, capture.Scanning, f.machine.State(), "a bad frame keeps scanning")
	require.Zero(t, f.camera.stopped.Load())

	require.NoError(t, f.machine.Frame(payload))
	require.Equal(t, capture.Decoded, f.machine.State())
	require.Equal(t, int32(1), f.camera.stopped.Load(), "camera stops on first decode")

	mark, err := f.machine.Locate(ctx)
	require.NoError(t, err)
	require.Equal(t, "m1", mark.ID)

	snap := f.machine.Snapshot()
	require.Equal(t, capture.Verified, snap.State)
	require.Equal(t, "sess-1", snap.Proof.SessionID())
	require.Equal(t, int32(1), f.refreshed.Load())
	require.Equal(t, []string{"CS101"}, f.marker.course)

	require.NoError(t, f.machine.Reset())
	require.Equal(t, capture.Idle, f.machine.State())
	require.True(t, f.machine.Snapshot().Proof.IsZero())
}

func TestManualPath(t *testing.T) {
	f := setupTestFixture(t)

	require.ErrorIs(t, f.machine.EnterCode("", "CS101"), proof.ErrInvalidFormat)
	require.Equal(t, capture.Idle, f.machine.State())

	require.NoError(t, f.machine.EnterCode("k7m2px", "CS101"))
	snap := f.machine.Snapshot()
	require.Equal(t, capture.Decoded, snap.State)
	require.Equal(t, proof.KindCode, snap.Proof.Kind())
	require.Equal(t, "K7M2PX", snap.Proof.ShortCode())
	require.Zero(t, f.camera.started.Load())

	_, err := f.machine.Locate(context.Background())
	require.NoError(t, err)
	require.Equal(t, capture.Verified, f.machine.State())
}

func TestCameraFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.camera.startErr = errors.New("permission denied")

	err := f.machine.OpenCamera(context.Background())
	require.Error(t, err)
	require.Equal(t, capture.ScanFailed, f.machine.State())
	require.NoError(t, f.machine.Reset())
}

func TestCancelScan(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.machine.OpenCamera(context.Background()))
	require.NoError(t, f.machine.CancelScan())

	snap := f.machine.Snapshot()
	require.Equal(t, capture.ScanFailed, snap.State)
	require.ErrorIs(t, snap.Err, capture.ErrScanCancelled)
	require.Equal(t, int32(1), f.camera.stopped.Load())
}

func TestScanTimeout(t *testing.T) {
	f := setupTestFixture(t, capture.WithScanTimeout(10*time.Millisecond))
	require.NoError(t, f.machine.OpenCamera(context.Background()))

	require.Eventually(t, func() bool { return f.machine.State() == capture.ScanFailed }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, f.machine.Snapshot().Err, capture.ErrScanTimeout)
	require.Equal(t, int32(1), f.camera.stopped.Load())
}

func TestNoScanTimeoutByDefault(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.machine.OpenCamera(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, capture.Scanning, f.machine.State())
}

func TestLocationDenied_NeverCallsVerifier(t *testing.T) {
	f := setupTestFixture(t)
	f.locator.err = errors.New("user denied geolocation")
	require.NoError(t, f.machine.EnterCode("K7M2PX", "CS101"))

	_, err := f.machine.Locate(context.Background())
	require.ErrorIs(t, err, capture.ErrLocationUnavailable)
	require.Equal(t, capture.LocationDenied, f.machine.State())
	require.Empty(t, f.marker.calls)
	require.Zero(t, f.refreshed.Load())
}

func TestVerifyFailed_KeepsErrorForDisplay(t *testing.T) {
	f := setupTestFixture(t)
	f.marker.err = &attendance.VerificationError{Reason: attendance.ReasonOutOfRange, DistanceMeters: 1128, RadiusMeters: 100}
	require.NoError(t, f.machine.EnterCode("K7M2PX", "CS101"))

	_, err := f.machine.Locate(context.Background())
	require.ErrorIs(t, err, attendance.ErrOutOfRange)

	snap := f.machine.Snapshot()
	require.Equal(t, capture.VerifyFailed, snap.State)
	require.Equal(t, "You are 1128m away. Please be within 100m of the class.", snap.Err.Error())
	require.Zero(t, f.refreshed.Load())
}

func TestCancelWhileLocating(t *testing.T) {
	f := setupTestFixture(t)
	f.locator.block = true
	f.locator.entered = make(chan struct{})
	require.NoError(t, f.machine.EnterCode("K7M2PX", "CS101"))

	done := make(chan error, 1)
	go func() {
		_, err := f.machine.Locate(context.Background())
		done <- err
	}()

	<-f.locator.entered
	require.Equal(t, capture.Locating, f.machine.State())
	_, err := f.machine.Locate(context.Background())
	require.ErrorIs(t, err, capture.ErrInvalidTransition)
	require.NoError(t, f.machine.Cancel())

	select {
	case err := <-done:
		require.ErrorIs(t, err, capture.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("Locate did not return after Cancel")
	}

	snap := f.machine.Snapshot()
	require.Equal(t, capture.Idle, snap.State)
	require.True(t, snap.Proof.IsZero())
	require.Empty(t, f.marker.calls)
}

func TestIllegalTransitions(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.machine.Frame(payload), capture.ErrInvalidTransition)
	require.ErrorIs(t, f.machine.CancelScan(), capture.ErrInvalidTransition)
	require.ErrorIs(t, f.machine.Cancel(), capture.ErrInvalidTransition)
	require.ErrorIs(t, f.machine.Reset(), capture.ErrInvalidTransition)
	_, err := f.machine.Locate(ctx)
	require.ErrorIs(t, err, capture.ErrInvalidTransition)

	require.NoError(t, f.machine.OpenCamera(ctx))
	require.ErrorIs(t, f.machine.OpenCamera(ctx), capture.ErrInvalidTransition)
	require.ErrorIs(t, f.machine.EnterCode("K7M2PX", "CS101"), capture.ErrInvalidTransition)
}

// slowCamera blocks in Start until release is closed and tracks whether it is running.
type slowCamera struct {
	entered chan struct{}
	release chan struct{}
	running atomic.Bool
}

func (c *slowCamera) Start(context.Context) error {
	close(c.entered)
	<-c.release
	c.running.Store(true)
	return nil
}

func (c *slowCamera) Stop() { c.running.Store(false) }

func TestOpenCamera_CancelDuringStartReleasesCamera(t *testing.T) {
	camera := &slowCamera{entered: make(chan struct{}), release: make(chan struct{})}
	m := capture.NewMachine(camera, &fakeLocator{point: campus}, &fakeMarker{})

	opened := make(chan error, 1)
	go func() { opened <- m.OpenCamera(context.Background()) }()

	<-camera.entered
	require.NoError(t, m.CancelScan())
	close(camera.release)

	select {
	case err := <-opened:
		require.ErrorIs(t, err, capture.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("OpenCamera did not return")
	}
	require.False(t, camera.running.Load())
	require.Equal(t, capture.ScanFailed, m.State())
}

func TestOpenCamera_FrameDuringStartReleasesCamera(t *testing.T) {
	camera := &slowCamera{entered: make(chan struct{}), release: make(chan struct{})}
	m := capture.NewMachine(camera, &fakeLocator{point: campus}, &fakeMarker{})

	opened := make(chan error, 1)
	go func() { opened <- m.OpenCamera(context.Background()) }()

	<-camera.entered
	require.NoError(t, m.Frame(payload))
	close(camera.release)

	select {
	case err := <-opened:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OpenCamera did not return")
	}
	require.False(t, camera.running.Load())
	require.Equal(t, capture.Decoded, m.State())
}
