// Package capture drives the student side of a check-in: acquire a proof by scanning a QR
// code or typing the short code, take one location fix, then submit both for verification.
// Camera and geolocation are modelled as single-shot operations, and the machine allows at
// most one of them to be pending at a time.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-attendance-server/geo"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/rs/zerolog/log"
)

// State of the capture flow.
type State string

const (
	Idle           State = "Idle"
	Scanning       State = "Scanning"
	Decoded        State = "Decoded"
	ScanFailed     State = "ScanFailed"
	Locating       State = "Locating"
	Verified       State = "Verified"
	LocationDenied State = "LocationDenied"
	VerifyFailed   State = "VerifyFailed"
)

var (
	ErrInvalidTransition   = errors.New("invalid capture transition")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrScanTimeout         = errors.New("scan timed out")
	ErrScanCancelled       = errors.New("scan cancelled")
	ErrCancelled           = errors.New("check-in cancelled")
)

// LocationError wraps a geolocation failure so it matches ErrLocationUnavailable.
type LocationError struct {
	Err error
}

func (e *LocationError) Error() string {
	return "Location permission is required to mark attendance: " + e.Err.Error()
}

func (e *LocationError) Is(target error) bool { return target == ErrLocationUnavailable }
func (e *LocationError) Unwrap() error        { return e.Err }

// Camera is the frame source. Frames are pushed to Machine.Frame by the caller.
type Camera interface {
	Start(ctx context.Context) error
	Stop()
}

// Locator takes a single position fix.
type Locator interface {
	Locate(ctx context.Context) (geo.Point, error)
}

// Marker submits a check-in to the server.
type Marker interface {
	VerifyAndMark(ctx context.Context, p proof.Proof, courseCode string, location geo.Point) (*ledger.Mark, error)
}

// Snapshot is a consistent view of the machine for display.
type Snapshot struct {
	State State
	Proof proof.Proof
	Mark  *ledger.Mark
	Err   error
}

// Machine is safe for concurrent use.
type Machine struct {
	camera     Camera
	locator    Locator
	marker     Marker
	onVerified func(*ledger.Mark)
	timeout    time.Duration

	mu        sync.Mutex
	state     State
	proof     proof.Proof
	mark      *ledger.Mark
	err       error
	gen       uint64 // bumped on every transition that invalidates pending work
	cancel    context.CancelFunc
	scanTimer *time.Timer
}

// MachineOption defines a function type to modify the Machine instance.
type MachineOption func(*Machine)

// WithScanTimeout fails a scan that has not decoded within d. Zero means no timeout.
func WithScanTimeout(d time.Duration) MachineOption {
	return func(m *Machine) { m.timeout = d }
}

// WithOnVerified registers the history refresh run after a successful check-in.
func WithOnVerified(fn func(*ledger.Mark)) MachineOption {
	return func(m *Machine) { m.onVerified = fn }
}

func NewMachine(camera Camera, locator Locator, marker Marker, options ...MachineOption) *Machine {
	m := &Machine{camera: camera, locator: locator, marker: marker, state: Idle}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current state with its proof, mark and error.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Proof: m.proof, Mark: m.mark, Err: m.err}
}

// OpenCamera starts scanning. A camera that fails to start moves the machine to ScanFailed.
func (m *Machine) OpenCamera(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Idle {
		defer m.mu.Unlock()
		return m.invalid("OpenCamera")
	}
	if m.camera == nil {
		m.setLocked(ScanFailed, errors.New("no camera available"))
		defer m.mu.Unlock()
		return m.err
	}
	m.setLocked(Scanning, nil)
	gen := m.gen
	m.mu.Unlock()

	if err := m.camera.Start(ctx); err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen == gen && m.state == Scanning {
			m.setLocked(ScanFailed, err)
		}
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.state != Scanning {
		// Scanning ended while Start was in flight; its Stop ran too early to release the camera.
		decoded := m.gen == gen+1 && m.state == Decoded
		m.mu.Unlock()
		m.camera.Stop()
		if decoded {
			return nil
		}
		return ErrCancelled
	}
	if m.timeout > 0 {
		m.scanTimer = time.AfterFunc(m.timeout, func() { m.scanTimedOut(gen) })
	}
	m.mu.Unlock()
	return nil
}

func (m *Machine) scanTimedOut(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != Scanning {
		m.mu.Unlock()
		return
	}
	m.setLocked(ScanFailed, ErrScanTimeout)
	m.mu.Unlock()
	m.camera.Stop()
}

// Frame feeds one decoded QR string from the camera. An undecodable frame keeps scanning
// and returns the decode error. The first valid frame stops the camera.
func (m *Machine) Frame(raw string) error {
	m.mu.Lock()
	if m.state != Scanning {
		defer m.mu.Unlock()
		return m.invalid("Frame")
	}
	p, err := proof.DecodeQR(raw)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.setLocked(Decoded, nil)
	m.proof = p
	m.mu.Unlock()

	m.camera.Stop()
	return nil
}

// CancelScan abandons scanning.
func (m *Machine) CancelScan() error {
	m.mu.Lock()
	if m.state != Scanning {
		defer m.mu.Unlock()
		return m.invalid("CancelScan")
	}
	m.setLocked(ScanFailed, ErrScanCancelled)
	m.mu.Unlock()

	m.camera.Stop()
	return nil
}

// EnterCode takes the manual path, skipping the camera entirely.
func (m *Machine) EnterCode(code, courseCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return m.invalid("EnterCode")
	}
	p, err := proof.NewCodeProof(code, courseCode)
	if err != nil {
		return err
	}
	m.setLocked(Decoded, nil)
	m.proof = p
	return nil
}

// Locate takes a position fix and submits the check-in. It blocks until the server answers,
// the locator fails, or Cancel is called.
func (m *Machine) Locate(ctx context.Context) (*ledger.Mark, error) {
	m.mu.Lock()
	if m.state != Decoded {
		defer m.mu.Unlock()
		return nil, m.invalid("Locate")
	}
	opCtx, cancel := context.WithCancel(ctx)
	m.setLocked(Locating, nil)
	m.cancel = cancel
	gen := m.gen
	p := m.proof
	m.mu.Unlock()
	defer cancel()

	point, err := m.locator.Locate(opCtx)
	if err != nil {
		err = &LocationError{Err: err}
		if !m.finish(gen, LocationDenied, nil, err) {
			return nil, ErrCancelled
		}
		return nil, err
	}

	mark, err := m.marker.VerifyAndMark(opCtx, p, p.CourseCode(), point)
	if err != nil {
		if !m.finish(gen, VerifyFailed, nil, err) {
			return nil, ErrCancelled
		}
		return nil, err
	}

	if !m.finish(gen, Verified, mark, nil) {
		log.Warn().Str("mark_id", mark.ID).Msg("check-in completed after cancel")
		return nil, ErrCancelled
	}
	if m.onVerified != nil {
		m.onVerified(mark)
	}
	return mark, nil
}

// finish applies the result of the pending operation unless it was cancelled meanwhile.
func (m *Machine) finish(gen uint64, to State, mark *ledger.Mark, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state != Locating {
		return false
	}
	m.setLocked(to, err)
	m.mark = mark
	return true
}

// Cancel aborts a pending Locate. The decoded proof is discarded.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Locating {
		return m.invalid("Cancel")
	}
	m.setLocked(Idle, nil)
	m.proof = proof.Proof{}
	return nil
}

// Reset returns a finished or decoded flow to Idle.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Decoded, ScanFailed, Verified, LocationDenied, VerifyFailed:
	default:
		return m.invalid("Reset")
	}
	m.setLocked(Idle, nil)
	m.proof = proof.Proof{}
	m.mark = nil
	return nil
}

// setLocked moves to state, invalidating pending work. Callers hold m.mu.
func (m *Machine) setLocked(state State, err error) {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.scanTimer != nil {
		m.scanTimer.Stop()
		m.scanTimer = nil
	}
	log.Debug().Str("from", string(m.state)).Str("to", string(state)).Msg("capture transition")
	m.state = state
	m.err = err
}

func (m *Machine) invalid(op string) error {
	return &TransitionError{Op: op, From: m.state}
}

// TransitionError reports an operation attempted in the wrong state.
type TransitionError struct {
	Op   string
	From State
}

func (e *TransitionError) Error() string {
	return "capture: " + e.Op + " not allowed in state " + string(e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
