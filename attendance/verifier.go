package attendance

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-attendance-server/geo"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/jrsteele09/go-attendance-server/sessions"
	"github.com/pkg/errors"
)

// SessionLookup resolves proofs to sessions. *sessions.Store satisfies it.
type SessionLookup interface {
	LookupByID(ctx context.Context, id string) (*sessions.Session, error)
	LookupByCode(ctx context.Context, code string) (*sessions.Session, error)
}

// MarkRecorder appends marks. *ledger.Ledger satisfies it.
type MarkRecorder interface {
	Record(ctx context.Context, p ledger.RecordParams) (*ledger.Mark, error)
}

// Request is one student's check-in attempt.
type Request struct {
	Proof      proof.Proof
	StudentID  string
	CourseCode string // course the student selected; empty falls back to the proof's course
	Location   geo.Point
}

// Verifier decides whether a check-in is admitted and records it.
type Verifier struct {
	sessions SessionLookup
	marks    MarkRecorder
	nowTime  func() time.Time
}

// VerifierOption defines a function type to modify the Verifier instance.
type VerifierOption func(*Verifier)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) VerifierOption {
	return func(v *Verifier) { v.nowTime = nowFunc }
}

func NewVerifier(lookup SessionLookup, marks MarkRecorder, options ...VerifierOption) (*Verifier, error) {
	if lookup == nil {
		return nil, errors.New("[attendance.NewVerifier] session lookup is required")
	}
	if marks == nil {
		return nil, errors.New("[attendance.NewVerifier] mark recorder is required")
	}
	v := &Verifier{sessions: lookup, marks: marks, nowTime: time.Now}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Outcome is what Verify learned before recording, returned alongside the mark so callers
// can report it.
type Outcome struct {
	Mark    *ledger.Mark
	Session *sessions.Session
}

// Verify runs the checks in a fixed order and stops at the first failure: session
// resolution, activity, course, geofence, then the duplicate check inside the ledger.
// Nothing is written unless every earlier check passes. Rejections are *VerificationError;
// any other error is an infrastructure failure.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Outcome, error) {
	if req.Proof.IsZero() {
		return nil, errors.Wrap(proof.ErrInvalidFormat, "[Verifier.Verify] proof is required")
	}
	if strings.TrimSpace(req.StudentID) == "" {
		return nil, errors.Wrap(apperrors.ErrUnauthorized, "[Verifier.Verify] student is required")
	}
	if err := req.Location.Validate(); err != nil {
		return nil, errors.Wrapf(apperrors.ErrInvalidInput, "[Verifier.Verify] location: %v", err)
	}
	now := v.nowTime()

	session, err := v.resolve(ctx, req.Proof)
	if err != nil {
		return nil, err
	}

	if !sessions.IsActive(session, now) {
		return nil, reject(ReasonSessionExpired)
	}

	course := strings.TrimSpace(req.CourseCode)
	if course == "" {
		course = req.Proof.CourseCode()
	}
	if session.CourseCode != course || session.CourseCode != req.Proof.CourseCode() {
		return nil, reject(ReasonCourseMismatch)
	}

	within, distance := geo.Within(session.Origin, req.Location, session.AllowedRadiusMeters)
	if !within {
		return nil, &VerificationError{
			Reason:         ReasonOutOfRange,
			DistanceMeters: distance,
			RadiusMeters:   session.AllowedRadiusMeters,
		}
	}

	mark, err := v.marks.Record(ctx, ledger.RecordParams{
		SessionID:   session.ID,
		StudentID:   req.StudentID,
		CourseCode:  session.CourseCode,
		LectureDate: session.LectureDate(),
		Location:    req.Location,
		Distance:    distance,
	})
	if apperrors.Is(err, apperrors.ErrDuplicate) {
		return nil, reject(ReasonAlreadyMarked)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Verifier.Verify] record")
	}
	return &Outcome{Mark: mark, Session: session}, nil
}

func (v *Verifier) resolve(ctx context.Context, p proof.Proof) (*sessions.Session, error) {
	var (
		session *sessions.Session
		err     error
	)
	switch p.Kind() {
	case proof.KindQR:
		session, err = v.sessions.LookupByID(ctx, p.SessionID())
	case proof.KindCode:
		session, err = v.sessions.LookupByCode(ctx, p.ShortCode())
	default:
		return nil, errors.Wrapf(proof.ErrInvalidFormat, "[Verifier.resolve] unknown proof kind %q", p.Kind())
	}
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, reject(ReasonSessionNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Verifier.resolve]")
	}
	return session, nil
}
