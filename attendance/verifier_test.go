package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-attendance-server/attendance"
	"github.com/jrsteele09/go-attendance-server/geo"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/jrsteele09/go-attendance-server/sessions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var (
	campus  = geo.Point{Latitude: 12.9716, Longitude: 77.5946}
	faraway = geo.Point{Latitude: 12.9720, Longitude: 77.6050}
	t0      = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
)

type stubLookup struct {
	byID      map[string]*sessions.Session
	byCode    map[string]*sessions.Session
	err       error
	idCalls   int
	codeCalls int
}

func (s *stubLookup) LookupByID(_ context.Context, id string) (*sessions.Session, error) {
	s.idCalls++
	if s.err != nil {
		return nil, s.err
	}
	if sess, ok := s.byID[id]; ok {
		return sess, nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *stubLookup) LookupByCode(_ context.Context, code string) (*sessions.Session, error) {
	s.codeCalls++
	if sess, ok := s.byCode[code]; ok {
		return sess, nil
	}
	return nil, apperrors.ErrNotFound
}

type stubRecorder struct {
	calls []ledger.RecordParams
	err   error
}

func (r *stubRecorder) Record(_ context.Context, p ledger.RecordParams) (*ledger.Mark, error) {
	r.calls = append(r.calls, p)
	if r.err != nil {
		return nil, r.err
	}
	return &ledger.Mark{ID: "m1", SessionID: p.SessionID, StudentID: p.StudentID, Status: ledger.StatusPresent, DistanceMeters: p.Distance}, nil
}

type verifierFixture struct {
	verifier *attendance.Verifier
	lookup   *stubLookup
	recorder *stubRecorder
	session  *sessions.Session
	now      time.Time
}

func setupVerifierFixture(t *testing.T) *verifierFixture {
	t.Helper()
	session := &sessions.Session{
		ID:                  "sess-1",
		ShortCode:           "K7M2PX",
		CourseCode:          "CS101",
		OwnerID:             "fac-1",
		Origin:              campus,
		AllowedRadiusMeters: 100,
		CreatedAt:           t0,
		ExpiresAt:           t0.Add(10 * time.Minute),
		State:               sessions.StateActive,
	}
	f := &verifierFixture{
		lookup: &stubLookup{
			byID:   map[string]*sessions.Session{session.ID: session},
			byCode: map[string]*sessions.Session{session.ShortCode: session},
		},
		recorder: &stubRecorder{},
		session:  session,
		now:      t0.Add(time.Minute),
	}
	v, err := attendance.NewVerifier(f.lookup, f.recorder, attendance.WithNowTime(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.verifier = v
	return f
}

func qrProof(t *testing.T, id, course string) proof.Proof {
	t.Helper()
	p, err := proof.NewSessionProof(id, course)
	require.NoError(t, err)
	return p
}

func codeProof(t *testing.T, code, course string) proof.Proof {
	t.Helper()
	p, err := proof.NewCodeProof(code, course)
	require.NoError(t, err)
	return p
}

func requireReason(t *testing.T, err error, reason attendance.Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := attendance.ReasonOf(err)
	require.True(t, ok, "expected a verification error, got %v", err)
	require.Equal(t, reason, got)
}

func TestNewVerifier_RequiresDependencies(t *testing.T) {
	_, err := attendance.NewVerifier(nil, &stubRecorder{})
	require.Error(t, err)
	_, err = attendance.NewVerifier(&stubLookup{}, nil)
	require.Error(t, err)
}

func TestVerify_AcceptsQRAndCode(t *testing.T) {
	f := setupVerifierFixture(t)
	ctx := context.Background()

	out, err := f.verifier.Verify(ctx, attendance.Request{
		Proof: qrProof(t, "sess-1", "CS101"), StudentID: "stu-1", CourseCode: "CS101", Location: campus,
	})
	require.NoError(t, err)
	require.Equal(t, "sess-1", out.Session.ID)
	require.Equal(t, 1, f.lookup.idCalls)
	require.Len(t, f.recorder.calls, 1)
	require.Equal(t, "2025-03-10", f.recorder.calls[0].LectureDate)
	require.Equal(t, 0.0, f.recorder.calls[0].Distance)

	_, err = f.verifier.Verify(ctx, attendance.Request{
		Proof: codeProof(t, "k7m2px", "CS101"), StudentID: "stu-2", Location: campus,
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.lookup.codeCalls)
	require.Len(t, f.recorder.calls, 2)
}

func TestVerify_SessionNotFound(t *testing.T) {
	f := setupVerifierFixture(t)
	_, err := f.verifier.Verify(context.Background(), attendance.Request{
		Proof: qrProof(t, "nope", "CS101"), StudentID: "stu-1", CourseCode: "CS101", Location: campus,
	})
	requireReason(t, err, attendance.ReasonSessionNotFound)
	require.ErrorIs(t, err, attendance.ErrSessionNotFound)
	require.Empty(t, f.recorder.calls)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	f := setupVerifierFixture(t)
	req := attendance.Request{Proof: qrProof(t, "sess-1", "CS101"), StudentID: "stu-1", CourseCode: "CS101", Location: campus}

	f.now = f.session.ExpiresAt
	_, err := f.verifier.Verify(context.Background(), req)
	require.NoError(t, err, "the expiry instant is accepted")

	f.now = f.session.ExpiresAt.Add(time.Millisecond)
	req.StudentID = "stu-2"
	_, err = f.verifier.Verify(context.Background(), req)
	requireReason(t, err, attendance.ReasonSessionExpired)
	require.ErrorIs(t, err, attendance.ErrSessionExpired)
	require.Len(t, f.recorder.calls, 1)
}

func TestVerify_ClosedSessionIsExpired(t *testing.T) {
	f := setupVerifierFixture(t)
	f.session.State = sessions.StateClosed
	_, err := f.verifier.Verify(context.Background(), attendance.Request{
		Proof: qrProof(t, "sess-1", "CS101"), StudentID: "stu-1", CourseCode: "CS101", Location: campus,
	})
	requireReason(t, err, attendance.ReasonSessionExpired)
}

func TestVerify_CourseMismatch(t *testing.T) {
	f := setupVerifierFixture(t)
	ctx := context.Background()

	t.Run("student selected another course", func(t *testing.T) {
		_, err := f.verifier.Verify(ctx, attendance.Request{
			Proof: codeProof(t, "K7M2PX", "MA201"), StudentID: "stu-1", Location: campus,
		})
		requireReason(t, err, attendance.ReasonCourseMismatch)
	})

	t.Run("qr payload names another course", func(t *testing.T) {
		_, err := f.verifier.Verify(ctx, attendance.Request{
			Proof: qrProof(t, "sess-1", "MA201"), StudentID: "stu-1", CourseCode: "CS101", Location: campus,
		})
		requireReason(t, err, attendance.ReasonCourseMismatch)
	})

	t.Run("checked before the geofence", func(t *testing.T) {
		_, err := f.verifier.Verify(ctx, attendance.Request{
			Proof: qrProof(t, "sess-1", "CS101"), StudentID: "stu-1", CourseCode: "MA201", Location: faraway,
		})
		requireReason(t, err, attendance.ReasonCourseMismatch)
	})

	require.Empty(t, f.recorder.calls)
}

func TestVerify_OutOfRange(t *testing.T) {
	f := setupVerifierFixture(t)
	_, err := f.verifier.Verify(context.Background(), attendance.Request{
		Proof: qrProof(t, "sess-1", "CS101"), StudentID: "stu-1", CourseCode: "CS101", Location: faraway,
	})
	requireReason(t, err, attendance.ReasonOutOfRange)
	require.ErrorIs(t, err, attendance.ErrOutOfRange)

	var ve *attendance.VerificationError
	require.ErrorAs(t, err, &ve)
	require.InDelta(t, 1128, ve.DistanceMeters, 5)
	require.Equal(t, 100.0, ve.RadiusMeters)
	require.Equal(t, "You are 1128m away. Please be within 100m of the class.", ve.Error())
	require.Empty(t, f.recorder.calls)
}

func TestVerify_ExpiredWinsOverOutOfRange(t *testing.T) {
	f := setupVerifierFixture(t)
	f.now = f.session.ExpiresAt.Add(time.Second)
	_, err := f.verifier.Verify(context.Background(), attendance.Request{
		Proof: qrProof(t, "sess-1", "MA201"), StudentID: "stu-1", CourseCode: "MA201", Location: faraway,
	})
	requireReason(t, err, attendance.ReasonSessionExpired)
}

func TestVerify_DuplicateMapsToAlreadyMarked(t *testing.T) {
	f := setupVerifierFixture(t)
	f.recorder.err = errors.Wrap(apperrors.ErrDuplicate, "exists")
	_, err := f.verifier.Verify(context.Background(), attendance.Request{
		Proof: qrProof(t, "sess-1", "CS101"), StudentID: "stu-1", CourseCode: "CS101", Location: campus,
	})
	requireReason(t, err, attendance.ReasonAlreadyMarked)
	require.ErrorIs(t, err, attendance.ErrAlreadyMarked)
}

func TestVerify_InfrastructureErrorsAreNotRejections(t *testing.T) {
	f := setupVerifierFixture(t)
	boom := errors.New("connection refused")
	f.lookup.err = boom

	_, err := f.verifier.Verify(context.Background(), attendance.Request{
		Proof: qrProof(t, "sess-1", "CS101"), StudentID: "stu-1", CourseCode: "CS101", Location: campus,
	})
	require.ErrorIs(t, err, boom)
	_, ok := attendance.ReasonOf(err)
	require.False(t, ok)
}

func TestVerify_InputValidation(t *testing.T) {
	f := setupVerifierFixture(t)
	ctx := context.Background()

	_, err := f.verifier.Verify(ctx, attendance.Request{StudentID: "stu-1", Location: campus})
	require.ErrorIs(t, err, proof.ErrInvalidFormat)

	_, err = f.verifier.Verify(ctx, attendance.Request{Proof: qrProof(t, "sess-1", "CS101"), Location: campus})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = f.verifier.Verify(ctx, attendance.Request{
		Proof: qrProof(t, "sess-1", "CS101"), StudentID: "stu-1", Location: geo.Point{Latitude: 120},
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	require.Zero(t, f.lookup.idCalls)
}
