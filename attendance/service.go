// Package attendance implements the check-in protocol: faculty open sessions, students
// present a proof and their location, and the verifier admits or rejects the attempt.
package attendance

import (
	"context"
	"time"

	"github.com/jrsteele09/go-attendance-server/geo"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/jrsteele09/go-attendance-server/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SessionView is a session together with the proof material handed to students.
type SessionView struct {
	Session   *sessions.Session
	QRPayload string
	State     sessions.State // effective state at read time
}

// CreateSessionInput is what a faculty member supplies to open a session.
type CreateSessionInput struct {
	CourseCode   string
	Origin       geo.Point
	RadiusMeters *float64
}

// Service exposes the attendance operations to transports.
type Service struct {
	sessions *sessions.Store
	ledger   *ledger.Ledger
	verifier *Verifier
	metrics  *Metrics
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the store and ledger behind a Verifier that shares the store's clock.
func NewService(store *sessions.Store, marks *ledger.Ledger, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("[attendance.NewService] session store is required")
	}
	if marks == nil {
		return nil, errors.New("[attendance.NewService] ledger is required")
	}
	verifier, err := NewVerifier(store, marks, WithNowTime(store.Now))
	if err != nil {
		return nil, err
	}
	s := &Service{sessions: store, ledger: marks, verifier: verifier}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// CreateSession opens a session for ownerID, superseding any active one for the course.
func (s *Service) CreateSession(ctx context.Context, ownerID string, in CreateSessionInput) (*SessionView, error) {
	session, err := s.sessions.Create(ctx, sessions.CreateParams{
		OwnerID:      ownerID,
		CourseCode:   in.CourseCode,
		Origin:       in.Origin,
		RadiusMeters: in.RadiusMeters,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CreateSession]")
	}
	s.metrics.sessionCreated()
	return s.view(session)
}

// GetSession returns a session to its owner.
func (s *Service) GetSession(ctx context.Context, id, requesterID string) (*SessionView, error) {
	session, err := s.ownedSession(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	return s.view(session)
}

// ListSessions returns the requester's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, ownerID string) ([]*SessionView, error) {
	list, err := s.sessions.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ListSessions]")
	}
	views := make([]*SessionView, 0, len(list))
	for _, session := range list {
		v, err := s.view(session)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// CloseSession ends a session before its window elapses.
func (s *Service) CloseSession(ctx context.Context, id, requesterID string) error {
	if err := s.sessions.Close(ctx, id, requesterID); err != nil {
		return errors.Wrap(err, "[Service.CloseSession]")
	}
	s.metrics.sessionClosed()
	return nil
}

// QRCode renders the session's QR payload as a PNG for its owner.
func (s *Service) QRCode(ctx context.Context, id, requesterID string, size int) ([]byte, error) {
	session, err := s.ownedSession(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	enc, err := proof.Encode(session.ID, session.ShortCode, session.CourseCode)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.QRCode]")
	}
	return proof.RenderPNG(enc.Payload, size)
}

// VerifyAndMark admits or rejects a student's check-in.
func (s *Service) VerifyAndMark(ctx context.Context, studentID string, p proof.Proof, courseCode string, location geo.Point) (*ledger.Mark, error) {
	outcome, err := s.verifier.Verify(ctx, Request{
		Proof:      p,
		StudentID:  studentID,
		CourseCode: courseCode,
		Location:   location,
	})
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			s.metrics.observeVerification(string(reason))
			log.Warn().
				Str("student", studentID).
				Str("reason", string(reason)).
				Str("proof_kind", string(p.Kind())).
				Msg("check-in rejected")
			return nil, err
		}
		return nil, errors.Wrap(err, "[Service.VerifyAndMark]")
	}

	s.metrics.observeVerification(outcomeAccepted)
	s.metrics.observeDistance(outcome.Mark.DistanceMeters)
	return outcome.Mark, nil
}

// History returns the student's own marks, most recent first.
func (s *Service) History(ctx context.Context, studentID string) ([]*ledger.Mark, error) {
	return s.ledger.History(ctx, studentID)
}

// SessionRoster lists who marked a session, in recording order. Marks outlive purged
// sessions, so an id is only unknown when it has neither a session nor marks.
func (s *Service) SessionRoster(ctx context.Context, sessionID string) ([]*ledger.Mark, error) {
	marks, err := s.ledger.ForSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.SessionRoster]")
	}
	if len(marks) > 0 {
		return marks, nil
	}
	if _, err := s.sessions.LookupByID(ctx, sessionID); err != nil {
		return nil, errors.Wrap(err, "[Service.SessionRoster]")
	}
	return marks, nil
}

// CourseRoster lists every mark recorded for a course.
func (s *Service) CourseRoster(ctx context.Context, courseCode string) ([]*ledger.Mark, error) {
	return s.ledger.ForCourse(ctx, courseCode)
}

// Authorize checks that requesterID owns the session, for transports that stream
// session data outside the request/response calls above.
func (s *Service) Authorize(ctx context.Context, sessionID, requesterID string) (*sessions.Session, error) {
	return s.ownedSession(ctx, sessionID, requesterID)
}

func (s *Service) ownedSession(ctx context.Context, id, requesterID string) (*sessions.Session, error) {
	session, err := s.sessions.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != requesterID {
		return nil, errors.Wrapf(apperrors.ErrForbidden, "[Service] session %s is not owned by %s", id, requesterID)
	}
	return session, nil
}

func (s *Service) view(session *sessions.Session) (*SessionView, error) {
	enc, err := proof.Encode(session.ID, session.ShortCode, session.CourseCode)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.view]")
	}
	return &SessionView{
		Session:   session,
		QRPayload: enc.Payload,
		State:     session.EffectiveState(s.now()),
	}, nil
}

func (s *Service) now() time.Time {
	return s.sessions.Now()
}
