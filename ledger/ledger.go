// Package ledger records attendance marks. Marks are written once and never updated or
// deleted, and a student holds at most one mark per session.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-attendance-server/geo"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/internal/keylock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RecordParams are the verified facts of a successful check-in.
type RecordParams struct {
	SessionID   string
	StudentID   string
	CourseCode  string
	LectureDate string
	Location    geo.Point
	Distance    float64
}

// Observer is notified after a mark has been stored.
type Observer func(m Mark)

// Ledger wraps a Repo with per (session, student) serialization.
type Ledger struct {
	repo      Repo
	locks     *keylock.Locker
	nowTime   func() time.Time
	newID     func() string
	observers []Observer
}

// LedgerOption defines a function type to modify the Ledger instance.
type LedgerOption func(*Ledger)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) LedgerOption {
	return func(l *Ledger) { l.nowTime = nowFunc }
}

// WithObserver registers a callback run after every recorded mark.
func WithObserver(o Observer) LedgerOption {
	return func(l *Ledger) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

func NewLedger(repo Repo, options ...LedgerOption) (*Ledger, error) {
	if repo == nil {
		return nil, errors.New("[ledger.NewLedger] repo is required")
	}
	l := &Ledger{
		repo:    repo,
		locks:   keylock.New(),
		nowTime: time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range options {
		opt(l)
	}
	return l, nil
}

// Record appends a PRESENT mark. A second mark for the same session and student returns
// errors.ErrDuplicate and leaves the ledger unchanged.
func (l *Ledger) Record(ctx context.Context, p RecordParams) (*Mark, error) {
	if strings.TrimSpace(p.SessionID) == "" || strings.TrimSpace(p.StudentID) == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidInput, "[Ledger.Record] session and student are required")
	}

	unlock := l.locks.Lock(keylock.Key("mark", p.SessionID, p.StudentID))
	defer unlock()

	exists, err := l.repo.Exists(ctx, p.SessionID, p.StudentID)
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.Record] exists")
	}
	if exists {
		return nil, errors.Wrapf(apperrors.ErrDuplicate, "[Ledger.Record] %s already marked for %s", p.StudentID, p.SessionID)
	}

	m := &Mark{
		ID:              l.newID(),
		SessionID:       p.SessionID,
		StudentID:       p.StudentID,
		CourseCode:      p.CourseCode,
		LectureDate:     p.LectureDate,
		Status:          StatusPresent,
		MarkedAt:        l.nowTime(),
		StudentLocation: p.Location,
		DistanceMeters:  p.Distance,
	}
	stored := *m
	if err := l.repo.Insert(ctx, &stored); err != nil {
		return nil, errors.Wrap(err, "[Ledger.Record] insert")
	}

	log.Info().
		Str("session_id", m.SessionID).
		Str("student", m.StudentID).
		Float64("distance_m", m.DistanceMeters).
		Msg("attendance recorded")

	for _, o := range l.observers {
		o(*m)
	}
	return m, nil
}

// History returns a student's marks, most recent first.
func (l *Ledger) History(ctx context.Context, studentID string) ([]*Mark, error) {
	marks, err := l.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.History]")
	}
	return marks, nil
}

// ForSession returns the roster of one session in recording order.
func (l *Ledger) ForSession(ctx context.Context, sessionID string) ([]*Mark, error) {
	marks, err := l.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.ForSession]")
	}
	return marks, nil
}

// ForCourse returns every mark recorded for a course in recording order.
func (l *Ledger) ForCourse(ctx context.Context, courseCode string) ([]*Mark, error) {
	marks, err := l.repo.ListByCourse(ctx, courseCode)
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.ForCourse]")
	}
	return marks, nil
}
