package sessions

import (
	"time"

	"github.com/jrsteele09/go-attendance-server/geo"
)

// State is the persisted lifecycle state of a session.
type State string

const (
	StateActive State = "ACTIVE"
	StateClosed State = "CLOSED"
	// StateExpired is never stored. It is derived from ExpiresAt at read time.
	StateExpired State = "EXPIRED"
)

// Session is a time-boxed, location-bound window in which students may mark attendance
// for one course meeting.
type Session struct {
	ID                  string    // Unguessable identifier (UUID v4)
	ShortCode           string    // 6-character code students can type instead of scanning
	CourseCode          string    // Course this meeting belongs to
	OwnerID             string    // Faculty member who opened the session
	Origin              geo.Point // Location of the faculty device at creation
	AllowedRadiusMeters float64   // Geofence radius around Origin
	CreatedAt           time.Time
	ExpiresAt           time.Time  // CreatedAt + attendance window
	State               State      // ACTIVE or CLOSED
	ClosedAt            *time.Time // Set when closed by the owner or superseded
}

// IsActive reports whether the session accepts marks at now. The expiry instant itself
// still counts as active.
func IsActive(s *Session, now time.Time) bool {
	return s != nil && s.State == StateActive && !now.After(s.ExpiresAt)
}

// EffectiveState returns the state a reader should see at now.
func (s *Session) EffectiveState(now time.Time) State {
	if s.State == StateActive && now.After(s.ExpiresAt) {
		return StateExpired
	}
	return s.State
}

// LectureDate is the calendar date of the meeting, used to label marks.
func (s *Session) LectureDate() string {
	return s.CreatedAt.Format(time.DateOnly)
}

// Clone returns a deep copy so callers never share mutable state with a repository.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
