package sessions

import (
	"context"
	"time"
)

// Repo defines the storage operations for attendance sessions.
// Implementations return errors.ErrNotFound (internal/errors) for missing rows.
type Repo interface {
	// Supersede closes every ACTIVE session for s.OwnerID and s.CourseCode at closedAt and
	// inserts s, atomically. It returns the IDs of the sessions it closed.
	Supersede(ctx context.Context, s *Session, closedAt time.Time) ([]string, error)

	// Get retrieves a session by ID in any state
	Get(ctx context.Context, id string) (*Session, error)

	// GetActiveByCode retrieves the ACTIVE session holding code that has not expired at now
	GetActiveByCode(ctx context.Context, code string, now time.Time) (*Session, error)

	// Close marks a session CLOSED at closedAt
	Close(ctx context.Context, id string, closedAt time.Time) error

	// ListByOwner returns an owner's sessions, newest first
	ListByOwner(ctx context.Context, ownerID string) ([]*Session, error)

	// DeleteExpiredBefore removes sessions whose ExpiresAt is before cutoff
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
