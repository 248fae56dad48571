package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-attendance-server/geo"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/internal/keylock"
	"github.com/jrsteele09/go-attendance-server/internal/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultWindow       = 10 * time.Minute
	DefaultRadiusMeters = 100.0
	DefaultRetention    = 30 * 24 * time.Hour

	maxCodeAttempts = 16
	codeAllocKey    = "\x00session-codes"
)

// CreateParams are the faculty inputs for opening a session.
type CreateParams struct {
	OwnerID      string
	CourseCode   string
	Origin       geo.Point
	RadiusMeters *float64 // nil uses the store default
}

// Store owns the session lifecycle: creation with supersession, lookup, closing and
// retention purging. Expiry is never stored; it is evaluated against the clock on every read.
type Store struct {
	repo          Repo
	locks         *keylock.Locker
	window        time.Duration
	defaultRadius float64
	retention     time.Duration
	nowTime       func() time.Time
	newCode       CodeGenerator
	newID         func() string
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) { s.nowTime = nowFunc }
}

// WithWindow sets how long a new session accepts marks.
func WithWindow(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithDefaultRadius sets the radius used when CreateParams.RadiusMeters is nil.
func WithDefaultRadius(meters float64) StoreOption {
	return func(s *Store) {
		if meters > 0 {
			s.defaultRadius = meters
		}
	}
}

// WithRetention sets how long expired sessions are kept before Purge removes them.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithCodeGenerator replaces the short code source.
func WithCodeGenerator(gen CodeGenerator) StoreOption {
	return func(s *Store) { s.newCode = gen }
}

// NewStore creates a Store over repo.
func NewStore(repo Repo, options ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[sessions.NewStore] repo is required")
	}

	s := &Store{
		repo:          repo,
		locks:         keylock.New(),
		window:        DefaultWindow,
		defaultRadius: DefaultRadiusMeters,
		retention:     DefaultRetention,
		nowTime:       time.Now,
		newCode:       RandomCode,
		newID:         uuid.NewString,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.nowTime()
}

// Window returns the attendance window applied to new sessions.
func (s *Store) Window() time.Duration {
	return s.window
}

// Create opens a new ACTIVE session, closing any ACTIVE session the same owner holds for
// the same course.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Session, error) {
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	p.CourseCode = strings.TrimSpace(p.CourseCode)
	if p.OwnerID == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidInput, "[Store.Create] owner is required")
	}
	if p.CourseCode == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidInput, "[Store.Create] course code is required")
	}
	if err := p.Origin.Validate(); err != nil {
		return nil, errors.Wrapf(apperrors.ErrInvalidInput, "[Store.Create] origin: %v", err)
	}
	radius := utils.ValueOr(p.RadiusMeters, s.defaultRadius)
	if !(radius > 0) {
		return nil, errors.Wrapf(apperrors.ErrInvalidInput, "[Store.Create] radius must be positive, got %v", radius)
	}

	unlockPair := s.locks.Lock(keylock.Key("session", p.OwnerID, p.CourseCode))
	defer unlockPair()
	unlockCodes := s.locks.Lock(codeAllocKey)
	defer unlockCodes()

	now := s.nowTime()
	code, err := s.allocateCode(ctx, now)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:                  s.newID(),
		ShortCode:           code,
		CourseCode:          p.CourseCode,
		OwnerID:             p.OwnerID,
		Origin:              p.Origin,
		AllowedRadiusMeters: radius,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.window),
		State:               StateActive,
	}

	superseded, err := s.repo.Supersede(ctx, session.Clone(), now)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Create] persist")
	}
	for _, id := range superseded {
		log.Info().Str("session_id", id).Str("course", p.CourseCode).Msg("session superseded")
	}
	log.Info().
		Str("session_id", session.ID).
		Str("owner", session.OwnerID).
		Str("course", session.CourseCode).
		Time("expires_at", session.ExpiresAt).
		Msg("session created")

	return session, nil
}

func (s *Store) allocateCode(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", errors.Wrap(err, "[Store.allocateCode] generate")
		}
		_, err = s.repo.GetActiveByCode(ctx, code, now)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", errors.Wrap(err, "[Store.allocateCode] lookup")
		}
	}
	return "", errors.Errorf("[Store.allocateCode] no free code after %d attempts", maxCodeAttempts)
}

// LookupByID returns the session in any state, for verification and audit.
func (s *Store) LookupByID(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.Wrap(apperrors.ErrNotFound, "[Store.LookupByID] empty id")
	}
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "[Store.LookupByID] %s", id)
	}
	return session, nil
}

// LookupByCode returns the session currently accepting marks under code. Closed and expired
// sessions are reported as not found. The code is matched case-insensitively.
func (s *Store) LookupByCode(ctx context.Context, code string) (*Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errors.Wrap(apperrors.ErrNotFound, "[Store.LookupByCode] empty code")
	}
	now := s.nowTime()
	session, err := s.repo.GetActiveByCode(ctx, code, now)
	if err != nil {
		return nil, errors.Wrapf(err, "[Store.LookupByCode] %s", code)
	}
	if !IsActive(session, now) {
		return nil, errors.Wrapf(apperrors.ErrNotFound, "[Store.LookupByCode] %s no longer active", code)
	}
	return session, nil
}

// Close ends a session early. Only the owner may close it; closing twice is a no-op.
func (s *Store) Close(ctx context.Context, id, requesterID string) error {
	session, err := s.LookupByID(ctx, id)
	if err != nil {
		return err
	}
	if session.OwnerID != requesterID {
		return errors.Wrapf(apperrors.ErrForbidden, "[Store.Close] %s is not owned by %s", id, requesterID)
	}
	if session.State == StateClosed {
		return nil
	}
	if err := s.repo.Close(ctx, id, s.nowTime()); err != nil {
		return errors.Wrap(err, "[Store.Close] persist")
	}
	log.Info().Str("session_id", id).Str("owner", requesterID).Msg("session closed")
	return nil
}

// ListByOwner returns the sessions opened by ownerID, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*Session, error) {
	list, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.ListByOwner]")
	}
	return list, nil
}

// Purge deletes sessions that expired more than the retention period ago.
func (s *Store) Purge(ctx context.Context) (int, error) {
	cutoff := s.nowTime().Add(-s.retention)
	n, err := s.repo.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "[Store.Purge]")
	}
	if n > 0 {
		log.Info().Int("count", n).Time("cutoff", cutoff).Msg("purged expired sessions")
	}
	return n, nil
}
