package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/sessions"
)

var _ sessions.Repo = (*Repo)(nil)

// Repo is an in-memory sessions.Repo backing the memory storage driver.
type Repo struct {
	sessions map[string]*sessions.Session
	codes    map[string][]string // short code -> session IDs that have held it
	lock     sync.RWMutex
}

func New() *Repo {
	return &Repo{
		sessions: make(map[string]*sessions.Session),
		codes:    make(map[string][]string),
	}
}

func (sr *Repo) Supersede(_ context.Context, s *sessions.Session, closedAt time.Time) ([]string, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if _, exists := sr.sessions[s.ID]; exists {
		return nil, apperrors.ErrDuplicate
	}

	var closed []string
	for id, existing := range sr.sessions {
		if existing.OwnerID == s.OwnerID && existing.CourseCode == s.CourseCode && existing.State == sessions.StateActive {
			existing.State = sessions.StateClosed
			t := closedAt
			existing.ClosedAt = &t
			closed = append(closed, id)
		}
	}

	sr.sessions[s.ID] = s.Clone()
	sr.codes[s.ShortCode] = append(sr.codes[s.ShortCode], s.ID)
	sort.Strings(closed)
	return closed, nil
}

func (sr *Repo) Get(_ context.Context, id string) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	session, ok := sr.sessions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return session.Clone(), nil
}

func (sr *Repo) GetActiveByCode(_ context.Context, code string, now time.Time) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	for _, id := range sr.codes[code] {
		session, ok := sr.sessions[id]
		if ok && sessions.IsActive(session, now) {
			return session.Clone(), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (sr *Repo) Close(_ context.Context, id string, closedAt time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	session, ok := sr.sessions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	session.State = sessions.StateClosed
	session.ClosedAt = &closedAt
	return nil
}

func (sr *Repo) ListByOwner(_ context.Context, ownerID string) ([]*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	list := make([]*sessions.Session, 0)
	for _, session := range sr.sessions {
		if session.OwnerID == ownerID {
			list = append(list, session.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (sr *Repo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	n := 0
	for id, session := range sr.sessions {
		if session.ExpiresAt.Before(cutoff) {
			sr.removeCode(session.ShortCode, id)
			delete(sr.sessions, id)
			n++
		}
	}
	return n, nil
}

func (sr *Repo) removeCode(code, id string) {
	ids := sr.codes[code]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(sr.codes, code)
		return
	}
	sr.codes[code] = ids
}
