package memrepo

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/ledger"
)

var _ ledger.Repo = (*Repo)(nil)

type markKey struct {
	sessionID string
	studentID string
}

// Repo is an in-memory ledger.Repo. Marks are kept in insertion order.
type Repo struct {
	marks []*ledger.Mark
	index map[markKey]struct{}
	lock  sync.RWMutex
}

func New() *Repo {
	return &Repo{index: make(map[markKey]struct{})}
}

func (r *Repo) Insert(_ context.Context, m *ledger.Mark) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := markKey{m.SessionID, m.StudentID}
	if _, ok := r.index[key]; ok {
		return apperrors.ErrDuplicate
	}
	c := *m
	r.marks = append(r.marks, &c)
	r.index[key] = struct{}{}
	return nil
}

func (r *Repo) Exists(_ context.Context, sessionID, studentID string) (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.index[markKey{sessionID, studentID}]
	return ok, nil
}

func (r *Repo) ListByStudent(_ context.Context, studentID string) ([]*ledger.Mark, error) {
	list, err := r.filter(func(m *ledger.Mark) bool { return m.StudentID == studentID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].MarkedAt.Equal(list[j].MarkedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].MarkedAt.After(list[j].MarkedAt)
	})
	return list, nil
}

func (r *Repo) ListBySession(_ context.Context, sessionID string) ([]*ledger.Mark, error) {
	return r.filter(func(m *ledger.Mark) bool { return m.SessionID == sessionID })
}

func (r *Repo) ListByCourse(_ context.Context, courseCode string) ([]*ledger.Mark, error) {
	return r.filter(func(m *ledger.Mark) bool { return m.CourseCode == courseCode })
}

// Len returns the number of stored marks.
func (r *Repo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.marks)
}

func (r *Repo) filter(keep func(*ledger.Mark) bool) ([]*ledger.Mark, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	list := make([]*ledger.Mark, 0)
	for _, m := range r.marks {
		if keep(m) {
			c := *m
			list = append(list, &c)
		}
	}
	return list, nil
}
