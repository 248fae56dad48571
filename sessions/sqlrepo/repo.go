// Package sqlrepo stores sessions in a relational database through GORM.
package sqlrepo

import (
	"context"
	"time"

	"github.com/jrsteele09/go-attendance-server/geo"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/sessions"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var _ sessions.Repo = (*Repo)(nil)

type sessionRow struct {
	ID           string  `gorm:"primaryKey;size:36"`
	ShortCode    string  `gorm:"size:6;not null;index"`
	CourseCode   string  `gorm:"size:64;not null;index:idx_sessions_owner_course"`
	OwnerID      string  `gorm:"size:128;not null;index:idx_sessions_owner_course"`
	OriginLat    float64 `gorm:"not null"`
	OriginLng    float64 `gorm:"not null"`
	RadiusMeters float64 `gorm:"not null"`
	CreatedAt    time.Time
	ExpiresAt    time.Time `gorm:"not null;index"`
	State        string    `gorm:"size:16;not null;index"`
	ClosedAt     *time.Time
}

func (sessionRow) TableName() string { return "attendance_sessions" }

func toRow(s *sessions.Session) *sessionRow {
	row := &sessionRow{
		ID:           s.ID,
		ShortCode:    s.ShortCode,
		CourseCode:   s.CourseCode,
		OwnerID:      s.OwnerID,
		OriginLat:    s.Origin.Latitude,
		OriginLng:    s.Origin.Longitude,
		RadiusMeters: s.AllowedRadiusMeters,
		CreatedAt:    s.CreatedAt.UTC(),
		ExpiresAt:    s.ExpiresAt.UTC(),
		State:        string(s.State),
	}
	if s.ClosedAt != nil {
		t := s.ClosedAt.UTC()
		row.ClosedAt = &t
	}
	return row
}

func (r *sessionRow) toSession() *sessions.Session {
	s := &sessions.Session{
		ID:                  r.ID,
		ShortCode:           r.ShortCode,
		CourseCode:          r.CourseCode,
		OwnerID:             r.OwnerID,
		Origin:              geo.Point{Latitude: r.OriginLat, Longitude: r.OriginLng},
		AllowedRadiusMeters: r.RadiusMeters,
		CreatedAt:           r.CreatedAt.UTC(),
		ExpiresAt:           r.ExpiresAt.UTC(),
		State:               sessions.State(r.State),
	}
	if r.ClosedAt != nil {
		t := r.ClosedAt.UTC()
		s.ClosedAt = &t
	}
	return s
}

// Repo is a GORM implementation of sessions.Repo.
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates or updates the sessions table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionRow{})
}

func (r *Repo) Supersede(ctx context.Context, s *sessions.Session, closedAt time.Time) ([]string, error) {
	var closed []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := tx.Model(&sessionRow{}).
			Where("owner_id = ? AND course_code = ? AND state = ?", s.OwnerID, s.CourseCode, string(sessions.StateActive))
		if err := scope.Order("id").Pluck("id", &closed).Error; err != nil {
			return err
		}
		if len(closed) > 0 {
			if err := tx.Model(&sessionRow{}).Where("id IN ?", closed).Updates(map[string]interface{}{
				"state":     string(sessions.StateClosed),
				"closed_at": closedAt.UTC(),
			}).Error; err != nil {
				return err
			}
		}
		return tx.Create(toRow(s)).Error
	})
	if err != nil {
		return nil, translate(err, "[sqlrepo.Supersede]")
	}
	return closed, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*sessions.Session, error) {
	var row sessionRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err, "[sqlrepo.Get]")
	}
	return row.toSession(), nil
}

func (r *Repo) GetActiveByCode(ctx context.Context, code string, now time.Time) (*sessions.Session, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).
		Where("short_code = ? AND state = ? AND expires_at >= ?", code, string(sessions.StateActive), now.UTC()).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		return nil, translate(err, "[sqlrepo.GetActiveByCode]")
	}
	return row.toSession(), nil
}

func (r *Repo) Close(ctx context.Context, id string, closedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"state":     string(sessions.StateClosed),
		"closed_at": closedAt.UTC(),
	})
	if res.Error != nil {
		return translate(res.Error, "[sqlrepo.Close]")
	}
	if res.RowsAffected == 0 {
		return errors.Wrap(apperrors.ErrNotFound, "[sqlrepo.Close]")
	}
	return nil
}

func (r *Repo) ListByOwner(ctx context.Context, ownerID string) ([]*sessions.Session, error) {
	var rows []sessionRow
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "[sqlrepo.ListByOwner]")
	}
	list := make([]*sessions.Session, 0, len(rows))
	for i := range rows {
		list = append(list, rows[i].toSession())
	}
	return list, nil
}

func (r *Repo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&sessionRow{})
	if res.Error != nil {
		return 0, translate(res.Error, "[sqlrepo.DeleteExpiredBefore]")
	}
	return int(res.RowsAffected), nil
}

func translate(err error, prefix string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrap(apperrors.ErrNotFound, prefix)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrap(apperrors.ErrDuplicate, prefix)
	default:
		return errors.Wrap(err, prefix)
	}
}
