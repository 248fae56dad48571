// Package sqlrepo stores attendance marks through GORM. A unique index on
// (session_id, student_id) backs the one-mark-per-session rule across processes.
package sqlrepo

import (
	"context"
	"time"

	"github.com/jrsteele09/go-attendance-server/geo"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var _ ledger.Repo = (*Repo)(nil)

type markRow struct {
	ID             string    `gorm:"primaryKey;size:36"`
	SessionID      string    `gorm:"size:36;not null;uniqueIndex:idx_marks_session_student"`
	StudentID      string    `gorm:"size:128;not null;uniqueIndex:idx_marks_session_student;index"`
	CourseCode     string    `gorm:"size:64;not null;index"`
	LectureDate    string    `gorm:"size:10;not null"`
	Status         string    `gorm:"size:16;not null"`
	MarkedAt       time.Time `gorm:"not null"`
	Latitude       float64
	Longitude      float64
	DistanceMeters float64
}

func (markRow) TableName() string { return "attendance_marks" }

func toRow(m *ledger.Mark) *markRow {
	return &markRow{
		ID:             m.ID,
		SessionID:      m.SessionID,
		StudentID:      m.StudentID,
		CourseCode:     m.CourseCode,
		LectureDate:    m.LectureDate,
		Status:         string(m.Status),
		MarkedAt:       m.MarkedAt.UTC(),
		Latitude:       m.StudentLocation.Latitude,
		Longitude:      m.StudentLocation.Longitude,
		DistanceMeters: m.DistanceMeters,
	}
}

func (r *markRow) toMark() *ledger.Mark {
	return &ledger.Mark{
		ID:              r.ID,
		SessionID:       r.SessionID,
		StudentID:       r.StudentID,
		CourseCode:      r.CourseCode,
		LectureDate:     r.LectureDate,
		Status:          ledger.Status(r.Status),
		MarkedAt:        r.MarkedAt.UTC(),
		StudentLocation: geo.Point{Latitude: r.Latitude, Longitude: r.Longitude},
		DistanceMeters:  r.DistanceMeters,
	}
}

// Repo is a GORM implementation of ledger.Repo.
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates or updates the marks table and its unique index.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&markRow{})
}

func (r *Repo) Insert(ctx context.Context, m *ledger.Mark) error {
	err := r.db.WithContext(ctx).Create(toRow(m)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrap(apperrors.ErrDuplicate, "[sqlrepo.Insert]")
	}
	return errors.Wrap(err, "[sqlrepo.Insert]")
}

func (r *Repo) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&markRow{}).
		Where("session_id = ? AND student_id = ?", sessionID, studentID).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "[sqlrepo.Exists]")
	}
	return n > 0, nil
}

func (r *Repo) ListByStudent(ctx context.Context, studentID string) ([]*ledger.Mark, error) {
	return r.list(ctx, "[sqlrepo.ListByStudent]", "student_id = ?", studentID, "marked_at DESC, id DESC")
}

func (r *Repo) ListBySession(ctx context.Context, sessionID string) ([]*ledger.Mark, error) {
	return r.list(ctx, "[sqlrepo.ListBySession]", "session_id = ?", sessionID, "marked_at ASC, id ASC")
}

func (r *Repo) ListByCourse(ctx context.Context, courseCode string) ([]*ledger.Mark, error) {
	return r.list(ctx, "[sqlrepo.ListByCourse]", "course_code = ?", courseCode, "marked_at ASC, id ASC")
}

func (r *Repo) list(ctx context.Context, op, where string, arg interface{}, order string) ([]*ledger.Mark, error) {
	var rows []markRow
	if err := r.db.WithContext(ctx).Where(where, arg).Order(order).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, op)
	}
	marks := make([]*ledger.Mark, 0, len(rows))
	for i := range rows {
		marks = append(marks, rows[i].toMark())
	}
	return marks, nil
}
