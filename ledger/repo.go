package ledger

import "context"

// Repo defines the append-only storage for marks.
type Repo interface {
	// Insert stores m. It returns errors.ErrDuplicate (internal/errors) when a mark for the
	// same session and student already exists.
	Insert(ctx context.Context, m *Mark) error

	// Exists reports whether the student already holds a mark for the session
	Exists(ctx context.Context, sessionID, studentID string) (bool, error)

	// ListByStudent returns a student's marks, most recent first
	ListByStudent(ctx context.Context, studentID string) ([]*Mark, error)

	// ListBySession returns a session's marks in recording order
	ListBySession(ctx context.Context, sessionID string) ([]*Mark, error)

	// ListByCourse returns every mark for a course in recording order
	ListByCourse(ctx context.Context, courseCode string) ([]*Mark, error)
}
