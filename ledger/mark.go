package ledger

import (
	"time"

	"github.com/jrsteele09/go-attendance-server/geo"
)

// Status of a recorded mark. Only PRESENT is ever written.
type Status string

const StatusPresent Status = "PRESENT"

// Mark is one student's immutable attendance record for one session.
type Mark struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	StudentID       string    `json:"studentId"`
	CourseCode      string    `json:"courseCode"`
	LectureDate     string    `json:"lectureDate"` // YYYY-MM-DD of the session start
	Status          Status    `json:"status"`
	MarkedAt        time.Time `json:"markedAt"`
	StudentLocation geo.Point `json:"studentLocation"`
	DistanceMeters  float64   `json:"distanceMeters"`
}
