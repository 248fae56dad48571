package attendance

import (
	"errors"
	"fmt"
	"math"
)

// Reason names why a verification was rejected.
type Reason string

const (
	ReasonSessionNotFound Reason = "SessionNotFound"
	ReasonSessionExpired  Reason = "SessionExpired"
	ReasonCourseMismatch  Reason = "CourseMismatch"
	ReasonOutOfRange      Reason = "OutOfRange"
	ReasonAlreadyMarked   Reason = "AlreadyMarked"
)

// Sentinels for errors.Is matching against a *VerificationError.
var (
	ErrSessionNotFound = errors.New("invalid or expired session")
	ErrSessionExpired  = errors.New("session expired")
	ErrCourseMismatch  = errors.New("course mismatch")
	ErrOutOfRange      = errors.New("out of range")
	ErrAlreadyMarked   = errors.New("already marked")
)

var reasonSentinels = map[Reason]error{
	ReasonSessionNotFound: ErrSessionNotFound,
	ReasonSessionExpired:  ErrSessionExpired,
	ReasonCourseMismatch:  ErrCourseMismatch,
	ReasonOutOfRange:      ErrOutOfRange,
	ReasonAlreadyMarked:   ErrAlreadyMarked,
}

// VerificationError is a terminal, user-facing rejection of a check-in. Its message can be
// shown to the student verbatim.
type VerificationError struct {
	Reason Reason
	// DistanceMeters and RadiusMeters are set for ReasonOutOfRange.
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *VerificationError) Error() string {
	switch e.Reason {
	case ReasonSessionNotFound:
		return "Invalid or expired session."
	case ReasonSessionExpired:
		return "This attendance session has expired."
	case ReasonCourseMismatch:
		return "Course code does not match the session."
	case ReasonOutOfRange:
		return fmt.Sprintf("You are %.0fm away. Please be within %.0fm of the class.",
			math.Round(e.DistanceMeters), math.Round(e.RadiusMeters))
	case ReasonAlreadyMarked:
		return "Attendance already marked for this session."
	default:
		return string(e.Reason)
	}
}

func (e *VerificationError) Is(target error) bool {
	sentinel, ok := reasonSentinels[e.Reason]
	return ok && sentinel == target
}

func reject(reason Reason) *VerificationError {
	return &VerificationError{Reason: reason}
}

// ReasonOf extracts the rejection reason from err, if it is a verification failure.
func ReasonOf(err error) (Reason, bool) {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
