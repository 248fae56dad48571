package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/go-attendance-server/attendance"
	"github.com/jrsteele09/go-attendance-server/capture"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/proof"
)

// APIError is a non-verification error response from the server.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Description)
}

// Unwrap exposes the matching sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == "LocationUnavailable":
		return capture.ErrLocationUnavailable
	case e.Code == "InvalidFormat":
		return proof.ErrInvalidFormat
	case e.Status == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return apperrors.ErrForbidden
	case e.Status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case e.Status == http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	}
	return nil
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

var reasons = map[attendance.Reason]struct{}{
	attendance.ReasonSessionNotFound: {},
	attendance.ReasonSessionExpired:  {},
	attendance.ReasonCourseMismatch:  {},
	attendance.ReasonOutOfRange:      {},
	attendance.ReasonAlreadyMarked:   {},
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	}

	reason := attendance.Reason(body.Error)
	if _, ok := reasons[reason]; !ok {
		return &APIError{Status: resp.StatusCode, Code: body.Error, Description: body.Description}
	}
	ve := &attendance.VerificationError{Reason: reason}
	if reason == attendance.ReasonOutOfRange {
		// Best effort; the message carries rounded values.
		_, _ = fmt.Sscanf(body.Description, "You are %fm away. Please be within %fm", &ve.DistanceMeters, &ve.RadiusMeters)
	}
	return ve
}
