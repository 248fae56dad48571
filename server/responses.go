package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-attendance-server/attendance"
	apperrors "github.com/jrsteele09/go-attendance-server/internal/errors"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

type sessionResponse struct {
	SessionID     string     `json:"sessionId"`
	SessionCode   string     `json:"sessionCode"`
	CourseCode    string     `json:"courseCode"`
	CreatedBy     string     `json:"createdBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	State         string     `json:"state"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	AllowedRadius float64    `json:"allowedRadius"`
	QRPayload     string     `json:"qrPayload"`
}

func toSessionResponse(v *attendance.SessionView) sessionResponse {
	s := v.Session
	return sessionResponse{
		SessionID:     s.ID,
		SessionCode:   s.ShortCode,
		CourseCode:    s.CourseCode,
		CreatedBy:     s.OwnerID,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
		ClosedAt:      s.ClosedAt,
		State:         string(v.State),
		Latitude:      s.Origin.Latitude,
		Longitude:     s.Origin.Longitude,
		AllowedRadius: s.AllowedRadiusMeters,
		QRPayload:     v.QRPayload,
	}
}

type rosterResponse struct {
	Count int            `json:"count"`
	Marks []*ledger.Mark `json:"marks"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

var verificationStatus = map[attendance.Reason]int{
	attendance.ReasonSessionNotFound: http.StatusNotFound,
	attendance.ReasonSessionExpired:  http.StatusGone,
	attendance.ReasonCourseMismatch:  http.StatusBadRequest,
	attendance.ReasonOutOfRange:      http.StatusForbidden,
	attendance.ReasonAlreadyMarked:   http.StatusConflict,
}

// writeServiceError maps domain errors to status codes. Anything unrecognised is logged and
// reported as a 500 without leaking details.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *attendance.VerificationError
	var de *proof.DecodeError
	switch {
	case apperrors.As(err, &ve):
		writeJSONError(w, string(ve.Reason), ve.Error(), verificationStatus[ve.Reason])
	case apperrors.As(err, &de):
		writeJSONError(w, "InvalidFormat", de.Error(), http.StatusBadRequest)
	case apperrors.Is(err, proof.ErrInvalidFormat):
		writeJSONError(w, "InvalidFormat", err.Error(), http.StatusBadRequest)
	case apperrors.Is(err, apperrors.ErrInvalidInput):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case apperrors.Is(err, apperrors.ErrNotFound):
		writeJSONError(w, "not_found", "Session not found", http.StatusNotFound)
	case apperrors.Is(err, apperrors.ErrForbidden):
		writeJSONError(w, "forbidden", "You do not own this session", http.StatusForbidden)
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		writeJSONError(w, "unauthorized", "Authentication required", http.StatusUnauthorized)
	default:
		log.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeJSONError(w, "server_error", "Internal server error", http.StatusInternalServerError)
	}
}
