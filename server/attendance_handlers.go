package server

import (
	"net/http"
	"strconv"

	"github.com/jrsteele09/go-attendance-server/attendance"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/jrsteele09/go-attendance-server/rosterfeed"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CreateSessionHandler opens a session at the faculty device's location.
func (s *Server) CreateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := s.decodeAndValidate(w, r, &req); err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		view, err := s.deps.Service.CreateSession(r.Context(), principal(r).UserID, attendance.CreateSessionInput{
			CourseCode:   req.CourseCode,
			Origin:       req.origin(),
			RadiusMeters: req.AllowedRadius,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSessionResponse(view))
	}
}

func (s *Server) ListSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := s.deps.Service.ListSessions(r.Context(), principal(r).UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]sessionResponse, 0, len(views))
		for _, v := range views {
			out = append(out, toSessionResponse(v))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) GetSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.deps.Service.GetSession(r.Context(), r.PathValue("id"), principal(r).UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(view))
	}
}

func (s *Server) CloseSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.deps.Service.CloseSession(r.Context(), id, principal(r).UserID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		view, err := s.deps.Service.GetSession(r.Context(), id, principal(r).UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(view))
	}
}

// SessionQRHandler renders the session's QR code; ?size= sets the edge length in pixels.
func (s *Server) SessionQRHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		size := proof.DefaultQRSize
		if raw := r.URL.Query().Get("size"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSONError(w, "invalid_request", "size must be a positive integer", http.StatusBadRequest)
				return
			}
			size = n
		}

		png, err := s.deps.Service.QRCode(r.Context(), r.PathValue("id"), principal(r).UserID, size)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	}
}

// MarkAttendanceHandler is the student check-in endpoint.
func (s *Server) MarkAttendanceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req markRequest
		if err := s.decodeAndValidate(w, r, &req); err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		location, ok := req.location()
		if !ok {
			writeJSONError(w, "LocationUnavailable", locationRequired, http.StatusBadRequest)
			return
		}

		p, err := req.proof()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		mark, err := s.deps.Service.VerifyAndMark(r.Context(), principal(r).UserID, p, req.CourseCode, location)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, mark)
	}
}

// HistoryHandler returns the calling student's own marks, most recent first.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		marks, err := s.deps.Service.History(r.Context(), principal(r).UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, marks)
	}
}

func (s *Server) SessionRosterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		marks, err := s.deps.Service.SessionRoster(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rosterResponse{Count: len(marks), Marks: marks})
	}
}

func (s *Server) CourseRosterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		marks, err := s.deps.Service.CourseRoster(r.Context(), r.PathValue("courseCode"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rosterResponse{Count: len(marks), Marks: marks})
	}
}

// LiveRosterHandler streams new marks for a session the caller owns over a websocket.
func (s *Server) LiveRosterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := s.deps.Service.Authorize(r.Context(), id, principal(r).UserID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		backlog := func() ([]*ledger.Mark, error) {
			return s.deps.Service.SessionRoster(r.Context(), id)
		}
		if err := s.deps.Feed.Stream(w, r, s.checkOrigin, id, backlog); err != nil {
			var be *rosterfeed.BacklogError
			if errors.As(err, &be) {
				writeServiceError(w, r, be.Err)
				return
			}
			log.Debug().Err(err).Str("session_id", id).Msg("live roster closed")
		}
	}
}
