package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-attendance-server/identity"
	"github.com/rs/zerolog/log"
)

// RequireAuth validates the Bearer token and stores the caller's identity.Principal in the
// request context. Browsers cannot set headers on websocket handshakes, so upgrade requests
// may pass the token as the access_token query parameter instead.
func (s *Server) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeJSONError(w, "unauthorized", "Missing or malformed Authorization header", http.StatusUnauthorized)
			return
		}

		principal, err := s.deps.Identity.Verify(r.Context(), token)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
			writeJSONError(w, "unauthorized", "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(identity.NewContext(r.Context(), principal)))
	}
}

// RequireRole rejects callers whose principal does not carry role. It must run after RequireAuth.
func (s *Server) RequireRole(role identity.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.FromContext(r.Context())
			if !ok {
				writeJSONError(w, "unauthorized", "Authentication required", http.StatusUnauthorized)
				return
			}
			if !principal.Is(role) {
				writeJSONError(w, "forbidden", "This action requires the "+string(role)+" role", http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		token := strings.TrimSpace(parts[1])
		return token, token != ""
	}
	if websocket.IsWebSocketUpgrade(r) {
		token := r.URL.Query().Get("access_token")
		return token, token != ""
	}
	return "", false
}

// principal returns the authenticated caller. Handlers behind RequireAuth always have one.
func principal(r *http.Request) *identity.Principal {
	p, _ := identity.FromContext(r.Context())
	return p
}
