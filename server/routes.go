package server

import (
	"net/http"

	"github.com/jrsteele09/go-attendance-server/identity"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	faculty := s.APIMiddleware(s.RequireAuth, s.RequireRole(identity.RoleFaculty))
	student := s.APIMiddleware(s.RequireAuth, s.RequireRole(identity.RoleStudent))

	// Faculty
	s.RegisterRouteHandler("POST "+RouteSessions, ChainMiddleware(s.CreateSessionHandler(), faculty...))
	s.RegisterRouteHandler("GET "+RouteSessions, ChainMiddleware(s.ListSessionsHandler(), faculty...))
	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.GetSessionHandler(), faculty...))
	s.RegisterRouteHandler("POST "+RouteSessionClose, ChainMiddleware(s.CloseSessionHandler(), faculty...))
	s.RegisterRouteHandler("GET "+RouteSessionQR, ChainMiddleware(s.SessionQRHandler(), s.StreamMiddleware(s.RequireAuth, s.RequireRole(identity.RoleFaculty))...))
	s.RegisterRouteHandler("GET "+RouteSessionRoster, ChainMiddleware(s.SessionRosterHandler(), faculty...))
	s.RegisterRouteHandler("GET "+RouteCourseRoster, ChainMiddleware(s.CourseRosterHandler(), faculty...))
	if s.deps.Feed != nil {
		s.RegisterRouteHandler("GET "+RouteSessionLive, ChainMiddleware(s.LiveRosterHandler(), s.StreamMiddleware(s.RequireAuth, s.RequireRole(identity.RoleFaculty))...))
	}

	// Student
	s.RegisterRouteHandler("POST "+RouteMark, ChainMiddleware(s.MarkAttendanceHandler(), student...))
	s.RegisterRouteHandler("GET "+RouteHistory, ChainMiddleware(s.HistoryHandler(), student...))

	// Preflight for every API path
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {}, s.CorsMiddleware))

	// Operations
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	if s.deps.Metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.deps.Metrics, promhttp.HandlerOpts{}))
	}
}
