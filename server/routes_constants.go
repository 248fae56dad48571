package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Faculty session management
	RouteSessions      = "/api/attendance/sessions"
	RouteSession       = "/api/attendance/sessions/{id}"
	RouteSessionClose  = "/api/attendance/sessions/{id}/close"
	RouteSessionQR     = "/api/attendance/sessions/{id}/qr.png"
	RouteSessionRoster = "/api/attendance/sessions/{id}/roster"
	RouteSessionLive   = "/api/attendance/sessions/{id}/live"
	RouteCourseRoster  = "/api/attendance/courses/{courseCode}/roster"

	// Student check-in
	RouteMark    = "/api/attendance/mark"
	RouteHistory = "/api/attendance/student"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
