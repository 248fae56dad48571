package config

import "time"

type Attendance struct{}

var _ AttendanceConfig = Attendance{}

// GetSessionWindow is how long a freshly created session accepts marks
func (Attendance) GetSessionWindow() time.Duration {
	return GetEnvDuration("ATTENDANCE_WINDOW", 10*time.Minute)
}

func (Attendance) GetDefaultRadiusMeters() float64 {
	return GetEnvFloat("DEFAULT_RADIUS_M", 100)
}

// GetSessionRetention is how long a session is kept after expiry for audit and listings
func (Attendance) GetSessionRetention() time.Duration {
	return GetEnvDuration("SESSION_RETENTION", 30*24*time.Hour)
}

func (Attendance) GetPurgeInterval() time.Duration {
	return GetEnvDuration("PURGE_INTERVAL", time.Hour)
}
