package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	AttendanceConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetDBDriver() string
	GetDBDSN() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type AttendanceConfig interface {
	GetSessionWindow() time.Duration
	GetDefaultRadiusMeters() float64
	GetSessionRetention() time.Duration
	GetPurgeInterval() time.Duration
}

type mainConfig struct {
	EnvVars
	Cors
	Attendance
	Security
}

func New() Config {
	return mainConfig{}
}
