package config

type SecurityConfig interface {
	GetJWTSecret() string
	GetJWTIssuer() string
	GetOIDCIssuer() string
	GetOIDCClientID() string
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetJWTSecret is the HS256 secret shared with the auth service that issues portal tokens
func (Security) GetJWTSecret() string {
	return GetEnv("JWT_SECRET", "")
}

func (Security) GetJWTIssuer() string {
	return GetEnv("JWT_ISSUER", "")
}

// GetOIDCIssuer enables ID token verification against an external provider when set
func (Security) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (Security) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}
