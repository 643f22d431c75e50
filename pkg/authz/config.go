package authz

import (
	"os"
	"strings"
)

// AuthMode selects how the request actor is resolved.
type AuthMode string

const (
	// AuthModeHeader trusts X-User-* headers from an authenticating proxy.
	AuthModeHeader AuthMode = "header"
	// AuthModeJWT reads claims from an Authorization bearer token.
	AuthModeJWT AuthMode = "jwt"
)

// AuthConfig configures actor resolution.
type AuthConfig struct {
	Mode          AuthMode
	JWT           JWTConfig
	OverrideRoles []Role
}

// DefaultAuthConfig returns header mode with admin as the override role.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Mode:          AuthModeHeader,
		OverrideRoles: []Role{RoleAdmin},
	}
}

// AuthConfigFromEnv loads config from environment variables.
// DOCFLOW_AUTH_MODE, DOCFLOW_JWT_PUBLIC_KEY_PATH, DOCFLOW_JWT_ISSUER,
// DOCFLOW_JWT_AUDIENCE, DOCFLOW_OVERRIDE_ROLES (comma-separated)
func AuthConfigFromEnv() *AuthConfig {
	cfg := DefaultAuthConfig()

	if v := os.Getenv("DOCFLOW_AUTH_MODE"); v != "" {
		cfg.Mode = AuthMode(strings.ToLower(v))
	}
	cfg.JWT.PublicKeyPath = os.Getenv("DOCFLOW_JWT_PUBLIC_KEY_PATH")
	cfg.JWT.Issuer = os.Getenv("DOCFLOW_JWT_ISSUER")
	cfg.JWT.Audience = os.Getenv("DOCFLOW_JWT_AUDIENCE")

	if v := os.Getenv("DOCFLOW_OVERRIDE_ROLES"); v != "" {
		cfg.OverrideRoles = nil
		for _, r := range strings.Split(v, ",") {
			if role := ParseRole(r); role != "" {
				cfg.OverrideRoles = append(cfg.OverrideRoles, role)
			}
		}
	}

	return cfg
}
