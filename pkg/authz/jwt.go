package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the bearer-token actor extractor.
type JWTConfig struct {
	// RoleClaim is the claim path holding the role. Dot-notation reaches
	// nested claims ("realm_access.roles"); for array claims the first
	// entry that is a known role wins. Default: "role".
	RoleClaim string

	// PublicKeyPath is a PEM-encoded RSA public key for RS256 verification.
	// If empty, tokens are parsed without verification (trusted proxy mode).
	PublicKeyPath string

	Issuer   string
	Audience string

	Logger *slog.Logger
}

// NewJWTActorExtractor returns an ActorExtractor reading the actor from an
// "Authorization: Bearer <token>" header. Requests with a missing or invalid
// token resolve to the anonymous actor.
func NewJWTActorExtractor(cfg JWTConfig) (ActorExtractor, error) {
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key from %s: %w", cfg.PublicKeyPath, err)
		}
		key, err := parseRSAPublicKey(keyData)
		if err != nil {
			return nil, err
		}
		publicKey = key
		cfg.Logger.Info("JWT actor extractor: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT actor extractor: no public key configured, tokens parsed without verification")
	}

	return func(r *http.Request) Actor {
		token := bearerToken(r)
		if token == "" {
			return Actor{}
		}
		claims, err := parseClaims(token, publicKey, cfg)
		if err != nil {
			cfg.Logger.Debug("JWT parse failed, treating request as anonymous", "error", err)
			return Actor{}
		}
		return actorFromClaims(claims, cfg.RoleClaim)
	}, nil
}

func parseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsed)
	}
	return key, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTConfig) (jwt.MapClaims, error) {
	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var (
		token *jwt.Token
		err   error
	)
	if publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return publicKey, nil
		}, opts...)
	} else {
		token, _, err = jwt.NewParser(opts...).ParseUnverified(tokenString, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

func actorFromClaims(claims jwt.MapClaims, roleClaim string) Actor {
	a := Actor{
		ID:         stringClaim(claims, "sub"),
		Email:      stringClaim(claims, "email"),
		Company:    stringClaim(claims, "company"),
		Department: stringClaim(claims, "department"),
	}

	var current any = map[string]any(claims)
	for _, part := range strings.Split(roleClaim, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return a
		}
		if current, ok = m[part]; !ok {
			return a
		}
	}

	switch v := current.(type) {
	case string:
		a.Role = ParseRole(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				a.Role = ParseRole(s)
				break
			}
		}
	}
	return a
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}
