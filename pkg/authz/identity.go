package authz

import (
	"context"
	"net/http"
	"strings"
)

// Header names read by HeaderActorExtractor.
const (
	HeaderUserID     = "X-User-ID"
	HeaderUserRole   = "X-User-Role"
	HeaderUserEmail  = "X-User-Email"
	HeaderCompany    = "X-User-Company"
	HeaderDepartment = "X-User-Department"
)

// actorCtxKey is an unexported type used as the context key for Actor.
type actorCtxKey struct{}

// Actor is the principal performing an operation.
type Actor struct {
	ID         string
	Role       Role
	Email      string
	Company    string
	Department string
	IPAddress  string
	UserAgent  string
}

// SystemActor is used for scheduled routines and automatic transitions.
func SystemActor() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

// Anonymous reports whether no principal was resolved.
func (a Actor) Anonymous() bool { return a.ID == "" }

// WithActor returns a new context with the given Actor attached.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, a)
}

// ActorFromContext retrieves the Actor from the context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorCtxKey{}).(Actor)
	return a, ok
}

// ActorExtractor resolves the Actor of a request.
type ActorExtractor func(r *http.Request) Actor

// HeaderActorExtractor reads the actor from X-User-* headers, as set by a
// trusted authenticating proxy.
func HeaderActorExtractor(r *http.Request) Actor {
	return Actor{
		ID:         strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role:       ParseRole(r.Header.Get(HeaderUserRole)),
		Email:      strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
		Company:    strings.TrimSpace(r.Header.Get(HeaderCompany)),
		Department: strings.TrimSpace(r.Header.Get(HeaderDepartment)),
	}
}

// clientIP prefers the first X-Forwarded-For hop over RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
