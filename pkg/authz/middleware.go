package authz

import (
	"encoding/json"
	"net/http"
)

// ActorMiddleware resolves the request actor with extractor and stores it in
// the request context. Client IP and user agent are always filled from the
// request itself.
func ActorMiddleware(extractor ActorExtractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = HeaderActorExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := extractor(r)
			a.IPAddress = clientIP(r)
			a.UserAgent = r.UserAgent()
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), a)))
		})
	}
}

// RequireActor rejects requests without a resolved principal.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := ActorFromContext(r.Context())
		if !ok || a.Anonymous() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
