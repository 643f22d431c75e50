package jobs

import (
	"net/http"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-chi/chi/v5"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/httputil"
)

// Router creates a chi.Router for the job API.
func Router(store *RunStore, scheduler *Scheduler, overrides mapset.Set[authz.Role]) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, store, scheduler, overrides)
	return r
}

// RegisterRoutes adds the job routes to r. Every endpoint requires one of
// the override roles.
func RegisterRoutes(r chi.Router, store *RunStore, scheduler *Scheduler, overrides mapset.Set[authz.Role]) {
	if overrides == nil {
		overrides = authz.DefaultOverrideRoles()
	}
	r.Group(func(r chi.Router) {
		r.Use(requireOverride(overrides))
		r.Get("/jobs/runs", ListRunsHandler(store))
		r.Get("/jobs/runs/{runId}", GetRunHandler(store))
		if scheduler != nil {
			r.Get("/jobs/routines", ListRoutinesHandler(scheduler))
			r.Post("/jobs/routines/{routine}/run", TriggerHandler(scheduler))
		}
	})
}

func requireOverride(overrides mapset.Set[authz.Role]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, _ := authz.ActorFromContext(r.Context())
			if !authz.IsOverride(a.Role, overrides) {
				httputil.WriteError(w, r, apperr.Unauthorized("administrator role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
