package access

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for access requests, policies and cooldowns.
func Router(h *Handlers) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes adds the routes to r.
func RegisterRoutes(r chi.Router, h *Handlers) {
	r.Route("/access-requests", func(r chi.Router) {
		r.Get("/", h.ListRequests)
		r.Post("/", h.Submit)
		r.Get("/stats", h.requireAdmin(h.Stats))
		r.Get("/{requestId}", h.GetRequest)
		r.Post("/{requestId}/decision", h.Decide)
	})

	r.Route("/policies", func(r chi.Router) {
		r.Get("/", h.requireAdmin(h.ListPolicies))
		r.Post("/", h.requireAdmin(h.CreatePolicy))
		r.Post("/simulate", h.requireAdmin(h.Simulate))
		r.Route("/{policyId}", func(r chi.Router) {
			r.Get("/", h.requireAdmin(h.GetPolicy))
			r.Put("/", h.requireAdmin(h.UpdatePolicy))
			r.Delete("/", h.requireAdmin(h.DeletePolicy))
			r.Post("/activate", h.requireAdmin(h.ActivatePolicy))
			r.Post("/deactivate", h.requireAdmin(h.DeactivatePolicy))
		})
	})

	r.Route("/cooldowns/{userId}", func(r chi.Router) {
		r.Get("/", h.requireAdmin(h.GetCooldown))
		r.Delete("/", h.requireAdmin(h.LiftCooldown))
	})
}
