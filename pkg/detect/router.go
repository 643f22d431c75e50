package detect

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the alert API.
func Router(h *Handlers) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes adds the routes to r.
func RegisterRoutes(r chi.Router, h *Handlers) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.requireAdmin(h.ListAlerts))
		r.Post("/run", h.requireAdmin(h.RunDetector))
		r.Route("/{alertId}", func(r chi.Router) {
			r.Get("/", h.requireAdmin(h.GetAlert))
			r.Post("/review", h.requireAdmin(h.ReviewAlert))
			r.Post("/resolve", h.requireAdmin(h.ResolveAlert))
		})
	})
}
