package workflow

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the document, version and approval API.
func Router(h *Handlers) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes adds the routes to r.
func RegisterRoutes(r chi.Router, h *Handlers) {
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.ListDocuments)
		r.Post("/", h.CreateDocument)
		r.Route("/{documentId}", func(r chi.Router) {
			r.Get("/", h.GetDocument)
			r.Get("/versions", h.ListVersions)
			r.Post("/versions", h.UploadVersion)
			r.Get("/steps", h.ListSteps)
			r.Post("/workflow", h.StartWorkflow)
		})
	})

	r.Route("/versions/{versionId}", func(r chi.Router) {
		r.Get("/", h.GetVersion)
		r.Delete("/", h.DeleteVersion)
		r.Get("/content", h.DownloadVersion)
		r.Get("/compare", h.CompareVersions)
		r.Post("/restore", h.RestoreVersion)
	})

	r.Route("/approval-steps/{stepId}", func(r chi.Router) {
		r.Post("/approve", stepAction(h.Steps.ApproveStep))
		r.Post("/reject", stepAction(h.Steps.RejectStep))
		r.Post("/comment", stepAction(h.Steps.CommentStep))
	})
}
