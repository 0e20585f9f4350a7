package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
		r.Post("/photos", h.CapturePhoto)
		r.Get("/applications/{applicationID}/photos/{photoID}/archive-url", h.ArchiveURL)
		r.Post("/queue/retry", h.RetryQueue)
		r.Post("/queue/clear", h.ClearQueue)
		r.Post("/push", h.Push)
	})

	return r
}
