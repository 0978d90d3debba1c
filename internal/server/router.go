// Package server exposes the notes API over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type Config struct {
	AdminToken     string
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

// NewRouter wires middleware and routes. ready may be nil.
func NewRouter(cfg Config, notesH *NotesHandler, adminH *AdminHandler, ready ReadinessCheck, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestContext)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", healthz)
	r.Get("/readyz", readyz(ready, logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/notes", func(r chi.Router) {
			r.Use(identity(logger))
			r.Post("/", notesH.Upload)
			r.Get("/", notesH.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", notesH.Get)
				r.Patch("/", notesH.Update)
				r.Delete("/", notesH.Delete)
				r.Get("/status", notesH.Status)
				r.Get("/markdown", notesH.Markdown)
				r.Get("/download", notesH.Download)
			})
		})

		r.Route("/admin/notes", func(r chi.Router) {
			r.Use(requireAdmin(cfg.AdminToken, logger))
			r.Get("/", adminH.List)
			r.Get("/stats", adminH.Stats)
			r.Get("/export.xlsx", adminH.Export)
			r.Post("/{id}/reprocess", adminH.Reprocess)
			r.Get("/{id}/conversions", adminH.Conversions)
		})
	})

	return r
}
