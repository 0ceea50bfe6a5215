package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/docsend/internal/tracking"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Provider webhook ingress. No auth, always acknowledges.
	r.Post("/webhooks/delivery", h.ReceiveDeliveryEvents)

	// First-party open/click/unsubscribe tracking.
	r.Mount("/t", tracking.NewPixelHandler(h.deps.Tracker).Routes())

	r.Route("/api", func(r chi.Router) {
		// Schema registry
		r.Route("/document-types", func(r chi.Router) {
			r.Get("/", h.ListDocumentTypes)
			r.Post("/", h.CreateDocumentType)
			r.Route("/{typeID}", func(r chi.Router) {
				r.Get("/", h.GetDocumentType)
				r.Delete("/", h.DeleteDocumentType)

				r.Get("/fields", h.ListFields)
				r.Post("/fields", h.AddField)
				r.Put("/fields/reorder", h.ReorderFields)
				r.Put("/fields/{fieldID}", h.UpdateField)
				r.Delete("/fields/{fieldID}", h.DeleteField)

				// Ingestion
				r.Post("/upload", h.UploadSpreadsheet)
				r.Post("/mapping/preview", h.PreviewMapping)
				r.Get("/rows", h.ListRows)

				// Templates
				r.Get("/templates", h.ListTemplates)
				r.Post("/templates", h.CreateTemplate)

				// Generation and dispatch
				r.Post("/generate", h.GenerateDocuments)
				r.Post("/send", h.BulkSend)
			})
		})

		r.Get("/uploads/{uploadID}/progress", h.UploadProgress)
		r.Get("/rows/{rowID}", h.GetRow)

		r.Route("/templates/{templateID}", func(r chi.Router) {
			r.Get("/", h.GetTemplate)
			r.Put("/", h.UpdateTemplate)
			r.Delete("/", h.DeleteTemplate)
			r.Post("/validate", h.ValidateTemplate)
			r.Post("/preview", h.PreviewTemplate)
		})

		r.Get("/documents/{documentID}", h.GetDocument)
		r.Get("/documents/{documentID}/content", h.DownloadDocument)

		r.Get("/signatures", h.ListSignatures)
		r.Post("/signatures", h.CreateSignature)

		// Job query surface and lifecycle operations
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/tracking/{trackingID}", h.JobByTrackingID)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.GetJob)
				r.Post("/cancel", h.CancelJob)
				r.Post("/retry", h.RetryJob)
				r.Post("/resend", h.ResendJob)
			})
		})
		r.Get("/batches/{batchID}/stats", h.BatchStats)
		r.Get("/batches/{batchID}/jobs", h.BatchJobs)
	})

	return r
}
