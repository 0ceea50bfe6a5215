// Package api exposes the HTTP surface: schema administration, spreadsheet
// ingestion, template management, document generation, bulk sending, job
// queries, and the provider webhook ingress.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/docsend/internal/config"
	"github.com/ignite/docsend/internal/dispatch"
	"github.com/ignite/docsend/internal/docgen"
	"github.com/ignite/docsend/internal/ingest"
	"github.com/ignite/docsend/internal/schema"
	"github.com/ignite/docsend/internal/storage"
	"github.com/ignite/docsend/internal/template"
	"github.com/ignite/docsend/internal/tracking"
)

// Server represents the API server
type Server struct {
	config   config.Config
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
}

// Deps are the wired services the handlers use.
type Deps struct {
	DB       *sql.DB
	Redis    *redis.Client
	Registry *schema.Registry
	Pipeline *ingest.Pipeline
	Rows     *ingest.RowStore
	Mapper   *ingest.Mapper
	Tpls     *template.Store
	Renderer *template.Renderer
	Docs     *docgen.Store
	Blobs    storage.BlobStore
	Jobs     *dispatch.JobStore
	Builder  *dispatch.Builder
	Tracker  *tracking.Tracker
}

// NewServer creates a new API server
func NewServer(cfg config.Config, deps Deps) *Server {
	handlers := NewHandlers(cfg, deps)
	return &Server{
		config:   cfg,
		handler:  SetupRoutes(handlers),
		handlers: handlers,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Uploads can be large; endpoint-level limits bound the body size.
		ReadTimeout:       2 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
