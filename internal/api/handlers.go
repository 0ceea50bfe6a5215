package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/config"
	"github.com/ignite/docsend/internal/pkg/httputil"
)

// Handlers holds the wired services behind the HTTP surface.
type Handlers struct {
	cfg  config.Config
	deps Deps
}

// NewHandlers creates the handler set.
func NewHandlers(cfg config.Config, deps Deps) *Handlers {
	return &Handlers{cfg: cfg, deps: deps}
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.deps.DB.PingContext(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
	}
	httputil.OK(w, status)
}

// urlUUID parses a UUID path parameter, writing a 400 on failure.
func urlUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
