// Package health contiene los health checks.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	"github.com/dropDatabas3/keywarden/internal/keys"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

// Pinger es lo mínimo que el readiness check necesita del storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Controller struct {
	db   Pinger
	keys *keys.Service
}

func NewController(db Pinger, svc *keys.Service) *Controller {
	return &Controller{db: db, keys: svc}
}

// Healthz maneja GET /healthz (liveness, sin dependencias).
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readyResponse struct {
	Status      string            `json:"status"`
	Components  map[string]string `json:"components"`
	ActiveKeyID string            `json:"active_kid,omitempty"`
}

// Readyz maneja GET /readyz: ping a la base + chequeo de clave activa.
// Sin clave ACTIVE el servicio está "degraded" (puede verificar pero no
// emitir); con la base caída está "unavailable".
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Health.Readyz"))

	resp := readyResponse{Status: "ready", Components: map[string]string{}}

	if err := c.db.Ping(ctx); err != nil {
		log.Warn("storage unreachable", logger.Err(err))
		resp.Status = "unavailable"
		resp.Components["storage"] = "down"
	} else {
		resp.Components["storage"] = "up"
	}

	if resp.Status != "unavailable" {
		kid, _, err := c.keys.ActiveSigner(ctx)
		switch {
		case err == nil:
			resp.Components["signing_key"] = "active"
			resp.ActiveKeyID = kid
		case errors.Is(err, repository.ErrNotFound):
			resp.Status = "degraded"
			resp.Components["signing_key"] = "missing"
		default:
			log.Warn("active key check failed", logger.Err(err))
			resp.Status = "degraded"
			resp.Components["signing_key"] = "error"
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if resp.Status == "unavailable" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
