// Package jwks contiene el controller del endpoint de publicación de
// claves de verificación. Es público y sin autenticación: los consumers
// (gateways, sidecars) lo necesitan para bootstrapear confianza.
package jwks

import (
	"net/http"

	"github.com/dropDatabas3/keywarden/internal/keys"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

type Controller struct {
	svc *keys.Service
}

func NewController(svc *keys.Service) *Controller {
	return &Controller{svc: svc}
}

// Get maneja GET/HEAD /.well-known/jwks.json
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("JWKS.Get"))

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	data, err := c.svc.JWKSJSON(ctx)
	if err != nil {
		log.Error("failed to build JWKS", logger.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
