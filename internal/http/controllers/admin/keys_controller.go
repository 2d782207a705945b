// Package admin contiene los controllers de operación: inventario de
// claves, rotación manual y audit log.
package admin

import (
	"net/http"
	"strconv"

	"github.com/dropDatabas3/keywarden/internal/http/helpers"
	"github.com/dropDatabas3/keywarden/internal/keys"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

type KeysController struct {
	svc *keys.Service
}

func NewKeysController(svc *keys.Service) *KeysController {
	return &KeysController{svc: svc}
}

// List maneja GET /v1/admin/keys — todas las claves, sin material privado.
func (c *KeysController) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := c.svc.ListAll(ctx)
	if err != nil {
		logger.From(ctx).Error("list keys failed", logger.Err(err))
		helpers.WriteDomainError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"keys": all})
}

// Rotate maneja POST /v1/admin/keys/rotate — rotación manual forzada.
func (c *KeysController) Rotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AdminKeys.Rotate"))

	if err := c.svc.ManualRotate(ctx); err != nil {
		log.Error("manual rotation failed", logger.Err(err))
		helpers.WriteDomainError(w, err)
		return
	}
	log.Info("manual rotation triggered")
	helpers.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "rotation_scheduled"})
}

// Audit maneja GET /v1/admin/keys/audit?key_id=&limit=
func (c *KeysController) Audit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID := r.URL.Query().Get("key_id")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			helpers.WriteError(w, http.StatusBadRequest, "invalid_limit", "")
			return
		}
		limit = n
	}

	entries, err := c.svc.Audit(ctx, keyID, limit)
	if err != nil {
		logger.From(ctx).Error("audit list failed", logger.Err(err))
		helpers.WriteDomainError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
