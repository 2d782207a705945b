// Package auth contiene los controllers de registro y login passkey.
package auth

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	"github.com/dropDatabas3/keywarden/internal/http/helpers"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
	"github.com/dropDatabas3/keywarden/internal/passkeys"
	"github.com/dropDatabas3/keywarden/internal/tokens"
)

type PasskeysController struct {
	svc    *passkeys.Service
	issuer *tokens.Issuer
}

func NewPasskeysController(svc *passkeys.Service, issuer *tokens.Issuer) *PasskeysController {
	return &PasskeysController{svc: svc, issuer: issuer}
}

type beginRegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// BeginRegister maneja POST /v1/auth/register/begin
func (c *PasskeysController) BeginRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req beginRegisterRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		helpers.WriteError(w, http.StatusBadRequest, "invalid_input", "username requerido")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	options, sessionID, err := c.svc.BeginRegistration(ctx, req.Username, req.DisplayName)
	if err != nil {
		logger.From(ctx).Error("begin registration failed", logger.Err(err))
		helpers.WriteDomainError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"options":    options,
	})
}

// FinishRegister maneja POST /v1/auth/register/finish?session_id=
// El body es la attestation response cruda que consume la librería FIDO2.
func (c *PasskeysController) FinishRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		helpers.WriteError(w, http.StatusBadRequest, "invalid_input", "session_id requerido")
		return
	}

	reg, err := c.svc.FinishRegistration(ctx, sessionID, r)
	if err != nil {
		c.writeCeremonyError(w, r, "finish registration failed", err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, map[string]any{
		"username": reg.Identity.Username,
	})
}

type beginLoginRequest struct {
	Username string `json:"username"`
}

// BeginLogin maneja POST /v1/auth/login/begin
func (c *PasskeysController) BeginLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req beginLoginRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		helpers.WriteError(w, http.StatusBadRequest, "invalid_input", "username requerido")
		return
	}

	options, sessionID, err := c.svc.BeginLogin(ctx, req.Username)
	if err != nil {
		// no filtrar si el usuario existe: mismo error genérico
		if errors.Is(err, repository.ErrNotFound) {
			helpers.WriteError(w, http.StatusUnauthorized, "authentication_failed", "")
			return
		}
		logger.From(ctx).Error("begin login failed", logger.Err(err))
		helpers.WriteDomainError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"options":    options,
	})
}

// FinishLogin maneja POST /v1/auth/login/finish?session_id=
// Si la assertion valida, emite un access token firmado por la ACTIVE.
func (c *PasskeysController) FinishLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		helpers.WriteError(w, http.StatusBadRequest, "invalid_input", "session_id requerido")
		return
	}

	ident, err := c.svc.FinishLogin(ctx, sessionID, r)
	if err != nil {
		c.writeCeremonyError(w, r, "finish login failed", err)
		return
	}

	token, exp, err := c.issuer.IssueAccess(ctx, ident.UserHandle, map[string]any{
		"preferred_username": ident.Username,
	})
	if err != nil {
		logger.From(ctx).Error("token issuance failed", logger.Err(err))
		helpers.WriteDomainError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   exp.Unix(),
	})
}

func (c *PasskeysController) writeCeremonyError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	log := logger.From(r.Context())
	switch {
	case errors.Is(err, passkeys.ErrCeremonyExpired):
		helpers.WriteError(w, http.StatusBadRequest, "ceremony_expired", "")
	case errors.Is(err, passkeys.ErrDuplicateCredential):
		helpers.WriteError(w, http.StatusConflict, "duplicate_credential", "")
	case errors.Is(err, repository.ErrUnavailable):
		log.Error(msg, logger.Err(err))
		helpers.WriteError(w, http.StatusServiceUnavailable, "storage_unavailable", "")
	default:
		log.Warn(msg, logger.Err(err))
		helpers.WriteError(w, http.StatusUnauthorized, "verification_failed", "")
	}
}
