// Package http arma el router y los middlewares del servicio.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	adminctrl "github.com/dropDatabas3/keywarden/internal/http/controllers/admin"
	authctrl "github.com/dropDatabas3/keywarden/internal/http/controllers/auth"
	healthctrl "github.com/dropDatabas3/keywarden/internal/http/controllers/health"
	jwksctrl "github.com/dropDatabas3/keywarden/internal/http/controllers/jwks"
)

// RouterDeps agrupa las dependencias del router.
type RouterDeps struct {
	JWKS     *jwksctrl.Controller
	Health   *healthctrl.Controller
	Passkeys *authctrl.PasskeysController
	Admin    *adminctrl.KeysController

	// AdminAPIKey vacío deshabilita las rutas admin.
	AdminAPIKey string
}

// NewRouter arma el router chi con middlewares comunes.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(Recover)
	r.Use(RequestID)
	r.Use(Logging)

	r.Method(http.MethodGet, "/healthz", http.HandlerFunc(deps.Health.Healthz))
	r.Method(http.MethodGet, "/readyz", http.HandlerFunc(deps.Health.Readyz))
	r.Handle("/metrics", MetricsHandler())

	// Publicación del verification key set: pública, sin auth.
	r.Handle("/.well-known/jwks.json",
		Instrument("/.well-known/jwks.json", http.HandlerFunc(deps.JWKS.Get)))

	r.Route("/v1/auth", func(r chi.Router) {
		r.Method(http.MethodPost, "/register/begin",
			Instrument("/v1/auth/register/begin", http.HandlerFunc(deps.Passkeys.BeginRegister)))
		r.Method(http.MethodPost, "/register/finish",
			Instrument("/v1/auth/register/finish", http.HandlerFunc(deps.Passkeys.FinishRegister)))
		r.Method(http.MethodPost, "/login/begin",
			Instrument("/v1/auth/login/begin", http.HandlerFunc(deps.Passkeys.BeginLogin)))
		r.Method(http.MethodPost, "/login/finish",
			Instrument("/v1/auth/login/finish", http.HandlerFunc(deps.Passkeys.FinishLogin)))
	})

	if deps.AdminAPIKey != "" {
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(RequireAdminKey(deps.AdminAPIKey))
			r.Method(http.MethodGet, "/keys",
				Instrument("/v1/admin/keys", http.HandlerFunc(deps.Admin.List)))
			r.Method(http.MethodPost, "/keys/rotate",
				Instrument("/v1/admin/keys/rotate", http.HandlerFunc(deps.Admin.Rotate)))
			r.Method(http.MethodGet, "/keys/audit",
				Instrument("/v1/admin/keys/audit", http.HandlerFunc(deps.Admin.Audit)))
		})
	}

	return r
}
