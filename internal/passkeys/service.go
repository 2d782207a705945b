// Package passkeys orquesta los ceremonies de registro y login WebAuthn.
// La verificación del protocolo es de la librería; acá vive el manejo de
// estado entre begin y finish (cache con TTL, nunca un mapa global) y la
// persistencia cifrada de las credenciales resultantes.
package passkeys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/dropDatabas3/keywarden/internal/cache"
	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	"github.com/dropDatabas3/keywarden/internal/metrics"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
	"github.com/dropDatabas3/keywarden/internal/store"
)

var (
	// ErrCeremonyExpired indica que el estado begin↔finish ya no está.
	ErrCeremonyExpired = errors.New("ceremony expired or unknown session")

	// ErrDuplicateCredential indica un credential ID ya registrado.
	ErrDuplicateCredential = errors.New("credential already registered")
)

// Config del relying party.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	CeremonyTTL   time.Duration
}

type Service struct {
	wa      *webauthn.WebAuthn
	records *store.Records
	cache   cache.Cache
	ttl     time.Duration
}

func NewService(cfg Config, records *store.Records, c cache.Cache) (*Service, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	return &Service{wa: wa, records: records, cache: c, ttl: cfg.CeremonyTTL}, nil
}

// ceremonyState viaja serializado en el cache, keyed por un session id
// opaco que el cliente devuelve en el finish.
type ceremonyState struct {
	Identity repository.Identity  `json:"identity"`
	Session  webauthn.SessionData `json:"session"`
}

// BeginRegistration arranca el ceremony de registro. Si el username ya
// existe, se reutiliza su user handle (re-registro = upsert); si no, se
// acuña un handle opaco nuevo.
func (s *Service) BeginRegistration(ctx context.Context, username, displayName string) (*protocol.CredentialCreation, string, error) {
	ident := repository.Identity{Username: username, DisplayName: displayName}
	var existing []repository.CredentialRegistration

	prev, err := s.records.GetIdentityByUsername(ctx, username)
	switch {
	case err == nil:
		ident.UserHandle = prev.UserHandle
		if existing, err = s.records.GetRegistrationsByHandle(ctx, prev.UserHandle); err != nil {
			return nil, "", err
		}
	case errors.Is(err, repository.ErrNotFound):
		ident.UserHandle = uuid.NewString()
	default:
		return nil, "", err
	}

	u := &user{identity: ident, credentials: existing}
	options, session, err := s.wa.BeginRegistration(u)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}

	sessionID, err := s.saveCeremony(ident, session)
	if err != nil {
		return nil, "", err
	}
	return options, sessionID, nil
}

// FinishRegistration cierra el ceremony y persiste la credencial cifrada.
func (s *Service) FinishRegistration(ctx context.Context, sessionID string, r *http.Request) (*repository.CredentialRegistration, error) {
	state, err := s.loadCeremony(sessionID)
	if err != nil {
		return nil, err
	}

	existing, err := s.records.GetRegistrationsByHandle(ctx, state.Identity.UserHandle)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	u := &user{identity: state.Identity, credentials: existing}

	cred, err := s.wa.FinishRegistration(u, state.Session, r)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("finish registration: %w", err)
	}

	// Detección de duplicados: scan global por credential id.
	if dup, err := s.records.LookupAll(ctx, cred.ID); err == nil && dup.Identity.UserHandle != state.Identity.UserHandle {
		metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
		return nil, ErrDuplicateCredential
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	reg := &repository.CredentialRegistration{
		Identity:         state.Identity,
		CredentialID:     cred.ID,
		PublicKey:        cred.PublicKey,
		AttestationType:  cred.AttestationType,
		Transports:       transports,
		SignatureCounter: cred.Authenticator.SignCount,
		RegisteredAt:     time.Now().UTC(),
	}
	if err := s.records.AddRegistration(ctx, reg); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()

	logger.From(ctx).Info("credential registered",
		logger.Component("passkeys"),
		logger.HandleHash(store.Hash(state.Identity.UserHandle)))
	return reg, nil
}

// BeginLogin arranca el ceremony de autenticación para un username.
func (s *Service) BeginLogin(ctx context.Context, username string) (*protocol.CredentialAssertion, string, error) {
	ident, err := s.records.GetIdentityByUsername(ctx, username)
	if err != nil {
		return nil, "", err
	}
	regs, err := s.records.GetRegistrationsByHandle(ctx, ident.UserHandle)
	if err != nil {
		return nil, "", err
	}

	u := &user{identity: *ident, credentials: regs}
	options, session, err := s.wa.BeginLogin(u)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}

	sessionID, err := s.saveCeremony(*ident, session)
	if err != nil {
		return nil, "", err
	}
	return options, sessionID, nil
}

// FinishLogin valida la assertion y devuelve la identidad autenticada.
// Los contadores de firma no se escriben de vuelta: los registros son
// inmutables después de creados.
func (s *Service) FinishLogin(ctx context.Context, sessionID string, r *http.Request) (*repository.Identity, error) {
	state, err := s.loadCeremony(sessionID)
	if err != nil {
		return nil, err
	}
	regs, err := s.records.GetRegistrationsByHandle(ctx, state.Identity.UserHandle)
	if err != nil {
		return nil, err
	}

	u := &user{identity: state.Identity, credentials: regs}
	if _, err := s.wa.FinishLogin(u, state.Session, r); err != nil {
		return nil, fmt.Errorf("finish login: %w", err)
	}
	ident := state.Identity
	return &ident, nil
}

// ─── Estado de ceremonia ───

func (s *Service) saveCeremony(ident repository.Identity, session *webauthn.SessionData) (string, error) {
	b, err := json.Marshal(ceremonyState{Identity: ident, Session: *session})
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.cache.Set(id, b, s.ttl)
	return id, nil
}

func (s *Service) loadCeremony(sessionID string) (*ceremonyState, error) {
	b, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, ErrCeremonyExpired
	}
	// un solo uso: el estado se consume al cerrar el ceremony
	s.cache.Delete(sessionID)

	var state ceremonyState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("ceremony state: %w", err)
	}
	return &state, nil
}
