package passkeys

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	cachemem "github.com/dropDatabas3/keywarden/internal/cache/memory"
	"github.com/dropDatabas3/keywarden/internal/crypto"
	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	"github.com/dropDatabas3/keywarden/internal/security/keeper"
	"github.com/dropDatabas3/keywarden/internal/store"
	"github.com/dropDatabas3/keywarden/internal/store/memory"
)

func newService(t *testing.T) (*Service, *store.Records) {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i * 5)
	}
	kp, err := keeper.New(base64.StdEncoding.EncodeToString(raw), "registrations")
	require.NoError(t, err)

	records := store.NewRecords(memory.New(), crypto.NewEngine(), kp)
	svc, err := NewService(Config{
		RPID:          "localhost",
		RPDisplayName: "KeyWarden Test",
		RPOrigins:     []string{"http://localhost"},
		CeremonyTTL:   time.Minute,
	}, records, cachemem.New(time.Minute))
	require.NoError(t, err)
	return svc, records
}

func seedRegistration(t *testing.T, records *store.Records, username, handle string, credID byte) {
	t.Helper()
	err := records.AddRegistration(context.Background(), &repository.CredentialRegistration{
		Identity: repository.Identity{
			Username:    username,
			DisplayName: username,
			UserHandle:  handle,
		},
		CredentialID:     []byte{credID, 0x02, 0x03, 0x04},
		PublicKey:        []byte{0xA0, 0xA1, 0xA2},
		AttestationType:  "none",
		Transports:       []string{"internal"},
		SignatureCounter: 0,
		RegisteredAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestBeginRegistration_NewUser(t *testing.T) {
	svc, _ := newService(t)

	options, sessionID, err := svc.BeginRegistration(context.Background(), "alice", "Alice A.")
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)
	require.NotNil(t, options)
	require.Equal(t, "localhost", options.Response.RelyingParty.ID)
	require.NotEmpty(t, options.Response.Challenge)
	require.Equal(t, "Alice A.", options.Response.User.DisplayName)
}

// Un re-registro del mismo username reutiliza el user handle existente:
// el registro resultante es un upsert, no una identidad nueva.
func TestBeginRegistration_ReusesHandle(t *testing.T) {
	svc, records := newService(t)
	ctx := context.Background()
	seedRegistration(t, records, "alice", "handle-alice", 0x01)

	_, sessionID, err := svc.BeginRegistration(ctx, "alice", "Alice otra vez")
	require.NoError(t, err)

	state, err := svc.loadCeremony(sessionID)
	require.NoError(t, err)
	require.Equal(t, "handle-alice", state.Identity.UserHandle)
	require.Equal(t, "Alice otra vez", state.Identity.DisplayName)
}

func TestBeginLogin(t *testing.T) {
	svc, records := newService(t)
	ctx := context.Background()
	seedRegistration(t, records, "alice", "handle-alice", 0x01)

	options, sessionID, err := svc.BeginLogin(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)
	require.NotEmpty(t, options.Response.Challenge)
	require.Len(t, options.Response.AllowedCredentials, 1)

	_, _, err = svc.BeginLogin(ctx, "ghost")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

// El estado de ceremonia es de un solo uso: una vez consumido, el mismo
// session id deja de resolver.
func TestCeremonyState_SingleUse(t *testing.T) {
	svc, _ := newService(t)

	ident := repository.Identity{Username: "alice", DisplayName: "Alice", UserHandle: "handle-alice"}
	session := &webauthn.SessionData{
		Challenge: "challenge-value",
		UserID:    []byte("handle-alice"),
	}
	id, err := svc.saveCeremony(ident, session)
	require.NoError(t, err)

	state, err := svc.loadCeremony(id)
	require.NoError(t, err)
	require.Equal(t, "alice", state.Identity.Username)
	require.Equal(t, "challenge-value", state.Session.Challenge)

	_, err = svc.loadCeremony(id)
	require.ErrorIs(t, err, ErrCeremonyExpired)
}

// flakyRepo simula un storage caído al listar credenciales.
type flakyRepo struct {
	*memory.Store
}

func (f *flakyRepo) ListCredentialsByHandleHash(ctx context.Context, handleHash string) ([]repository.CredentialRow, error) {
	return nil, fmt.Errorf("flaky: %w", repository.ErrUnavailable)
}

// Una falla transitoria de storage al cerrar el registro debe propagarse
// como ErrUnavailable, no degradar a "sin credenciales previas".
func TestFinishRegistration_StorageFailurePropagates(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i * 5)
	}
	kp, err := keeper.New(base64.StdEncoding.EncodeToString(raw), "registrations")
	require.NoError(t, err)

	records := store.NewRecords(&flakyRepo{Store: memory.New()}, crypto.NewEngine(), kp)
	svc, err := NewService(Config{
		RPID:          "localhost",
		RPDisplayName: "KeyWarden Test",
		RPOrigins:     []string{"http://localhost"},
		CeremonyTTL:   time.Minute,
	}, records, cachemem.New(time.Minute))
	require.NoError(t, err)

	ident := repository.Identity{Username: "alice", DisplayName: "Alice", UserHandle: "handle-alice"}
	id, err := svc.saveCeremony(ident, &webauthn.SessionData{
		Challenge: "challenge-value",
		UserID:    []byte("handle-alice"),
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/register/finish", nil)
	_, err = svc.FinishRegistration(context.Background(), id, r)
	require.ErrorIs(t, err, repository.ErrUnavailable)
}

func TestLoadCeremony_Unknown(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.loadCeremony("no-such-session")
	require.ErrorIs(t, err, ErrCeremonyExpired)
}
