package store_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keywarden/internal/crypto"
	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	"github.com/dropDatabas3/keywarden/internal/security/keeper"
	"github.com/dropDatabas3/keywarden/internal/store"
	"github.com/dropDatabas3/keywarden/internal/store/memory"
)

func newRecords(t *testing.T) *store.Records {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	kp, err := keeper.New(base64.StdEncoding.EncodeToString(raw), "registrations")
	require.NoError(t, err)
	return store.NewRecords(memory.New(), crypto.NewEngine(), kp)
}

func reg(username, display, handle string, credID []byte) *repository.CredentialRegistration {
	return &repository.CredentialRegistration{
		Identity: repository.Identity{
			Username:    username,
			DisplayName: display,
			UserHandle:  handle,
		},
		CredentialID:     credID,
		PublicKey:        []byte("cose-public-key"),
		SignatureCounter: 1,
		RegisteredAt:     time.Now().UTC(),
	}
}

func TestAddRegistration_AndGetByUsername(t *testing.T) {
	t.Parallel()
	r := newRecords(t)
	ctx := context.Background()

	require.NoError(t, r.AddRegistration(ctx, reg("alice", "Alice A.", "handle-a", []byte{1, 2, 3})))

	ident, err := r.GetIdentityByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice A.", ident.DisplayName)
	require.Equal(t, "handle-a", ident.UserHandle)

	byHandle, err := r.GetIdentityByHandle(ctx, "handle-a")
	require.NoError(t, err)
	require.Equal(t, "alice", byHandle.Username)

	regs, err := r.GetRegistrationsByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, []byte{1, 2, 3}, regs[0].CredentialID)
}

// Un upsert del mismo handle con otro username renombra la identidad
// completa: el username viejo deja de resolver y el nuevo apunta al
// mismo handle.
func TestAddRegistration_UpsertSameHandleNewUsername(t *testing.T) {
	t.Parallel()
	r := newRecords(t)
	ctx := context.Background()

	require.NoError(t, r.AddRegistration(ctx, reg("carol", "Carol", "handle-c", []byte{1})))
	require.NoError(t, r.AddRegistration(ctx, reg("caroline", "Caroline", "handle-c", []byte{2})))

	ident, err := r.GetIdentityByUsername(ctx, "caroline")
	require.NoError(t, err)
	require.Equal(t, "handle-c", ident.UserHandle)

	_, err = r.GetIdentityByUsername(ctx, "carol")
	require.ErrorIs(t, err, repository.ErrNotFound)

	regs, err := r.GetRegistrationsByHandle(ctx, "handle-c")
	require.NoError(t, err)
	require.Len(t, regs, 2)
}

// Re-registrar el mismo username upserta: una sola identidad, dos credenciales.
func TestAddRegistration_UpsertSameUsername(t *testing.T) {
	t.Parallel()
	r := newRecords(t)
	ctx := context.Background()

	require.NoError(t, r.AddRegistration(ctx, reg("bob", "Bob", "handle-b", []byte{1})))
	require.NoError(t, r.AddRegistration(ctx, reg("bob", "Bobby", "handle-b", []byte{2})))

	ident, err := r.GetIdentityByUsername(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "Bobby", ident.DisplayName)

	regs, err := r.GetRegistrationsByUsername(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, regs, 2)
}

func TestUserExists(t *testing.T) {
	t.Parallel()
	r := newRecords(t)
	ctx := context.Background()

	ok, err := r.UserExists(ctx, "carol")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.AddRegistration(ctx, reg("carol", "Carol", "handle-c", []byte{9})))

	ok, err = r.UserExists(ctx, "carol")
	require.NoError(t, err)
	require.True(t, ok)
}

// Lookup resuelve identidad primero: un credential id de A jamás se
// devuelve para el handle de B.
func TestLookup_ScopedToHandle(t *testing.T) {
	t.Parallel()
	r := newRecords(t)
	ctx := context.Background()

	credA := []byte{0xAA, 0x01}
	require.NoError(t, r.AddRegistration(ctx, reg("user-a", "A", "handle-a", credA)))
	require.NoError(t, r.AddRegistration(ctx, reg("user-b", "B", "handle-b", []byte{0xBB, 0x02})))

	found, err := r.Lookup(ctx, credA, "handle-a")
	require.NoError(t, err)
	require.Equal(t, "user-a", found.Identity.Username)

	_, err = r.Lookup(ctx, credA, "handle-b")
	require.True(t, errors.Is(err, repository.ErrNotFound), "err = %v", err)
}

func TestLookupAll_GlobalScan(t *testing.T) {
	t.Parallel()
	r := newRecords(t)
	ctx := context.Background()

	cred := []byte{0xCC, 0x03}
	require.NoError(t, r.AddRegistration(ctx, reg("dave", "Dave", "handle-d", cred)))

	found, err := r.LookupAll(ctx, cred)
	require.NoError(t, err)
	require.Equal(t, "dave", found.Identity.Username)

	_, err = r.LookupAll(ctx, []byte{0xFF})
	require.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestDeleteIdentity_Cascades(t *testing.T) {
	t.Parallel()
	r := newRecords(t)
	ctx := context.Background()

	cred := []byte{7}
	require.NoError(t, r.AddRegistration(ctx, reg("eve", "Eve", "handle-e", cred)))
	require.NoError(t, r.DeleteIdentity(ctx, "handle-e"))

	_, err := r.GetIdentityByHandle(ctx, "handle-e")
	require.True(t, errors.Is(err, repository.ErrNotFound))
	_, err = r.LookupAll(ctx, cred)
	require.True(t, errors.Is(err, repository.ErrNotFound))
}

// Usernames distintos producen digests distintos.
func TestHash_Uniqueness(t *testing.T) {
	t.Parallel()
	seen := map[string]string{}
	for _, name := range []string{"alice", "alicia", "Alice", "alice ", "bob"} {
		h := store.Hash(name)
		if prev, ok := seen[h]; ok {
			t.Fatalf("colisión: %q y %q", prev, name)
		}
		seen[h] = name
	}
	require.Len(t, store.Hash("x"), 64) // SHA-256 hex
}

func TestAddRegistration_RejectsIncomplete(t *testing.T) {
	t.Parallel()
	r := newRecords(t)
	err := r.AddRegistration(context.Background(), &repository.CredentialRegistration{})
	require.True(t, errors.Is(err, repository.ErrInvalidInput))
}
