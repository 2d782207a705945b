package keys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
)

func TestGenerate_SealsPrivateMaterial(t *testing.T) {
	f := newFixture(t, Options{
		RotationInterval: time.Hour,
		GracePeriod:      time.Hour,
		RetentionPeriod:  time.Hour,
	})
	ctx := context.Background()

	key, err := f.svc.Generate(ctx)
	require.NoError(t, err)
	require.Equal(t, repository.KeyStatusPending, key.Status)
	require.Equal(t, "RS256", key.Algorithm)
	require.Contains(t, key.PublicKeyPEM, "BEGIN PUBLIC KEY")
	require.NotContains(t, key.EncryptedPrivateKey, "PRIVATE KEY",
		"el material privado tiene que persistirse sellado, no en PEM")

	// el audit GENERATED se escribe junto con la fila
	entries, err := f.repo.ListAudit(ctx, key.KID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, repository.KeyEventGenerated, entries[0].Event)
}

func TestActiveSigner_RoundTrip(t *testing.T) {
	f := newFixture(t, Options{
		RotationInterval: time.Hour,
		GracePeriod:      0,
		RetentionPeriod:  time.Hour,
	})
	ctx := context.Background()

	key, err := f.svc.Generate(ctx)
	require.NoError(t, err)
	require.NoError(t, f.repo.Promote(ctx, key.KID, f.svc.now(), time.Hour))

	kid, priv, err := f.svc.ActiveSigner(ctx)
	require.NoError(t, err)
	require.Equal(t, key.KID, kid)

	pub, err := f.svc.PublicKeyByKID(ctx, kid)
	require.NoError(t, err)
	require.Equal(t, pub.N, priv.PublicKey.N, "la privada descifrada no matchea la pública publicada")
}

// La rotación manual retira la ACTIVE con MANUAL_ROTATION y garantiza un
// reemplazo PENDING, sin duplicar una PENDING ya en vuelo.
func TestManualRotate(t *testing.T) {
	f := newFixture(t, Options{
		RotationInterval: time.Hour,
		GracePeriod:      0,
		RetentionPeriod:  time.Hour,
	})
	ctx := context.Background()

	key, err := f.svc.Generate(ctx)
	require.NoError(t, err)
	require.NoError(t, f.repo.Promote(ctx, key.KID, f.svc.now(), time.Hour))

	require.NoError(t, f.svc.ManualRotate(ctx))

	retired, err := f.repo.GetByKID(ctx, key.KID)
	require.NoError(t, err)
	require.Equal(t, repository.KeyStatusRetired, retired.Status)

	pending, err := f.repo.GetPending(ctx)
	require.NoError(t, err)

	entries, err := f.repo.ListAudit(ctx, key.KID, 0)
	require.NoError(t, err)
	var events []repository.KeyEvent
	for _, e := range entries {
		events = append(events, e.Event)
	}
	require.Contains(t, events, repository.KeyEventManualRotation)

	// segunda rotación sin ACTIVE: no acuña otra PENDING
	require.NoError(t, f.svc.ManualRotate(ctx))
	again, err := f.repo.GetPending(ctx)
	require.NoError(t, err)
	require.Equal(t, pending.KID, again.KID)
}

// El set publicado siempre incluye la ACTIVE y jamás una DELETED.
func TestJWKS_PublishesNonDeleted(t *testing.T) {
	f := newFixture(t, Options{
		RotationInterval: 0,
		GracePeriod:      0,
		RetentionPeriod:  time.Minute,
	})
	ctx := context.Background()

	require.NoError(t, f.svc.Tick(ctx)) // genera
	require.NoError(t, f.svc.Tick(ctx)) // promueve

	active, err := f.repo.GetActive(ctx)
	require.NoError(t, err)

	set, err := f.svc.JWKS(ctx)
	require.NoError(t, err)
	var kids []string
	for _, jwk := range set.Keys {
		require.Equal(t, "RSA", jwk.Kty)
		require.Equal(t, "sig", jwk.Use)
		require.Equal(t, "RS256", jwk.Alg)
		require.NotEmpty(t, jwk.N)
		require.Equal(t, "AQAB", jwk.E)
		kids = append(kids, jwk.KID)
	}
	require.Contains(t, kids, active.KID)
}
