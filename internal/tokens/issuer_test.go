package tokens_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keywarden/internal/crypto"
	"github.com/dropDatabas3/keywarden/internal/keys"
	"github.com/dropDatabas3/keywarden/internal/security/keeper"
	"github.com/dropDatabas3/keywarden/internal/store/memory"
	"github.com/dropDatabas3/keywarden/internal/tokens"
)

func newIssuer(t *testing.T) (*tokens.Issuer, *keys.Service, *memory.Store) {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 7)
	}
	kp, err := keeper.New(base64.StdEncoding.EncodeToString(raw), "signing-keys")
	require.NoError(t, err)

	repo := memory.New()
	svc := keys.NewService(repo, crypto.NewEngine(), kp, keys.Options{
		RotationInterval: time.Hour,
		GracePeriod:      0,
		RetentionPeriod:  time.Hour,
		KeySizeBits:      2048,
		KIDPrefix:        "test",
	})
	ctx := context.Background()
	require.NoError(t, svc.Tick(ctx)) // bootstrap: genera
	require.NoError(t, svc.Tick(ctx)) // promueve

	return tokens.NewIssuer("https://issuer.test", svc, 5*time.Minute), svc, repo
}

func TestIssueAndVerify(t *testing.T) {
	iss, _, _ := newIssuer(t)
	ctx := context.Background()

	raw, exp, err := iss.IssueAccess(ctx, "user-123", map[string]any{"preferred_username": "alice"})
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	claims, err := iss.Verify(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "https://issuer.test", claims["iss"])
	require.Equal(t, "user-123", claims["sub"])
	require.Equal(t, "alice", claims["preferred_username"])
}

func TestVerify_RejectsTampered(t *testing.T) {
	iss, _, _ := newIssuer(t)
	ctx := context.Background()

	raw, _, err := iss.IssueAccess(ctx, "user-123", nil)
	require.NoError(t, err)

	// pisar un byte del payload invalida la firma
	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[3] == 'A' {
		payload[3] = 'B'
	} else {
		payload[3] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = iss.Verify(ctx, tampered)
	require.Error(t, err)
}

func TestVerify_RejectsWrongIssuer(t *testing.T) {
	a, _, _ := newIssuer(t)
	b, _, _ := newIssuer(t)
	ctx := context.Background()

	raw, _, err := a.IssueAccess(ctx, "user-123", nil)
	require.NoError(t, err)

	// otro issuer, otras claves: el kid no resuelve
	_, err = b.Verify(ctx, raw)
	require.Error(t, err)
}

// Un token firmado por una clave luego retirada sigue verificando: la
// RETIRED permanece publicada hasta vencer su retención.
func TestVerify_SurvivesRotation(t *testing.T) {
	iss, svc, _ := newIssuer(t)
	ctx := context.Background()

	raw, _, err := iss.IssueAccess(ctx, "user-123", nil)
	require.NoError(t, err)

	require.NoError(t, svc.ManualRotate(ctx))
	require.NoError(t, svc.Tick(ctx)) // promueve el reemplazo

	claims, err := iss.Verify(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "user-123", claims["sub"])
}
