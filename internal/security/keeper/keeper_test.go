package keeper

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKeyB64() string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()
	k, err := New(testKeyB64(), "signing-keys")
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	msg := "material sensible ✓"
	sealed, err := k.Seal(msg)
	if err != nil {
		t.Fatalf("Seal err: %v", err)
	}
	got, err := k.Open(sealed)
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if got != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", got, msg)
	}
}

func TestOpen_DetectsTamper(t *testing.T) {
	t.Parallel()
	k, err := New(testKeyB64(), "signing-keys")
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	sealed, err := k.Seal("top secret")
	if err != nil {
		t.Fatalf("Seal err: %v", err)
	}
	parts := strings.SplitN(sealed, "|", 2)
	ct, _ := base64.StdEncoding.DecodeString(parts[1])
	ct[0] ^= 0x01
	tampered := parts[0] + "|" + base64.StdEncoding.EncodeToString(ct)
	if _, err := k.Open(tampered); err == nil {
		t.Fatal("tamper no detectado")
	}
}

// Dos contexts derivan claves distintas: lo sellado en un dominio no se
// abre en otro.
func TestContextSeparation(t *testing.T) {
	t.Parallel()
	a, err := New(testKeyB64(), "signing-keys")
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	b, err := New(testKeyB64(), "registrations")
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	sealed, err := a.Seal("solo para claves")
	if err != nil {
		t.Fatalf("Seal err: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("un keeper de otro context abrió el sellado")
	}
}

func TestNew_RejectsBadKeys(t *testing.T) {
	t.Parallel()
	if _, err := New("no-base64 !!!", "ctx"); err == nil {
		t.Fatal("master key no-base64 aceptada")
	}
	short := base64.StdEncoding.EncodeToString([]byte("cortita"))
	if _, err := New(short, "ctx"); err == nil {
		t.Fatal("master key corta aceptada")
	}
}
