package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	big := make([]byte, 1<<20)
	if _, err := rand.Read(big); err != nil {
		t.Fatalf("rand: %v", err)
	}

	cases := [][]byte{
		[]byte{},
		[]byte("x"),
		[]byte("hola mundo ✓ — secreto"),
		bytes.Repeat([]byte{0}, 4096),
		big,
	}
	for i, plaintext := range cases {
		blob, err := e.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("case %d: Encrypt err: %v", i, err)
		}
		if blob.Method != Method {
			t.Fatalf("case %d: method = %q, want %q", i, blob.Method, Method)
		}
		got, err := e.Decrypt(blob)
		if err != nil {
			t.Fatalf("case %d: Decrypt err: %v", i, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("case %d: plaintext mismatch (len got %d, want %d)", i, len(got), len(plaintext))
		}
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	a, err := e.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	b, err := e.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	if a.Ciphertext == b.Ciphertext || a.KeyMaterial == b.KeyMaterial {
		t.Fatal("dos llamadas produjeron el mismo material: falta randomness fresca")
	}
}

// Cualquier bit alterado tiene que hacer fallar la autenticación,
// nunca devolver plaintext corrupto.
func TestDecrypt_DetectsTamper(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	blob, err := e.Encrypt([]byte("payload que nadie debe tocar"))
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}

	payload, _ := base64.StdEncoding.DecodeString(blob.Ciphertext)
	for _, offset := range []int{0, gcmNonceLen, len(payload) - 1} {
		tampered := make([]byte, len(payload))
		copy(tampered, payload)
		tampered[offset] ^= 0x01

		bad := *blob
		bad.Ciphertext = base64.StdEncoding.EncodeToString(tampered)
		if _, err := e.Decrypt(&bad); err == nil {
			t.Fatalf("bit flip en offset %d no fue detectado", offset)
		}
	}

	km, _ := base64.StdEncoding.DecodeString(blob.KeyMaterial)
	tampered := make([]byte, len(km))
	copy(tampered, km)
	tampered[gcmNonceLen] ^= 0x01 // dentro del encryptedDataKey
	bad := *blob
	bad.KeyMaterial = base64.StdEncoding.EncodeToString(tampered)
	if _, err := e.Decrypt(&bad); err == nil {
		t.Fatal("bit flip en key material no fue detectado")
	}
}

func TestDecrypt_UnsupportedMethod(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	blob, err := e.Encrypt([]byte("data"))
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	blob.Method = "KEM512-AES128-GCM"
	if _, err := e.Decrypt(blob); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("err = %v, want ErrUnsupportedMethod", err)
	}
}

func TestDecrypt_MalformedKeyMaterial(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	blob, err := e.Encrypt([]byte("data"))
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}

	blob.KeyMaterial = base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := e.Decrypt(blob); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("err = %v, want ErrMalformedCiphertext", err)
	}

	blob.KeyMaterial = "no es base64 !!!"
	if _, err := e.Decrypt(blob); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("err = %v, want ErrMalformedCiphertext", err)
	}

	if _, err := e.Decrypt(nil); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("err = %v, want ErrMalformedCiphertext", err)
	}
}

func TestMarshalBlob_RoundTrip(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	blob, err := e.Encrypt([]byte("serializable"))
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	s, err := MarshalBlob(blob)
	if err != nil {
		t.Fatalf("MarshalBlob err: %v", err)
	}
	back, err := UnmarshalBlob(s)
	if err != nil {
		t.Fatalf("UnmarshalBlob err: %v", err)
	}
	got, err := e.Decrypt(back)
	if err != nil {
		t.Fatalf("Decrypt err: %v", err)
	}
	if string(got) != "serializable" {
		t.Fatalf("plaintext mismatch: %q", got)
	}

	if _, err := UnmarshalBlob("{}"); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("blob vacío aceptado: %v", err)
	}
	if _, err := UnmarshalBlob("not json"); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("no-json aceptado: %v", err)
	}
}
