// Package crypto implementa el motor híbrido KEM+AEAD que protege datos
// at-rest: AES-256-GCM para el payload, ML-KEM-768 (lattice, NIST nivel 3)
// para encapsular la clave de datos.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// Method identifica el esquema; blobs con otro tag no se intentan descifrar.
const Method = "KEM768-AES256-GCM"

const (
	dataKeyLen  = 32 // AES-256
	gcmNonceLen = 12 // 96 bits, recomendado para GCM
	gcmTagLen   = 16
	// encryptedDataKey = Seal(dataKey) ⇒ 32 + tag
	wrappedKeyLen = dataKeyLen + gcmTagLen
)

var (
	// ErrUnsupportedMethod indica un blob de un formato desconocido
	// (futuro o pasado). Nunca se reintenta.
	ErrUnsupportedMethod = errors.New("unsupported encryption method")

	// ErrMalformedCiphertext indica un blob corrupto o incompleto.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// EncryptedBlob es el resultado opaco y auto-descriptivo de Encrypt.
// Versionado por Method; ciphertext y keyMaterial van en base64.
type EncryptedBlob struct {
	Method      string            `json:"method"`
	Ciphertext  string            `json:"ciphertext"`
	KeyMaterial string            `json:"keyMaterial"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Engine cifra/descifra payloads arbitrarios. Es stateless y CPU-bound:
// seguro para uso concurrente sin sincronización.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Encrypt cifra plaintext con una clave AES fresca, encapsula esa clave
// contra un par ML-KEM-768 recién generado y empaqueta todo en un blob:
//
//	payload     = iv ‖ ct(plaintext)
//	keyMaterial = kemIV ‖ encryptedDataKey ‖ encapsulation ‖ kemPrivateKey
//
// Salida no determinística (randomness fresca por llamada), sin side effects.
func (e *Engine) Encrypt(plaintext []byte) (*EncryptedBlob, error) {
	// 1. Clave de datos + payload AES-256-GCM
	dataKey := make([]byte, dataKeyLen)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, fmt.Errorf("data key random: %w", err)
	}
	payload, err := gcmSeal(dataKey, plaintext)
	if err != nil {
		return nil, err
	}

	// 2. Par KEM fresco + encapsulación
	scheme := mlkem768.Scheme()
	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("kem keygen: %w", err)
	}
	encap, shared, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, fmt.Errorf("kem encapsulate: %w", err)
	}

	// 3. Derivar KEK del shared secret y envolver la clave de datos
	kek := shared[:dataKeyLen]
	wrapped, err := gcmSeal(kek, dataKey)
	if err != nil {
		return nil, err
	}

	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("kem private marshal: %w", err)
	}

	keyMaterial := make([]byte, 0, len(wrapped)+len(encap)+len(skBytes))
	keyMaterial = append(keyMaterial, wrapped...)
	keyMaterial = append(keyMaterial, encap...)
	keyMaterial = append(keyMaterial, skBytes...)

	return &EncryptedBlob{
		Method:      Method,
		Ciphertext:  base64.StdEncoding.EncodeToString(payload),
		KeyMaterial: base64.StdEncoding.EncodeToString(keyMaterial),
		Metadata: map[string]string{
			"kem":            "ML-KEM-768",
			"aead":           "AES-256-GCM",
			"security_level": "3",
			"encrypted_at":   time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// Decrypt invierte Encrypt. Cualquier bit alterado en ciphertext o tag hace
// fallar la autenticación GCM: jamás devuelve plaintext corrupto.
func (e *Engine) Decrypt(blob *EncryptedBlob) ([]byte, error) {
	if blob == nil {
		return nil, ErrMalformedCiphertext
	}
	if blob.Method != Method {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, blob.Method)
	}

	payload, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrMalformedCiphertext, err)
	}
	keyMaterial, err := base64.StdEncoding.DecodeString(blob.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("%w: decode key material: %v", ErrMalformedCiphertext, err)
	}

	// Split por longitudes fijas del parameter set
	scheme := mlkem768.Scheme()
	encapLen := scheme.CiphertextSize()
	privLen := scheme.PrivateKeySize()
	want := gcmNonceLen + wrappedKeyLen + encapLen + privLen
	if len(keyMaterial) != want {
		return nil, fmt.Errorf("%w: key material %d bytes, want %d", ErrMalformedCiphertext, len(keyMaterial), want)
	}
	wrapped := keyMaterial[:gcmNonceLen+wrappedKeyLen]
	encap := keyMaterial[gcmNonceLen+wrappedKeyLen : gcmNonceLen+wrappedKeyLen+encapLen]
	skBytes := keyMaterial[gcmNonceLen+wrappedKeyLen+encapLen:]

	sk, err := scheme.UnmarshalBinaryPrivateKey(skBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: kem private key: %v", ErrMalformedCiphertext, err)
	}
	shared, err := scheme.Decapsulate(sk, encap)
	if err != nil {
		return nil, fmt.Errorf("kem decapsulate: %w", err)
	}

	dataKey, err := gcmOpen(shared[:dataKeyLen], wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	plaintext, err := gcmOpen(dataKey, payload)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return plaintext, nil
}

// gcmSeal devuelve nonce ‖ Seal(plaintext) con nonce fresco.
func gcmSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	nonce := make([]byte, gcmNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce random: %w", err)
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// gcmOpen espera nonce ‖ ciphertext.
func gcmOpen(key, sealed []byte) ([]byte, error) {
	if len(sealed) < gcmNonceLen+gcmTagLen {
		return nil, ErrMalformedCiphertext
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	pt, err := aead.Open(nil, sealed[:gcmNonceLen], sealed[gcmNonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return pt, nil
}
