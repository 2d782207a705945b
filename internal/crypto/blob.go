package crypto

import (
	"encoding/json"
	"fmt"
)

// MarshalBlob serializa un blob a un único string (JSON compacto) apto
// para columnas de texto.
func MarshalBlob(b *EncryptedBlob) (string, error) {
	if b == nil {
		return "", ErrMalformedCiphertext
	}
	out, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshal blob: %w", err)
	}
	return string(out), nil
}

// UnmarshalBlob parsea el string persistido de vuelta a EncryptedBlob.
func UnmarshalBlob(s string) (*EncryptedBlob, error) {
	var b EncryptedBlob
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if b.Method == "" || b.Ciphertext == "" || b.KeyMaterial == "" {
		return nil, ErrMalformedCiphertext
	}
	return &b, nil
}
