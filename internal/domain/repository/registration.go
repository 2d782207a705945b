package repository

import "time"

// Identity es la identidad en claro de un usuario passkey.
// UserHandle es el identificador estable y opaco; Username es único pero
// re-registrable (upsert). Inmutable después de creada.
type Identity struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	UserHandle  string `json:"userHandle"`
}

// CredentialRegistration es una credencial FIDO2 registrada, en claro.
// Siempre pertenece a una Identity existente.
type CredentialRegistration struct {
	Identity         Identity  `json:"identity"`
	CredentialID     []byte    `json:"credentialId"`
	PublicKey        []byte    `json:"publicKey"`
	AttestationType  string    `json:"attestationType,omitempty"`
	Transports       []string  `json:"transports,omitempty"`
	SignatureCounter uint32    `json:"signatureCounter"`
	RegisteredAt     time.Time `json:"registeredAt"`
}
