package repository

import (
	"context"
	"time"
)

// IdentityRow es la fila cifrada de una identidad. Los únicos valores
// indexables son digests SHA-256 (hex); el plaintext nunca toca un índice.
type IdentityRow struct {
	UserHandleHash string // PK
	UsernameHash   string // UNIQUE
	Sealed         string // blob sellado con la Identity completa
	CreatedAt      time.Time
}

// CredentialRow es la fila cifrada de una credencial registrada,
// siempre colgada de su identidad (FK + cascade delete).
type CredentialRow struct {
	CredentialIDHash string // PK
	UserHandleHash   string // FK → IdentityRow
	Sealed           string // blob sellado con la CredentialRegistration completa
	RegisteredAt     time.Time
}

// RegistrationRepository define el acceso a filas cifradas de identidades
// y credenciales. No sabe de crypto: recibe y devuelve material sellado.
type RegistrationRepository interface {
	// UpsertRegistration corre en una sola transacción: upsert de la identidad
	// (PK user_handle_hash, UNIQUE username_hash) y upsert de la credencial
	// (PK credential_id_hash, FK user_handle_hash). Rollback completo ante
	// cualquier falla: una credencial jamás se persiste sin su identidad.
	UpsertRegistration(ctx context.Context, ident *IdentityRow, cred *CredentialRow) error

	// GetIdentityByUsernameHash busca por hash de username.
	GetIdentityByUsernameHash(ctx context.Context, usernameHash string) (*IdentityRow, error)

	// GetIdentityByHandleHash busca por hash de userHandle.
	GetIdentityByHandleHash(ctx context.Context, handleHash string) (*IdentityRow, error)

	// ListCredentialsByHandleHash lista las credenciales de una identidad.
	ListCredentialsByHandleHash(ctx context.Context, handleHash string) ([]CredentialRow, error)

	// GetCredentialByIDHash hace scan global por hash de credential id
	// (detección de registros duplicados).
	GetCredentialByIDHash(ctx context.Context, credentialIDHash string) (*CredentialRow, error)

	// UsernameExists chequea existencia sólo por hash, sin descifrar nada.
	UsernameExists(ctx context.Context, usernameHash string) (bool, error)

	// DeleteIdentity elimina la identidad y (cascade) sus credenciales.
	DeleteIdentity(ctx context.Context, handleHash string) error
}
