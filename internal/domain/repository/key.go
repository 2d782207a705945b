package repository

import (
	"context"
	"time"
)

// KeyStatus indica el estado de una clave de firma.
// La secuencia es estrictamente hacia adelante:
// PENDING → ACTIVE → RETIRED → DELETED.
type KeyStatus string

const (
	KeyStatusPending KeyStatus = "PENDING"
	KeyStatusActive  KeyStatus = "ACTIVE"
	KeyStatusRetired KeyStatus = "RETIRED"
	KeyStatusDeleted KeyStatus = "DELETED"
)

// rank mapea cada estado a su posición en la secuencia.
func (s KeyStatus) rank() int {
	switch s {
	case KeyStatusPending:
		return 0
	case KeyStatusActive:
		return 1
	case KeyStatusRetired:
		return 2
	case KeyStatusDeleted:
		return 3
	}
	return -1
}

// CanTransition reporta si el paso s→next respeta la secuencia
// (un solo paso hacia adelante; ACTIVE→RETIRED cubre también la rotación manual).
func (s KeyStatus) CanTransition(next KeyStatus) bool {
	return s.rank() >= 0 && next.rank() == s.rank()+1
}

// KeyEvent es el tipo de evento registrado en el audit log.
type KeyEvent string

const (
	KeyEventGenerated      KeyEvent = "GENERATED"
	KeyEventActivated      KeyEvent = "ACTIVATED"
	KeyEventRetired        KeyEvent = "RETIRED"
	KeyEventDeleted        KeyEvent = "DELETED"
	KeyEventManualRotation KeyEvent = "MANUAL_ROTATION"
)

// SigningKey representa una clave RSA de firma con su ciclo de vida.
// La privada viaja cifrada (blob sellado); la pública se guarda en claro
// porque está pensada para publicarse.
type SigningKey struct {
	KID                 string
	EncryptedPrivateKey string // blob sellado (engine + keeper)
	PublicKeyPEM        string
	Algorithm           string // "RS256"
	KeySizeBits         int
	Status              KeyStatus
	CreatedAt           time.Time
	ActivatedAt         *time.Time
	RetiredAt           *time.Time
	ExpiresAt           *time.Time
	Metadata            map[string]string
}

// AuditEntry es un registro inmutable de un evento del ciclo de vida.
// Cada transición de estado se persiste junto a su entry en la misma
// unidad atómica; nunca divergen.
type AuditEntry struct {
	ID        string
	KeyID     string
	Event     KeyEvent
	Timestamp time.Time
	Metadata  map[string]string
}

// JWK representa una clave pública en formato JWK (para el JWKS endpoint).
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	KID string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS representa el conjunto de claves públicas publicado.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeyRepository define las operaciones sobre claves de firma y su audit log.
// Toda mutación de estado escribe su AuditEntry en la misma transacción.
type KeyRepository interface {
	// ─── Lectura ───

	// GetActive obtiene la clave ACTIVE (a lo sumo una por constraint).
	GetActive(ctx context.Context) (*SigningKey, error)

	// GetPending obtiene la PENDING más antigua, o ErrNotFound.
	GetPending(ctx context.Context) (*SigningKey, error)

	// GetByKID busca una clave por su Key ID.
	GetByKID(ctx context.Context, kid string) (*SigningKey, error)

	// ListPublishable lista las claves no-DELETED sin material privado.
	ListPublishable(ctx context.Context) ([]SigningKey, error)

	// ListAll lista todas las claves con metadata completa (admin).
	ListAll(ctx context.Context) ([]SigningKey, error)

	// ListAudit lista el audit log (keyID vacío = todos), más antiguo primero.
	ListAudit(ctx context.Context, keyID string, limit int) ([]AuditEntry, error)

	// ─── Escritura ───

	// Insert persiste una clave nueva (PENDING) + su entry GENERATED.
	Insert(ctx context.Context, k *SigningKey, entry *AuditEntry) error

	// Promote activa la clave kid sólo si sigue PENDING y nadie más ganó la
	// carrera (update condicional, §single-ACTIVE). En la misma tx la ACTIVE
	// anterior pasa a RETIRED con expiresAt = now + retention, y se escriben
	// ACTIVATED (+RETIRED si hubo democión). Cero filas ⇒ ErrConflict.
	Promote(ctx context.Context, kid string, now time.Time, retention time.Duration) error

	// Retire fuerza ACTIVE→RETIRED para kid (rotación manual o vencimiento),
	// con expiresAt = now + retention y el evento dado (RETIRED o
	// MANUAL_ROTATION). Cero filas ⇒ ErrConflict (alguien ya la retiró).
	Retire(ctx context.Context, kid string, now time.Time, retention time.Duration, event KeyEvent) error

	// PurgeExpired elimina toda RETIRED con expiresAt < now, registrando
	// DELETED por cada una en la misma tx. Devuelve los KIDs purgados.
	PurgeExpired(ctx context.Context, now time.Time) ([]string, error)
}
