package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
)

const keyColumns = `key_id, encrypted_private_key, public_key, algorithm, key_size,
	status, created_at, activated_at, retired_at, expires_at, metadata`

func (s *Store) GetActive(ctx context.Context) (*repository.SigningKey, error) {
	const q = `SELECT ` + keyColumns + ` FROM signing_keys WHERE status = 'ACTIVE' LIMIT 1`
	return scanKey(s.pool.QueryRow(ctx, q))
}

// GetPending devuelve la PENDING más antigua: si alguna vez hubiese más de
// una en vuelo, se promueve primero la que lleva más tiempo publicada.
func (s *Store) GetPending(ctx context.Context) (*repository.SigningKey, error) {
	const q = `SELECT ` + keyColumns + ` FROM signing_keys
WHERE status = 'PENDING' ORDER BY created_at LIMIT 1`
	return scanKey(s.pool.QueryRow(ctx, q))
}

func (s *Store) GetByKID(ctx context.Context, kid string) (*repository.SigningKey, error) {
	const q = `SELECT ` + keyColumns + ` FROM signing_keys WHERE key_id = $1`
	return scanKey(s.pool.QueryRow(ctx, q, kid))
}

// ListPublishable lista las claves no-DELETED, sin material privado.
func (s *Store) ListPublishable(ctx context.Context) ([]repository.SigningKey, error) {
	const q = `
SELECT key_id, '' AS encrypted_private_key, public_key, algorithm, key_size,
	status, created_at, activated_at, retired_at, expires_at, metadata
FROM signing_keys
WHERE status <> 'DELETED'
ORDER BY created_at DESC`
	return s.listKeys(ctx, q)
}

func (s *Store) ListAll(ctx context.Context) ([]repository.SigningKey, error) {
	const q = `
SELECT key_id, '' AS encrypted_private_key, public_key, algorithm, key_size,
	status, created_at, activated_at, retired_at, expires_at, metadata
FROM signing_keys
ORDER BY created_at DESC`
	return s.listKeys(ctx, q)
}

func (s *Store) listKeys(ctx context.Context, q string, args ...any) ([]repository.SigningKey, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.SigningKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, mapErr(rows.Err())
}

func scanKey(row rowScanner) (*repository.SigningKey, error) {
	var k repository.SigningKey
	if err := row.Scan(&k.KID, &k.EncryptedPrivateKey, &k.PublicKeyPEM, &k.Algorithm,
		&k.KeySizeBits, &k.Status, &k.CreatedAt, &k.ActivatedAt, &k.RetiredAt,
		&k.ExpiresAt, &k.Metadata); err != nil {
		return nil, mapErr(err)
	}
	return &k, nil
}

func (s *Store) ListAudit(ctx context.Context, keyID string, limit int) ([]repository.AuditEntry, error) {
	q := `SELECT id, key_id, event, timestamp, metadata FROM key_audit_log`
	args := []any{}
	if keyID != "" {
		q += ` WHERE key_id = $1`
		args = append(args, keyID)
	}
	// seq, no timestamp: las transiciones escritas en la misma tx (p.ej.
	// ACTIVATED y el RETIRED de la predecesora) comparten el mismo now().
	q += ` ORDER BY seq`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.AuditEntry
	for rows.Next() {
		var e repository.AuditEntry
		if err := rows.Scan(&e.ID, &e.KeyID, &e.Event, &e.Timestamp, &e.Metadata); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

// Insert persiste la clave nueva y su entry GENERATED en la misma tx.
func (s *Store) Insert(ctx context.Context, k *repository.SigningKey, entry *repository.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
INSERT INTO signing_keys (key_id, encrypted_private_key, public_key, algorithm,
	key_size, status, created_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, q, k.KID, k.EncryptedPrivateKey, k.PublicKeyPEM,
		k.Algorithm, k.KeySizeBits, k.Status, k.CreatedAt, jsonMeta(k.Metadata)); err != nil {
		return fmt.Errorf("pg: insert key: %w", mapErr(err))
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return mapErr(tx.Commit(ctx))
}

// Promote activa kid solo si sigue PENDING. La ACTIVE anterior se demote
// PRIMERO en la misma tx (el índice parcial single-ACTIVE no tolera dos
// filas activas ni transitoriamente). Cero filas promovidas ⇒ ErrConflict:
// otro scheduler ganó la carrera y esto es un no-op.
func (s *Store) Promote(ctx context.Context, kid string, now time.Time, retention time.Duration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const demote = `
UPDATE signing_keys
SET status = 'RETIRED', retired_at = $1, expires_at = $2
WHERE status = 'ACTIVE'
RETURNING key_id`
	var demoted []string
	rows, err := tx.Query(ctx, demote, now, now.Add(retention))
	if err != nil {
		return fmt.Errorf("pg: demote active: %w", mapErr(err))
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return mapErr(err)
		}
		demoted = append(demoted, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapErr(err)
	}

	const promote = `
UPDATE signing_keys
SET status = 'ACTIVE', activated_at = $2
WHERE key_id = $1 AND status = 'PENDING'`
	tag, err := tx.Exec(ctx, promote, kid, now)
	if err != nil {
		return fmt.Errorf("pg: promote: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pg: promote %s: %w", kid, repository.ErrConflict)
	}

	if err := insertAudit(ctx, tx, &repository.AuditEntry{
		ID:        uuid.NewString(),
		KeyID:     kid,
		Event:     repository.KeyEventActivated,
		Timestamp: now,
	}); err != nil {
		return err
	}
	for _, id := range demoted {
		if err := insertAudit(ctx, tx, &repository.AuditEntry{
			ID:        uuid.NewString(),
			KeyID:     id,
			Event:     repository.KeyEventRetired,
			Timestamp: now,
			Metadata:  map[string]string{"reason": "superseded_by", "successor": kid},
		}); err != nil {
			return err
		}
	}
	return mapErr(tx.Commit(ctx))
}

// Retire fuerza ACTIVE→RETIRED. Cero filas ⇒ alguien ya la retiró.
func (s *Store) Retire(ctx context.Context, kid string, now time.Time, retention time.Duration, event repository.KeyEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
UPDATE signing_keys
SET status = 'RETIRED', retired_at = $2, expires_at = $3
WHERE key_id = $1 AND status = 'ACTIVE'`
	tag, err := tx.Exec(ctx, q, kid, now, now.Add(retention))
	if err != nil {
		return fmt.Errorf("pg: retire: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pg: retire %s: %w", kid, repository.ErrConflict)
	}

	if err := insertAudit(ctx, tx, &repository.AuditEntry{
		ID:        uuid.NewString(),
		KeyID:     kid,
		Event:     event,
		Timestamp: now,
	}); err != nil {
		return err
	}
	return mapErr(tx.Commit(ctx))
}

// PurgeExpired elimina toda RETIRED vencida, con su entry DELETED en la
// misma tx. Las entries previas de esas claves quedan: el audit log es
// append-only y sobrevive al purge.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
DELETE FROM signing_keys
WHERE status = 'RETIRED' AND expires_at IS NOT NULL AND expires_at < $1
RETURNING key_id`
	rows, err := tx.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("pg: purge: %w", mapErr(err))
	}
	var purged []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, mapErr(err)
		}
		purged = append(purged, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}

	for _, id := range purged {
		if err := insertAudit(ctx, tx, &repository.AuditEntry{
			ID:        uuid.NewString(),
			KeyID:     id,
			Event:     repository.KeyEventDeleted,
			Timestamp: now,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(err)
	}
	return purged, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, e *repository.AuditEntry) error {
	const q = `
INSERT INTO key_audit_log (id, key_id, event, timestamp, metadata)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, q, e.ID, e.KeyID, e.Event, e.Timestamp, jsonMeta(e.Metadata)); err != nil {
		return fmt.Errorf("pg: audit write: %w", mapErr(err))
	}
	return nil
}

// jsonMeta normaliza metadata nil a objeto vacío para la columna JSONB.
func jsonMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
