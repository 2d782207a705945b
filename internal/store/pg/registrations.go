package pg

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
)

// UpsertRegistration corre identidad + credencial en una sola transacción.
// Cualquier falla hace rollback completo: una credencial jamás queda
// persistida sin su identidad.
func (s *Store) UpsertRegistration(ctx context.Context, ident *repository.IdentityRow, cred *repository.CredentialRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", mapErr(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsertIdentity = `
INSERT INTO identities (user_handle_hash, username_hash, encrypted_identity, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_handle_hash)
DO UPDATE SET username_hash      = EXCLUDED.username_hash,
              encrypted_identity = EXCLUDED.encrypted_identity`
	if _, err := tx.Exec(ctx, upsertIdentity,
		ident.UserHandleHash, ident.UsernameHash, ident.Sealed, ident.CreatedAt); err != nil {
		return fmt.Errorf("pg: upsert identity: %w", mapErr(err))
	}

	const upsertCredential = `
INSERT INTO credentials (credential_id_hash, user_handle_hash, encrypted_credential, registered_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (credential_id_hash)
DO UPDATE SET encrypted_credential = EXCLUDED.encrypted_credential`
	if _, err := tx.Exec(ctx, upsertCredential,
		cred.CredentialIDHash, cred.UserHandleHash, cred.Sealed, cred.RegisteredAt); err != nil {
		return fmt.Errorf("pg: upsert credential: %w", mapErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", mapErr(err))
	}
	return nil
}

func (s *Store) GetIdentityByUsernameHash(ctx context.Context, usernameHash string) (*repository.IdentityRow, error) {
	const q = `
SELECT user_handle_hash, username_hash, encrypted_identity, created_at
FROM identities WHERE username_hash = $1`
	return s.scanIdentity(s.pool.QueryRow(ctx, q, usernameHash))
}

func (s *Store) GetIdentityByHandleHash(ctx context.Context, handleHash string) (*repository.IdentityRow, error) {
	const q = `
SELECT user_handle_hash, username_hash, encrypted_identity, created_at
FROM identities WHERE user_handle_hash = $1`
	return s.scanIdentity(s.pool.QueryRow(ctx, q, handleHash))
}

type rowScanner interface{ Scan(dest ...any) error }

func (s *Store) scanIdentity(row rowScanner) (*repository.IdentityRow, error) {
	var r repository.IdentityRow
	if err := row.Scan(&r.UserHandleHash, &r.UsernameHash, &r.Sealed, &r.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *Store) ListCredentialsByHandleHash(ctx context.Context, handleHash string) ([]repository.CredentialRow, error) {
	const q = `
SELECT credential_id_hash, user_handle_hash, encrypted_credential, registered_at
FROM credentials WHERE user_handle_hash = $1
ORDER BY registered_at`
	rows, err := s.pool.Query(ctx, q, handleHash)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.CredentialRow
	for rows.Next() {
		var c repository.CredentialRow
		if err := rows.Scan(&c.CredentialIDHash, &c.UserHandleHash, &c.Sealed, &c.RegisteredAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, c)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) GetCredentialByIDHash(ctx context.Context, credentialIDHash string) (*repository.CredentialRow, error) {
	const q = `
SELECT credential_id_hash, user_handle_hash, encrypted_credential, registered_at
FROM credentials WHERE credential_id_hash = $1`
	var c repository.CredentialRow
	if err := s.pool.QueryRow(ctx, q, credentialIDHash).Scan(
		&c.CredentialIDHash, &c.UserHandleHash, &c.Sealed, &c.RegisteredAt); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) UsernameExists(ctx context.Context, usernameHash string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM identities WHERE username_hash = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, usernameHash).Scan(&exists); err != nil {
		return false, mapErr(err)
	}
	return exists, nil
}

// DeleteIdentity borra la identidad; las credenciales caen por cascade.
func (s *Store) DeleteIdentity(ctx context.Context, handleHash string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE user_handle_hash = $1`, handleHash)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
