// Package memory implementa los repositorios en memoria, con la misma
// semántica que el adapter de Postgres: single-ACTIVE, upserts atómicos
// y audit escrito junto con cada transición. Lo usan el driver "memory"
// y los tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
)

type Store struct {
	mu          sync.Mutex
	identities  map[string]repository.IdentityRow   // user_handle_hash → fila
	credentials map[string]repository.CredentialRow // credential_id_hash → fila
	keys        map[string]repository.SigningKey    // key_id → fila
	audit       []repository.AuditEntry
}

func New() *Store {
	return &Store{
		identities:  make(map[string]repository.IdentityRow),
		credentials: make(map[string]repository.CredentialRow),
		keys:        make(map[string]repository.SigningKey),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// ─── RegistrationRepository ───

func (s *Store) UpsertRegistration(ctx context.Context, ident *repository.IdentityRow, cred *repository.CredentialRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// username_hash es UNIQUE: otra identidad con el mismo hash es conflicto.
	for _, row := range s.identities {
		if row.UsernameHash == ident.UsernameHash && row.UserHandleHash != ident.UserHandleHash {
			return fmt.Errorf("memory: username hash taken: %w", repository.ErrConflict)
		}
	}
	if prev, ok := s.identities[ident.UserHandleHash]; ok {
		// upsert conserva created_at original
		ident.CreatedAt = prev.CreatedAt
	}
	s.identities[ident.UserHandleHash] = *ident
	s.credentials[cred.CredentialIDHash] = *cred
	return nil
}

func (s *Store) GetIdentityByUsernameHash(ctx context.Context, usernameHash string) (*repository.IdentityRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.identities {
		if row.UsernameHash == usernameHash {
			r := row
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetIdentityByHandleHash(ctx context.Context, handleHash string) (*repository.IdentityRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.identities[handleHash]; ok {
		r := row
		return &r, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListCredentialsByHandleHash(ctx context.Context, handleHash string) ([]repository.CredentialRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.CredentialRow
	for _, c := range s.credentials {
		if c.UserHandleHash == handleHash {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (s *Store) GetCredentialByIDHash(ctx context.Context, credentialIDHash string) (*repository.CredentialRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.credentials[credentialIDHash]; ok {
		r := c
		return &r, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UsernameExists(ctx context.Context, usernameHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.identities {
		if row.UsernameHash == usernameHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, handleHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[handleHash]; !ok {
		return repository.ErrNotFound
	}
	delete(s.identities, handleHash)
	// cascade
	for id, c := range s.credentials {
		if c.UserHandleHash == handleHash {
			delete(s.credentials, id)
		}
	}
	return nil
}

// ─── KeyRepository ───

func (s *Store) GetActive(ctx context.Context) (*repository.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByStatusLocked(repository.KeyStatusActive)
}

func (s *Store) GetPending(ctx context.Context) (*repository.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByStatusLocked(repository.KeyStatusPending)
}

// findByStatusLocked devuelve la más antigua con ese estado.
func (s *Store) findByStatusLocked(status repository.KeyStatus) (*repository.SigningKey, error) {
	var best *repository.SigningKey
	for _, k := range s.keys {
		if k.Status != status {
			continue
		}
		k := k
		if best == nil || k.CreatedAt.Before(best.CreatedAt) {
			best = &k
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (s *Store) GetByKID(ctx context.Context, kid string) (*repository.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[kid]; ok {
		r := k
		return &r, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListPublishable(ctx context.Context) ([]repository.SigningKey, error) {
	return s.list(func(k repository.SigningKey) bool { return k.Status != repository.KeyStatusDeleted })
}

func (s *Store) ListAll(ctx context.Context) ([]repository.SigningKey, error) {
	return s.list(func(k repository.SigningKey) bool { return true })
}

func (s *Store) list(keep func(repository.SigningKey) bool) ([]repository.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.SigningKey
	for _, k := range s.keys {
		if keep(k) {
			k.EncryptedPrivateKey = ""
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListAudit(ctx context.Context, keyID string, limit int) ([]repository.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.AuditEntry
	for _, e := range s.audit {
		if keyID == "" || e.KeyID == keyID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, k *repository.SigningKey, entry *repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.KID]; ok {
		return fmt.Errorf("memory: kid taken: %w", repository.ErrConflict)
	}
	s.keys[k.KID] = *k
	s.audit = append(s.audit, *entry)
	return nil
}

func (s *Store) Promote(ctx context.Context, kid string, now time.Time, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.keys[kid]
	if !ok || target.Status != repository.KeyStatusPending {
		return fmt.Errorf("memory: promote %s: %w", kid, repository.ErrConflict)
	}

	var demoted []string
	for id, k := range s.keys {
		if k.Status != repository.KeyStatusActive {
			continue
		}
		retiredAt := now
		expiresAt := now.Add(retention)
		k.Status = repository.KeyStatusRetired
		k.RetiredAt = &retiredAt
		k.ExpiresAt = &expiresAt
		s.keys[id] = k
		demoted = append(demoted, id)
	}

	activatedAt := now
	target.Status = repository.KeyStatusActive
	target.ActivatedAt = &activatedAt
	s.keys[kid] = target
	s.audit = append(s.audit, repository.AuditEntry{
		ID:        uuid.NewString(),
		KeyID:     kid,
		Event:     repository.KeyEventActivated,
		Timestamp: now,
	})
	for _, id := range demoted {
		s.audit = append(s.audit, repository.AuditEntry{
			ID:        uuid.NewString(),
			KeyID:     id,
			Event:     repository.KeyEventRetired,
			Timestamp: now,
			Metadata:  map[string]string{"reason": "superseded_by", "successor": kid},
		})
	}
	return nil
}

func (s *Store) Retire(ctx context.Context, kid string, now time.Time, retention time.Duration, event repository.KeyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[kid]
	if !ok || k.Status != repository.KeyStatusActive {
		return fmt.Errorf("memory: retire %s: %w", kid, repository.ErrConflict)
	}
	retiredAt := now
	expiresAt := now.Add(retention)
	k.Status = repository.KeyStatusRetired
	k.RetiredAt = &retiredAt
	k.ExpiresAt = &expiresAt
	s.keys[kid] = k
	s.audit = append(s.audit, repository.AuditEntry{
		ID:        uuid.NewString(),
		KeyID:     kid,
		Event:     event,
		Timestamp: now,
	})
	return nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []string
	for id, k := range s.keys {
		if k.Status == repository.KeyStatusRetired && k.ExpiresAt != nil && k.ExpiresAt.Before(now) {
			delete(s.keys, id)
			purged = append(purged, id)
			s.audit = append(s.audit, repository.AuditEntry{
				ID:        uuid.NewString(),
				KeyID:     id,
				Event:     repository.KeyEventDeleted,
				Timestamp: now,
			})
		}
	}
	return purged, nil
}
