// Package store implementa el Encrypted Record Store: identidades y
// credenciales cifradas at-rest, indexadas únicamente por digests SHA-256.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/keywarden/internal/crypto"
	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	"github.com/dropDatabas3/keywarden/internal/security/keeper"
)

// Records expone las operaciones del record store. Cada valor persistido
// pasa por dos capas: el engine híbrido (blob auto-contenido) y el keeper
// (sellado bajo la master key, para que la fila sola no alcance).
type Records struct {
	repo   repository.RegistrationRepository
	engine *crypto.Engine
	keeper *keeper.Keeper
}

func NewRecords(repo repository.RegistrationRepository, engine *crypto.Engine, kp *keeper.Keeper) *Records {
	return &Records{repo: repo, engine: engine, keeper: kp}
}

// Hash devuelve el digest SHA-256 hex de un identificador en claro.
// Es la única forma indexable de un identificador: no-reversible.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashBytes es Hash para identificadores binarios (credential IDs).
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// AddRegistration cifra identidad y credencial y las persiste en una sola
// transacción. Re-registrar el mismo username upserta la identidad.
func (r *Records) AddRegistration(ctx context.Context, reg *repository.CredentialRegistration) error {
	if reg.Identity.Username == "" || reg.Identity.UserHandle == "" || len(reg.CredentialID) == 0 {
		return fmt.Errorf("registration incompleta: %w", repository.ErrInvalidInput)
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}

	sealedIdent, err := r.seal(reg.Identity)
	if err != nil {
		return fmt.Errorf("seal identity: %w", err)
	}
	sealedCred, err := r.seal(reg)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}

	ident := &repository.IdentityRow{
		UserHandleHash: Hash(reg.Identity.UserHandle),
		UsernameHash:   Hash(reg.Identity.Username),
		Sealed:         sealedIdent,
		CreatedAt:      time.Now().UTC(),
	}
	cred := &repository.CredentialRow{
		CredentialIDHash: HashBytes(reg.CredentialID),
		UserHandleHash:   ident.UserHandleHash,
		Sealed:           sealedCred,
		RegisteredAt:     reg.RegisteredAt,
	}
	return r.repo.UpsertRegistration(ctx, ident, cred)
}

// GetIdentityByUsername hashea el argumento, busca por hash y descifra.
func (r *Records) GetIdentityByUsername(ctx context.Context, username string) (*repository.Identity, error) {
	row, err := r.repo.GetIdentityByUsernameHash(ctx, Hash(username))
	if err != nil {
		return nil, err
	}
	return r.openIdentity(row.Sealed)
}

func (r *Records) GetIdentityByHandle(ctx context.Context, userHandle string) (*repository.Identity, error) {
	row, err := r.repo.GetIdentityByHandleHash(ctx, Hash(userHandle))
	if err != nil {
		return nil, err
	}
	return r.openIdentity(row.Sealed)
}

// GetRegistrationsByUsername devuelve todas las credenciales del usuario,
// descifradas.
func (r *Records) GetRegistrationsByUsername(ctx context.Context, username string) ([]repository.CredentialRegistration, error) {
	row, err := r.repo.GetIdentityByUsernameHash(ctx, Hash(username))
	if err != nil {
		return nil, err
	}
	return r.listRegistrations(ctx, row.UserHandleHash)
}

// GetRegistrationsByHandle es la variante por user handle.
func (r *Records) GetRegistrationsByHandle(ctx context.Context, userHandle string) ([]repository.CredentialRegistration, error) {
	return r.listRegistrations(ctx, Hash(userHandle))
}

func (r *Records) listRegistrations(ctx context.Context, handleHash string) ([]repository.CredentialRegistration, error) {
	rows, err := r.repo.ListCredentialsByHandleHash(ctx, handleHash)
	if err != nil {
		return nil, err
	}
	out := make([]repository.CredentialRegistration, 0, len(rows))
	for _, row := range rows {
		reg, err := r.openRegistration(row.Sealed)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, nil
}

// Lookup resuelve la identidad por handle PRIMERO y recién después busca
// credentialID entre las credenciales de ESA identidad. El orden importa:
// un credential ID de otra identidad jamás se devuelve para un handle ajeno.
func (r *Records) Lookup(ctx context.Context, credentialID []byte, userHandle string) (*repository.CredentialRegistration, error) {
	regs, err := r.listRegistrations(ctx, Hash(userHandle))
	if err != nil {
		return nil, err
	}
	for i := range regs {
		if bytes.Equal(regs[i].CredentialID, credentialID) {
			return &regs[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

// LookupAll busca credentialID globalmente (detección de duplicados).
func (r *Records) LookupAll(ctx context.Context, credentialID []byte) (*repository.CredentialRegistration, error) {
	row, err := r.repo.GetCredentialByIDHash(ctx, HashBytes(credentialID))
	if err != nil {
		return nil, err
	}
	return r.openRegistration(row.Sealed)
}

// UserExists chequea existencia solo por hash: ni una fila se descifra.
func (r *Records) UserExists(ctx context.Context, username string) (bool, error) {
	return r.repo.UsernameExists(ctx, Hash(username))
}

// DeleteIdentity elimina la identidad y sus credenciales (cascade).
func (r *Records) DeleteIdentity(ctx context.Context, userHandle string) error {
	return r.repo.DeleteIdentity(ctx, Hash(userHandle))
}

// ─── Sellado ───

func (r *Records) seal(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	blob, err := r.engine.Encrypt(plain)
	if err != nil {
		return "", err
	}
	serialized, err := crypto.MarshalBlob(blob)
	if err != nil {
		return "", err
	}
	return r.keeper.Seal(serialized)
}

func (r *Records) open(sealed string, v any) error {
	serialized, err := r.keeper.Open(sealed)
	if err != nil {
		return err
	}
	blob, err := crypto.UnmarshalBlob(serialized)
	if err != nil {
		return err
	}
	plain, err := r.engine.Decrypt(blob)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}

func (r *Records) openIdentity(sealed string) (*repository.Identity, error) {
	var ident repository.Identity
	if err := r.open(sealed, &ident); err != nil {
		return nil, fmt.Errorf("open identity: %w", err)
	}
	return &ident, nil
}

func (r *Records) openRegistration(sealed string) (*repository.CredentialRegistration, error) {
	var reg repository.CredentialRegistration
	if err := r.open(sealed, &reg); err != nil {
		return nil, fmt.Errorf("open credential: %w", err)
	}
	return &reg, nil
}
