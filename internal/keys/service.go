// Package keys administra el ciclo de vida de las claves de firma:
// generación, promoción, retiro, purge y publicación del key set.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/keywarden/internal/crypto"
	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	"github.com/dropDatabas3/keywarden/internal/metrics"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
	"github.com/dropDatabas3/keywarden/internal/security/keeper"
)

// Options parametriza el ciclo de vida. Todas las duraciones vienen ya
// validadas por config.
type Options struct {
	RotationInterval time.Duration
	GracePeriod      time.Duration
	RetentionPeriod  time.Duration
	KeySizeBits      int
	KIDPrefix        string
}

// Service opera sobre el repositorio de claves. El material privado se
// cifra con el engine híbrido y se sella con el keeper antes de persistir.
type Service struct {
	repo   repository.KeyRepository
	engine *crypto.Engine
	keeper *keeper.Keeper
	opts   Options

	// now es inyectable en tests
	now func() time.Time
}

func NewService(repo repository.KeyRepository, engine *crypto.Engine, kp *keeper.Keeper, opts Options) *Service {
	return &Service{repo: repo, engine: engine, keeper: kp, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// Generate crea un par RSA nuevo en estado PENDING y registra GENERATED.
func (s *Service) Generate(ctx context.Context) (*repository.SigningKey, error) {
	now := s.now()

	priv, err := rsa.GenerateKey(rand.Reader, s.opts.KeySizeBits)
	if err != nil {
		return nil, fmt.Errorf("rsa keygen: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: mustMarshalPKCS8(priv),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	sealed, err := s.sealPrivate(privPEM)
	if err != nil {
		return nil, err
	}

	key := &repository.SigningKey{
		KID:                 fmt.Sprintf("%s-%s", s.opts.KIDPrefix, uuid.NewString()),
		EncryptedPrivateKey: sealed,
		PublicKeyPEM:        string(pubPEM),
		Algorithm:           "RS256",
		KeySizeBits:         s.opts.KeySizeBits,
		Status:              repository.KeyStatusPending,
		CreatedAt:           now,
		Metadata:            map[string]string{"key_size": strconv.Itoa(s.opts.KeySizeBits)},
	}
	entry := &repository.AuditEntry{
		ID:        uuid.NewString(),
		KeyID:     key.KID,
		Event:     repository.KeyEventGenerated,
		Timestamp: now,
	}
	if err := s.repo.Insert(ctx, key, entry); err != nil {
		return nil, err
	}
	metrics.KeyTransitions.WithLabelValues(string(repository.KeyEventGenerated)).Inc()
	return key, nil
}

// ActiveSigner devuelve el kid y la clave privada descifrada de la ACTIVE.
// Los request paths solo leen estado persistido, nunca memoria del scheduler.
func (s *Service) ActiveSigner(ctx context.Context) (string, *rsa.PrivateKey, error) {
	key, err := s.repo.GetActive(ctx)
	if err != nil {
		return "", nil, err
	}
	priv, err := s.openPrivate(key.EncryptedPrivateKey)
	if err != nil {
		return "", nil, fmt.Errorf("open private key %s: %w", key.KID, err)
	}
	return key.KID, priv, nil
}

// PublicKeyByKID resuelve la clave pública de una clave publicable.
func (s *Service) PublicKeyByKID(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, err := s.repo.GetByKID(ctx, kid)
	if err != nil {
		return nil, err
	}
	if key.Status == repository.KeyStatusDeleted {
		return nil, repository.ErrNotFound
	}
	return parsePublicPEM(key.PublicKeyPEM)
}

// ManualRotate fuerza el retiro inmediato de la ACTIVE (MANUAL_ROTATION)
// y garantiza que exista una PENDING de reemplazo. No pisa una PENDING ya
// en vuelo ni viola single-ACTIVE.
func (s *Service) ManualRotate(ctx context.Context) error {
	log := logger.Named("keys").With(logger.Op("ManualRotate"))
	now := s.now()

	active, err := s.repo.GetActive(ctx)
	switch {
	case err == nil:
		err = s.repo.Retire(ctx, active.KID, now, s.opts.RetentionPeriod, repository.KeyEventManualRotation)
		if err != nil && !errors.Is(err, repository.ErrConflict) {
			return err
		}
		if err == nil {
			metrics.KeyTransitions.WithLabelValues(string(repository.KeyEventManualRotation)).Inc()
			log.Info("active key retired", logger.KID(active.KID))
		}
	case errors.Is(err, repository.ErrNotFound):
		// nada que retirar
	default:
		return err
	}

	if _, err := s.repo.GetPending(ctx); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	key, err := s.Generate(ctx)
	if err != nil {
		return err
	}
	log.Info("replacement generated", logger.KID(key.KID))
	return nil
}

// ListAll expone todas las claves (admin), sin material privado.
func (s *Service) ListAll(ctx context.Context) ([]repository.SigningKey, error) {
	return s.repo.ListAll(ctx)
}

// Audit expone el audit log (admin).
func (s *Service) Audit(ctx context.Context, keyID string, limit int) ([]repository.AuditEntry, error) {
	return s.repo.ListAudit(ctx, keyID, limit)
}

// ─── Sellado del material privado ───

func (s *Service) sealPrivate(privPEM []byte) (string, error) {
	blob, err := s.engine.Encrypt(privPEM)
	if err != nil {
		return "", err
	}
	serialized, err := crypto.MarshalBlob(blob)
	if err != nil {
		return "", err
	}
	return s.keeper.Seal(serialized)
}

func (s *Service) openPrivate(sealed string) (*rsa.PrivateKey, error) {
	serialized, err := s.keeper.Open(sealed)
	if err != nil {
		return nil, err
	}
	blob, err := crypto.UnmarshalBlob(serialized)
	if err != nil {
		return nil, err
	}
	privPEM, err := s.engine.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, errors.New("private key PEM inválido")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs8: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("la clave privada no es RSA")
	}
	return priv, nil
}

func parsePublicPEM(pubPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil {
		return nil, errors.New("public key PEM inválido")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkix: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("la clave pública no es RSA")
	}
	return pub, nil
}

func mustMarshalPKCS8(priv *rsa.PrivateKey) []byte {
	b, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		// MarshalPKCS8PrivateKey no falla para *rsa.PrivateKey válidas
		panic(err)
	}
	return b
}
