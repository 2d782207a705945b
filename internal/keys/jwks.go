package keys

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
)

// JWKS construye el key set publicado: una entrada RSA por clave
// no-DELETED. Las RETIRED siguen ahí hasta su purge para que los tokens
// que firmaron sigan verificando.
func (s *Service) JWKS(ctx context.Context) (*repository.JWKS, error) {
	rows, err := s.repo.ListPublishable(ctx)
	if err != nil {
		return nil, err
	}
	set := &repository.JWKS{Keys: make([]repository.JWK, 0, len(rows))}
	for _, row := range rows {
		pub, err := parsePublicPEM(row.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, repository.JWK{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			KID: row.KID,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return set, nil
}

// JWKSJSON serializa el key set para el endpoint.
func (s *Service) JWKSJSON(ctx context.Context) ([]byte, error) {
	set, err := s.JWKS(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(set)
}
