// Package tokens emite y verifica access tokens RS256 firmados con la
// clave ACTIVE del ciclo de vida.
package tokens

import (
	"context"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/keywarden/internal/keys"
)

// Issuer firma tokens usando la clave activa persistida. No cachea material
// privado: cada firma lee el estado actual, así varias instancias que
// comparten storage quedan consistentes sin coordinarse.
type Issuer struct {
	Iss       string
	Keys      *keys.Service
	AccessTTL time.Duration
}

func NewIssuer(iss string, ks *keys.Service, accessTTL time.Duration) *Issuer {
	return &Issuer{Iss: iss, Keys: ks, AccessTTL: accessTTL}
}

// IssueAccess emite un access token para sub con claims estándar.
func (i *Issuer) IssueAccess(ctx context.Context, sub string, extra map[string]any) (string, time.Time, error) {
	kid, priv, err := i.Keys.ActiveSigner(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("active signer: %w", err)
	}

	now := time.Now().UTC()
	exp := now.Add(i.AccessTTL)
	claims := jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": sub,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(priv)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Keyfunc resuelve la pubkey por el 'kid' del header contra el key set
// publicable. Un kid ausente o ya purgado hace fallar la verificación.
func (i *Issuer) Keyfunc(ctx context.Context) jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("kid header ausente")
		}
		return i.Keys.PublicKeyByKID(ctx, kid)
	}
}

// Verify parsea y valida un token emitido por este issuer.
func (i *Issuer) Verify(ctx context.Context, raw string) (jwtv5.MapClaims, error) {
	claims := jwtv5.MapClaims{}
	_, err := jwtv5.ParseWithClaims(raw, claims, i.Keyfunc(ctx),
		jwtv5.WithValidMethods([]string{"RS256"}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
