package passkeys

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
)

// user adapta Identity + credenciales al contrato webauthn.User.
// La librería FIDO2 es caja negra: solo le damos capacidad de lookup.
type user struct {
	identity    repository.Identity
	credentials []repository.CredentialRegistration
}

func (u *user) WebAuthnID() []byte          { return []byte(u.identity.UserHandle) }
func (u *user) WebAuthnName() string        { return u.identity.Username }
func (u *user) WebAuthnDisplayName() string { return u.identity.DisplayName }

func (u *user) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.credentials))
	for _, c := range u.credentials {
		transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
		for _, t := range c.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		out = append(out, webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       transports,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignatureCounter,
			},
		})
	}
	return out
}
