package identity

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// OIDCVerifier accepts ID tokens from an external identity provider. The role is read
// from a "role" claim, or the first recognised entry of a "roles" claim.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider's keys from issuer.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrapf(err, "[identity.NewOIDCVerifier] discover %s", issuer)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewOIDCVerifierWithKeySet builds a verifier over a fixed key set, without discovery.
func NewOIDCVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID})}
}

type roleClaims struct {
	Role  string   `json:"role"`
	Roles []string `json:"roles"`
}

func (o *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	idToken, err := o.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidToken, "[OIDCVerifier.Verify] %v", err)
	}

	var claims roleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrapf(ErrInvalidToken, "[OIDCVerifier.Verify] claims: %v", err)
	}

	role := claims.Role
	if role == "" {
		for _, r := range claims.Roles {
			if _, err := ParseRole(r); err == nil {
				role = r
				break
			}
		}
	}
	return principalFromClaims(idToken.Subject, role)
}
