// Package identity turns bearer tokens into the caller's user ID and role.
package identity

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Role of an authenticated caller.
type Role string

const (
	RoleFaculty Role = "FACULTY"
	RoleStudent Role = "STUDENT"
)

// ErrInvalidToken is returned for any token that cannot be trusted.
var ErrInvalidToken = errors.New("invalid token")

// ParseRole accepts FACULTY or STUDENT in any case, with an optional ROLE_ prefix.
func ParseRole(s string) (Role, error) {
	r := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "ROLE_")
	switch Role(r) {
	case RoleFaculty, RoleStudent:
		return Role(r), nil
	default:
		return "", errors.Errorf("unknown role %q", s)
	}
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   Role
}

func (p *Principal) Is(role Role) bool {
	return p != nil && p.Role == role
}

type contextKey struct{}

// NewContext returns ctx carrying p.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by NewContext.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}

// Verifier authenticates a raw bearer token.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	if len(c) == 0 {
		return nil, errors.Wrap(ErrInvalidToken, "[identity.Chain] no verifiers configured")
	}
	var lastErr error
	for _, v := range c {
		p, err := v.Verify(ctx, rawToken)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
