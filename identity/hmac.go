package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims carried by tokens issued for this service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// HMACSigner issues and verifies HS256 tokens with a shared secret.
type HMACSigner struct {
	secret  []byte
	issuer  string
	nowTime func() time.Time
}

// HMACOption defines a function type to modify the HMACSigner instance.
type HMACOption func(*HMACSigner)

// WithIssuer sets the iss claim written and required on verification.
func WithIssuer(issuer string) HMACOption {
	return func(h *HMACSigner) { h.issuer = issuer }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) HMACOption {
	return func(h *HMACSigner) { h.nowTime = nowFunc }
}

func NewHMACSigner(secret string, options ...HMACOption) (*HMACSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("[identity.NewHMACSigner] secret must be at least 16 bytes")
	}
	h := &HMACSigner{secret: []byte(secret), nowTime: time.Now}
	for _, opt := range options {
		opt(h)
	}
	return h, nil
}

// Issue signs a token for p valid for ttl.
func (h *HMACSigner) Issue(p Principal, ttl time.Duration) (string, error) {
	now := h.nowTime()
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    h.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signed, nil
}

func (h *HMACSigner) verificationKey(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

// Verify checks signature, expiry and issuer, then extracts sub and role.
func (h *HMACSigner) Verify(_ context.Context, rawToken string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.nowTime),
	}
	if h.issuer != "" {
		opts = append(opts, jwt.WithIssuer(h.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(rawToken, &claims, h.verificationKey, opts...); err != nil {
		return nil, errors.Wrapf(ErrInvalidToken, "[HMACSigner.Verify] %v", err)
	}
	return principalFromClaims(claims.Subject, claims.Role)
}

func principalFromClaims(subject, role string) (*Principal, error) {
	if subject == "" {
		return nil, errors.Wrap(ErrInvalidToken, "missing sub claim")
	}
	r, err := ParseRole(role)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidToken, "%v", err)
	}
	return &Principal{UserID: subject, Role: r}, nil
}
