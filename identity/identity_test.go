package identity_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-attendance-server/identity"
	"github.com/stretchr/testify/require"
)

const secret = "correct-horse-battery-staple"

func TestParseRole(t *testing.T) {
	for in, want := range map[string]identity.Role{
		"FACULTY":       identity.RoleFaculty,
		"student":       identity.RoleStudent,
		" ROLE_faculty": identity.RoleFaculty,
	} {
		got, err := identity.ParseRole(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := identity.ParseRole("ADMIN")
	require.Error(t, err)
}

func TestContext(t *testing.T) {
	_, ok := identity.FromContext(context.Background())
	require.False(t, ok)

	p := &identity.Principal{UserID: "u1", Role: identity.RoleStudent}
	got, ok := identity.FromContext(identity.NewContext(context.Background(), p))
	require.True(t, ok)
	require.Equal(t, p, got)
	require.True(t, got.Is(identity.RoleStudent))
	require.False(t, got.Is(identity.RoleFaculty))
}

func TestHMACSigner_RoundTrip(t *testing.T) {
	signer, err := identity.NewHMACSigner(secret, identity.WithIssuer("campus"))
	require.NoError(t, err)

	token, err := signer.Issue(identity.Principal{UserID: "fac-1", Role: identity.RoleFaculty}, time.Hour)
	require.NoError(t, err)

	p, err := signer.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "fac-1", p.UserID)
	require.Equal(t, identity.RoleFaculty, p.Role)
}

func TestHMACSigner_Rejects(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	signer, err := identity.NewHMACSigner(secret, identity.WithIssuer("campus"))
	require.NoError(t, err)

	t.Run("short secret", func(t *testing.T) {
		_, err := identity.NewHMACSigner("short")
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		past, err := identity.NewHMACSigner(secret, identity.WithIssuer("campus"),
			identity.WithNowTime(func() time.Time { return now.Add(-2 * time.Hour) }))
		require.NoError(t, err)
		token, err := past.Issue(identity.Principal{UserID: "u", Role: identity.RoleStudent}, time.Hour)
		require.NoError(t, err)
		_, err = signer.Verify(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := identity.NewHMACSigner("another-secret-of-length", identity.WithIssuer("campus"))
		require.NoError(t, err)
		token, err := other.Issue(identity.Principal{UserID: "u", Role: identity.RoleStudent}, time.Hour)
		require.NoError(t, err)
		_, err = signer.Verify(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := identity.NewHMACSigner(secret, identity.WithIssuer("elsewhere"))
		require.NoError(t, err)
		token, err := other.Issue(identity.Principal{UserID: "u", Role: identity.RoleStudent}, time.Hour)
		require.NoError(t, err)
		_, err = signer.Verify(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("alg none", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"sub": "u", "role": "FACULTY", "iss": "campus", "exp": now.Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = signer.Verify(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u", "role": "ADMIN", "iss": "campus", "exp": now.Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		_, err = signer.Verify(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := signer.Issue(identity.Principal{Role: identity.RoleStudent}, time.Hour)
		require.NoError(t, err)
		_, err = signer.Verify(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := signer.Verify(ctx, "not.a.jwt")
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})
}

func TestOIDCVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	const issuer = "https://idp.example.edu"
	const clientID = "attendance"
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := identity.NewOIDCVerifierWithKeySet(issuer, clientID, keySet)

	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss": issuer,
			"aud": clientID,
			"sub": "stu-42",
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
	}
	ctx := context.Background()

	t.Run("role claim", func(t *testing.T) {
		c := base()
		c["role"] = "STUDENT"
		p, err := verifier.Verify(ctx, sign(c))
		require.NoError(t, err)
		require.Equal(t, "stu-42", p.UserID)
		require.Equal(t, identity.RoleStudent, p.Role)
	})

	t.Run("roles array", func(t *testing.T) {
		c := base()
		c["roles"] = []string{"offline_access", "faculty"}
		p, err := verifier.Verify(ctx, sign(c))
		require.NoError(t, err)
		require.Equal(t, identity.RoleFaculty, p.Role)
	})

	t.Run("wrong audience", func(t *testing.T) {
		c := base()
		c["aud"] = "someone-else"
		c["role"] = "STUDENT"
		_, err := verifier.Verify(ctx, sign(c))
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("no role", func(t *testing.T) {
		_, err := verifier.Verify(ctx, sign(base()))
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("chain falls through to oidc", func(t *testing.T) {
		hmac, err := identity.NewHMACSigner(secret)
		require.NoError(t, err)
		c := base()
		c["role"] = "STUDENT"

		p, err := identity.Chain{hmac, verifier}.Verify(ctx, sign(c))
		require.NoError(t, err)
		require.Equal(t, "stu-42", p.UserID)

		_, err = identity.Chain{}.Verify(ctx, "x")
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})
}
