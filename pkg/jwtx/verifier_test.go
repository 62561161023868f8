package jwtx_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/bpmgate/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "https://idp.example.com"

func staticKeys(t *testing.T, signers ...*jwtx.Signer) jwtx.StaticKeys {
	t.Helper()
	var set jwtx.JWKS
	for _, s := range signers {
		set.Keys = append(set.Keys, s.PublicJWK())
	}
	ks, err := jwtx.NewKeySet(set)
	require.NoError(t, err)
	return jwtx.StaticKeys{Set: ks}
}

func providerClaims(ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                exampleIssuer,
		"sub":                "user-123",
		"aud":                "gateway",
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
		"preferred_username": "jdoe",
		"groups":             []string{"admins", "ops"},
	}
}

func TestVerifierAcceptsProviderToken(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	token, err := signer.Sign(providerClaims(time.Minute))
	require.NoError(t, err)

	v := jwtx.NewVerifier(staticKeys(t, signer), jwtx.VerifyOptions{
		Issuer:   exampleIssuer,
		Audience: "gateway",
	})

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-123", jwtx.String(claims, "sub"))
	require.Equal(t, "jdoe", jwtx.String(claims, "preferred_username"))
	require.Equal(t, []string{"admins", "ops"}, jwtx.Strings(claims, "groups"))
	require.False(t, jwtx.Time(claims, "exp").IsZero())
}

func TestVerifierRejections(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	other := newTestSigner(t, "kid-2")

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := signer.Sign(providerClaims(time.Minute))
		require.NoError(t, err)

		v := jwtx.NewVerifier(staticKeys(t, signer), jwtx.VerifyOptions{Issuer: "https://other"})
		_, err = v.Verify(context.Background(), token)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})

	t.Run("wrong audience", func(t *testing.T) {
		token, err := signer.Sign(providerClaims(time.Minute))
		require.NoError(t, err)

		v := jwtx.NewVerifier(staticKeys(t, signer), jwtx.VerifyOptions{Audience: "someone-else"})
		_, err = v.Verify(context.Background(), token)
		require.ErrorIs(t, err, jwtx.ErrAudience)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := signer.Sign(providerClaims(-time.Minute))
		require.NoError(t, err)

		v := jwtx.NewVerifier(staticKeys(t, signer), jwtx.VerifyOptions{})
		_, err = v.Verify(context.Background(), token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("unknown key", func(t *testing.T) {
		token, err := other.Sign(providerClaims(time.Minute))
		require.NoError(t, err)

		v := jwtx.NewVerifier(staticKeys(t, signer), jwtx.VerifyOptions{})
		_, err = v.Verify(context.Background(), token)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("symmetric token", func(t *testing.T) {
		hs := jwt.NewWithClaims(jwt.SigningMethodHS256, providerClaims(time.Minute))
		token, err := hs.SignedString([]byte("0123456789abcdef0123456789abcdef"))
		require.NoError(t, err)

		v := jwtx.NewVerifier(staticKeys(t, signer), jwtx.VerifyOptions{})
		_, err = v.Verify(context.Background(), token)
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		v := jwtx.NewVerifier(staticKeys(t, signer), jwtx.VerifyOptions{})
		_, err := v.Verify(context.Background(), "not-a-token")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})
}

func TestLooksLikeJWT(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	token, err := signer.Sign(providerClaims(time.Minute))
	require.NoError(t, err)

	require.True(t, jwtx.LooksLikeJWT(token))
	require.False(t, jwtx.LooksLikeJWT("2YotnFZFEjr1zCsicMWpAA"))
	require.False(t, jwtx.LooksLikeJWT("a.b.c"))
}
