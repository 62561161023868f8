package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	for name, size := range map[string]int{
		"state": TokenSize128,
		"nonce": TokenSize256,
	} {
		t.Run(name, func(t *testing.T) {
			token, err := GenerateToken(size)
			require.NoError(t, err)

			raw, err := base64.RawURLEncoding.DecodeString(token)
			require.NoError(t, err)
			require.Len(t, raw, size)

			other, err := GenerateToken(size)
			require.NoError(t, err)
			require.NotEqual(t, token, other)
		})
	}
}

func TestGenerateTokenRejectsSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}

func TestFingerprintToken(t *testing.T) {
	a := FingerprintToken("eyJhbGciOiJIUzI1NiJ9.a.b")
	require.Equal(t, a, FingerprintToken("eyJhbGciOiJIUzI1NiJ9.a.b"))
	require.NotEqual(t, a, FingerprintToken("eyJhbGciOiJIUzI1NiJ9.a.c"))
	require.Len(t, a, 43)
	require.NotContains(t, a, "eyJ")
}

func TestGeneratedStatesAreDistinct(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for range 100 {
		token, err := GenerateToken(TokenSize128)
		require.NoError(t, err)
		require.NotContains(t, seen, token)
		seen[token] = struct{}{}
	}
}
