package identity_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/stretchr/testify/require"
)

func TestIdentityTaggedUnion(t *testing.T) {
	in := identity.Identity{
		Type:         identity.TypeSSO,
		UserID:       "sub-42",
		DisplayName:  "Ada",
		RefreshToken: "rt",
		AuthTime:     time.Unix(1700000000, 0).UTC(),
		Profile:      identity.OIDCProfile{Subject: "sub-42", Issuer: "https://idp", Groups: []string{"ops"}},
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "sso",
		"user_id": "sub-42",
		"display_name": "Ada",
		"refresh_token": "rt",
		"auth_time": 1700000000,
		"profile": {"sub": "sub-42", "iss": "https://idp", "groups": ["ops"]}
	}`, string(raw))

	var out identity.Identity
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, in, out)
}

func TestIdentityRejectsUnknownType(t *testing.T) {
	var id identity.Identity
	err := json.Unmarshal([]byte(`{"type":"kerberos","user_id":"x"}`), &id)
	require.Error(t, err)
	require.Contains(t, err.Error(), "kerberos")

	_, err = json.Marshal(identity.Identity{Type: "kerberos", UserID: "x"})
	require.Error(t, err)
}

func TestIdentityRequiresUserID(t *testing.T) {
	var id identity.Identity
	require.Error(t, json.Unmarshal([]byte(`{"type":"ldap"}`), &id))
}

func TestIdentityRejectsMismatchedProfile(t *testing.T) {
	_, err := json.Marshal(identity.Identity{
		Type:    identity.TypeLDAP,
		UserID:  "x",
		Profile: identity.EngineProfile{},
	})
	require.Error(t, err)

	// ADFS shares the OIDC profile.
	_, err = json.Marshal(identity.Identity{
		Type:    identity.TypeADFS,
		UserID:  "x",
		Profile: identity.OIDCProfile{Subject: "x"},
	})
	require.NoError(t, err)
}

func TestIdentityPublic(t *testing.T) {
	id := identity.Identity{Type: identity.TypeSSO, UserID: "u1", RefreshToken: "secret"}

	pub := id.Public()
	require.Empty(t, pub.RefreshToken)
	require.Equal(t, "u1", pub.DisplayName)
	require.Equal(t, "secret", id.RefreshToken)

	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret")
}

func TestErrorHTTPStatus(t *testing.T) {
	cases := []struct {
		err  *identity.Error
		want int
	}{
		{identity.AuthenticationErr("op", "bad", nil), http.StatusUnauthorized},
		{identity.LoginErr("op", "bad", nil), http.StatusBadRequest},
		{identity.LoginErr("op", "missing", identity.ErrNotFound), http.StatusNotFound},
		{identity.SystemErr("op", "boom", nil), http.StatusInternalServerError},
		{identity.TimeoutErr("op", nil), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.err.HTTPStatus(), tc.err.Error())
	}
}

func TestWrapKeepsTypedErrors(t *testing.T) {
	auth := identity.AuthenticationErr("op", "bad", nil)
	require.Same(t, auth, identity.Wrap(auth, "outer", "ignored"))

	wrapped := identity.Wrap(http.ErrHandlerTimeout, "outer", "call failed")
	require.Equal(t, identity.KindSystem, identity.KindOf(wrapped))
	require.ErrorIs(t, wrapped, http.ErrHandlerTimeout)

	require.Nil(t, identity.Wrap(nil, "op", "msg"))
}
