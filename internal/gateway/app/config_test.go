package app_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bpmgate/internal/gateway/app"
	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/internal/sso"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN_SECRET", testSecret)

	cfg := app.LoadConfig()
	require.Equal(t, identity.TypeEngine, cfg.Backend)
	require.Equal(t, identity.DefaultTokenValidity, cfg.TokenValidity)
	require.Equal(t, identity.DefaultProlongWindow, cfg.ProlongWindow)
	require.Equal(t, 10*time.Second, cfg.OutboundTimeout)
	require.Equal(t, "http://localhost:8080", cfg.Engine.Defaults.BaseURL)
	require.Equal(t, "/engine-rest", cfg.Engine.Defaults.RestPath)
	require.Equal(t, []string{"openid", "profile", "email"}, cfg.SSO.Scopes)
	require.Equal(t, 8080, cfg.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN_SECRET", testSecret)
	t.Setenv("GATEWAY_BACKEND", "ADFS")
	t.Setenv("GATEWAY_TOKEN_VALIDITY", "15") // integer minutes
	t.Setenv("GATEWAY_PROLONG_WINDOW", "2h")
	t.Setenv("GATEWAY_OUTBOUND_TIMEOUT", "3s")
	t.Setenv("SSO_CLIENT_ID", "gateway")
	t.Setenv("SSO_TOKEN_URL", "https://adfs.example.org/adfs/oauth2/token")
	t.Setenv("SSO_JWKS_URL", "https://adfs.example.org/adfs/discovery/keys")
	t.Setenv("SSO_SCOPES", "openid,allatclaims")
	t.Setenv("SSO_NONCE_BEARER", "access")
	t.Setenv("LDAP_FOLLOW_REFERRALS", "not-a-bool")
	t.Setenv("ENGINE_ALLOWED", "http://bpm-a:8080|/engine-rest, http://bpm-b:8080|/rest")

	cfg := app.LoadConfig()
	require.Equal(t, identity.TypeADFS, cfg.Backend)
	require.Equal(t, 15*time.Minute, cfg.TokenValidity)
	require.Equal(t, 2*time.Hour, cfg.ProlongWindow)
	require.Equal(t, 3*time.Second, cfg.Engine.Timeout)
	require.Equal(t, []string{"openid", "allatclaims"}, cfg.SSO.Scopes)
	require.Equal(t, sso.NonceInAccessToken, cfg.SSO.NonceBearer)
	require.True(t, cfg.OIDC.InlineClaims, "adfs defaults to inline claims")
	require.False(t, cfg.LDAP.FollowReferrals)
	require.Equal(t, []string{"http://bpm-a:8080|/engine-rest", "http://bpm-b:8080|/rest"}, cfg.Engine.Defaults.Allowed)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN_SECRET", testSecret)
	base := app.LoadConfig()

	tests := []struct {
		name   string
		mutate func(*app.Config)
		want   string
	}{
		{"short secret", func(c *app.Config) { c.TokenSecret = "short" }, "GATEWAY_TOKEN_SECRET"},
		{"unknown backend", func(c *app.Config) { c.Backend = "kerberos" }, "unknown GATEWAY_BACKEND"},
		{"ldap without url", func(c *app.Config) { c.Backend = identity.TypeLDAP }, "url is required"},
		{"sso without keys", func(c *app.Config) {
			c.Backend = identity.TypeSSO
			c.SSO.ClientID, c.SSO.TokenURL = "gateway", "https://idp.test/token"
		}, "SSO_JWKS_URL"},
		{"generic without upstream", func(c *app.Config) { c.Backend = identity.TypeGeneric }, "UPSTREAM_URL"},
		{"negative prolong window", func(c *app.Config) { c.ProlongWindow = -time.Minute }, "GATEWAY_PROLONG_WINDOW"},
		{"port out of range", func(c *app.Config) { c.Port = 70000 }, "PORT"},
		{"malformed trusted proxy", func(c *app.Config) { c.TrustedProxies = "10.0.0.0/8, lb.internal" }, "GATEWAY_TRUSTED_PROXIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
