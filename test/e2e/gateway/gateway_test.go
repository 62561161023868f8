//go:build e2e

package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/bpmgate/internal/gateway/app"
	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/authsdk"
)

/*
 * End-to-end tests of a gateway backed by a real OpenLDAP directory, and of
 * a satellite gateway delegating to it through the generic backend.
 */

const (
	openLDAPImage = "osixia/openldap:1.5.0"
	adminDN       = "cn=admin,dc=example,dc=org"
	adminPassword = "admin"

	tokenSecret  = "e2e-token-secret-0123456789abcdef"
	userPassword = "Mary123!"
)

// setupDirectory starts OpenLDAP with ou=people and the user mary.
func setupDirectory(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        openLDAPImage,
			ExposedPorts: []string{"389/tcp"},
			Env: map[string]string{
				"LDAP_ORGANISATION":   "Example",
				"LDAP_DOMAIN":         "example.org",
				"LDAP_ADMIN_PASSWORD": adminPassword,
				"LDAP_TLS":            "false",
			},
			WaitingFor: wait.ForListeningPort("389/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "389")
	require.NoError(t, err)
	url := fmt.Sprintf("ldap://%s:%s", host, port.Port())

	var conn *ldap.Conn
	require.Eventually(t, func() bool {
		c, err := ldap.DialURL(url)
		if err != nil {
			return false
		}
		if err := c.Bind(adminDN, adminPassword); err != nil {
			_ = c.Close()
			return false
		}
		conn = c
		return true
	}, 30*time.Second, 500*time.Millisecond)
	defer conn.Close()

	ou := ldap.NewAddRequest("ou=people,dc=example,dc=org", nil)
	ou.Attribute("objectClass", []string{"organizationalUnit"})
	ou.Attribute("ou", []string{"people"})
	require.NoError(t, conn.Add(ou))

	user := ldap.NewAddRequest("uid=mary,ou=people,dc=example,dc=org", nil)
	user.Attribute("objectClass", []string{"inetOrgPerson"})
	user.Attribute("uid", []string{"mary"})
	user.Attribute("cn", []string{"Mary Major"})
	user.Attribute("sn", []string{"Major"})
	user.Attribute("mail", []string{"mary@example.org"})
	user.Attribute("userPassword", []string{userPassword})
	require.NoError(t, conn.Add(user))

	return url
}

// startGateway runs a gateway in-process with cfg and returns its URL.
func startGateway(t *testing.T, mutate func(*app.Config)) string {
	t.Helper()
	t.Setenv("GATEWAY_TOKEN_SECRET", tokenSecret)
	t.Setenv("LOG_LEVEL", "warn")

	cfg := app.LoadConfig()
	mutate(&cfg)

	gw, err := app.New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestDirectoryGateway(t *testing.T) {
	ldapURL := setupDirectory(t)
	baseURL := startGateway(t, func(cfg *app.Config) {
		cfg.Backend = identity.TypeLDAP
		cfg.AnonymousUser = "guest"
		cfg.LDAP.URL = ldapURL
		cfg.LDAP.BindDN = adminDN
		cfg.LDAP.BindPassword = adminPassword
		cfg.LDAP.BaseDN = "dc=example,dc=org"
	})
	client := authsdk.NewSDKClient(baseURL)

	t.Run("password login", func(t *testing.T) {
		sess, resp, err := client.AuthenticateWithPassword(t.Context(), "mary", userPassword)
		require.NoError(t, err)
		require.Equal(t, "Mary Major", resp.Identity.DisplayName)
		require.Equal(t, identity.TypeLDAP, resp.Identity.Type)

		me, err := sess.Me(t.Context())
		require.NoError(t, err)
		require.Equal(t, "mary@example.org", me.Email)

		verified, err := sess.Verify(t.Context())
		require.NoError(t, err)
		require.Equal(t, "mary", verified.UserID)

		_, err = sess.Logout(t.Context())
		require.NoError(t, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := client.AuthenticateWithPassword(t.Context(), "mary", "nope")
		require.Equal(t, http.StatusUnauthorized, authsdk.StatusCode(err))
	})

	t.Run("basic credentials on a protected endpoint", func(t *testing.T) {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, baseURL+"/v1/auth/me", nil)
		require.NoError(t, err)
		req.SetBasicAuth("mary", userPassword)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("anonymous", func(t *testing.T) {
		resp, err := client.LoginAnonymous(t.Context())
		require.NoError(t, err)
		require.True(t, resp.Identity.Anonymous)
	})
}

func TestSatelliteGateway(t *testing.T) {
	ldapURL := setupDirectory(t)
	central := startGateway(t, func(cfg *app.Config) {
		cfg.Backend = identity.TypeLDAP
		cfg.LDAP.URL = ldapURL
		cfg.LDAP.BindDN = adminDN
		cfg.LDAP.BindPassword = adminPassword
		cfg.LDAP.BaseDN = "dc=example,dc=org"
	})
	satellite := startGateway(t, func(cfg *app.Config) {
		cfg.Backend = identity.TypeGeneric
		cfg.Upstream.BaseURL = central
	})

	sess, resp, err := authsdk.NewSDKClient(satellite).AuthenticateWithPassword(t.Context(), "mary", userPassword)
	require.NoError(t, err)
	require.Equal(t, identity.TypeGeneric, resp.Identity.Type)

	verified, err := sess.Verify(t.Context())
	require.NoError(t, err)
	require.Equal(t, "mary", verified.UserID)

	// The satellite's bearer is not valid at the central gateway.
	_, err = authsdk.NewSDKClient(central).NewSession(sess.Token()).Verify(t.Context())
	require.Equal(t, http.StatusUnauthorized, authsdk.StatusCode(err))
}
