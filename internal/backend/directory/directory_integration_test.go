//go:build integration

package directory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/bpmgate/internal/backend/directory"
	"github.com/aussiebroadwan/bpmgate/internal/identity"
)

const (
	openLDAPImage = "osixia/openldap:1.5.0"
	adminDN       = "cn=admin,dc=example,dc=org"
	adminPassword = "admin"
)

// startOpenLDAP runs a throwaway directory and returns its URL.
func startOpenLDAP(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        openLDAPImage,
		ExposedPorts: []string{"389/tcp"},
		Env: map[string]string{
			"LDAP_ORGANISATION":   "Example",
			"LDAP_DOMAIN":         "example.org",
			"LDAP_ADMIN_PASSWORD": adminPassword,
			"LDAP_TLS":            "false",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("slapd starting"),
			wait.ForListeningPort("389/tcp"),
		).WithDeadline(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "389")
	require.NoError(t, err)

	return fmt.Sprintf("ldap://%s:%s", host, port.Port())
}

// seed creates ou=people and one user with the given password.
func seed(t *testing.T, url, uid, password string) string {
	t.Helper()

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

	dn := "uid=" + uid + ",ou=people,dc=example,dc=org"
	user := ldap.NewAddRequest(dn, nil)
	user.Attribute("objectClass", []string{"inetOrgPerson"})
	user.Attribute("uid", []string{uid})
	user.Attribute("cn", []string{"Mary Major"})
	user.Attribute("sn", []string{"Major"})
	user.Attribute("mail", []string{uid + "@example.org"})
	user.Attribute("userPassword", []string{password})
	require.NoError(t, conn.Add(user))
	return dn
}

func TestOpenLDAP(t *testing.T) {
	url := startOpenLDAP(t)
	dn := seed(t, url, "mary", "s3cret")
	ctx := context.Background()

	b, err := directory.New(directory.Config{
		URL:          url,
		BindDN:       adminDN,
		BindPassword: adminPassword,
		BaseDN:       "dc=example,dc=org",
	})
	require.NoError(t, err)

	id, err := b.Login(ctx, identity.LoginRequest{Username: "mary", Password: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, "Mary Major", id.DisplayName)

	_, err = b.Login(ctx, identity.LoginRequest{Username: "mary", Password: "wrong"})
	require.Equal(t, identity.KindAuthentication, identity.KindOf(err))

	// modifyTimestamp has one second resolution.
	id.AuthTime = time.Now().Add(time.Second)
	_, err = b.Verify(ctx, id)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)
	admin, err := ldap.DialURL(url)
	require.NoError(t, err)
	defer admin.Close()
	require.NoError(t, admin.Bind(adminDN, adminPassword))
	mod := ldap.NewModifyRequest(dn, nil)
	mod.Replace("mail", []string{"mary.major@example.org"})
	require.NoError(t, admin.Modify(mod))

	_, err = b.Verify(ctx, id)
	require.Equal(t, identity.KindAuthentication, identity.KindOf(err))
}
