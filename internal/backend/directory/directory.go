// Package directory is the LDAP identity backend. Passwords are proven by
// binding as the user; nothing is compared or stored locally.
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
	"github.com/go-ldap/ldap/v3"
)

// Config holds the directory connection and schema settings.
type Config struct {
	URL          string // ldap://host:389 or ldaps://host:636
	BindDN       string // service principal, full DN
	BindPassword string
	BaseDN       string

	// UserFilter locates a user by login name; %s is replaced by the
	// escaped name.
	UserFilter string

	// UserDNPattern, when set, builds the user DN directly and skips the
	// search, e.g. "uid=%s,ou=people,dc=example,dc=org".
	UserDNPattern string

	UserIDAttr      string
	DisplayNameAttr string
	EmailAttr       string
	GroupAttr       string
	ModifiedAttr    string

	FollowReferrals bool
	SizeLimit       int
	Timeout         time.Duration

	StartTLS           bool
	InsecureSkipVerify bool
}

func (c *Config) setDefaults() {
	if c.UserFilter == "" {
		c.UserFilter = "(uid=%s)"
	}
	if c.UserIDAttr == "" {
		c.UserIDAttr = "uid"
	}
	if c.DisplayNameAttr == "" {
		c.DisplayNameAttr = "cn"
	}
	if c.EmailAttr == "" {
		c.EmailAttr = "mail"
	}
	if c.GroupAttr == "" {
		c.GroupAttr = "memberOf"
	}
	if c.ModifiedAttr == "" {
		c.ModifiedAttr = "modifyTimestamp"
	}
	if c.SizeLimit <= 0 {
		c.SizeLimit = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate reports missing mandatory settings.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("directory: url is required")
	}
	if c.BaseDN == "" && c.UserDNPattern == "" {
		return errors.New("directory: base dn or user dn pattern is required")
	}
	if c.UserDNPattern != "" && strings.Count(c.UserDNPattern, "%s") != 1 {
		return errors.New("directory: user dn pattern must contain exactly one %s")
	}
	return nil
}

// Conn is the part of an LDAP connection the backend uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Dialer opens a connection to an LDAP URL.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

// Backend authenticates users against the directory.
type Backend struct {
	cfg     Config
	dial    Dialer
	observe func(target string, d time.Duration)
}

// Option customises a Backend.
type Option func(*Backend)

// WithDialer replaces the network dialer. Tests use an in-memory directory.
func WithDialer(d Dialer) Option {
	return func(b *Backend) { b.dial = d }
}

// WithLatencyObserver reports how long each directory connection was in use.
func WithLatencyObserver(fn func(target string, d time.Duration)) Option {
	return func(b *Backend) { b.observe = fn }
}

// New creates a directory backend.
func New(cfg Config, opts ...Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	b := &Backend{cfg: cfg, observe: func(string, time.Duration) {}}
	b.dial = b.dialNetwork
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Type() string { return identity.TypeLDAP }

func (b *Backend) TokenPolicy() identity.TokenPolicy {
	return identity.TokenPolicy{Verify: false, Prolongable: true}
}

func (b *Backend) LoginParams(context.Context, identity.LoginParamsRequest) (identity.LoginParams, error) {
	return identity.PasswordLoginParams(), nil
}

func (b *Backend) Logout(context.Context, identity.Identity) (identity.LogoutResult, error) {
	return identity.LogoutResult{}, nil
}

// Login binds as the user. The service account is only used to find the
// user's DN when no DN pattern is configured.
func (b *Backend) Login(ctx context.Context, req identity.LoginRequest) (identity.Identity, error) {
	const op = "ldap.login"
	if req.Password == "" {
		// An empty password would be an unauthenticated bind, which most
		// directories accept.
		return identity.Identity{}, identity.LoginErr(op, "password is required", nil)
	}

	conn, err := b.open(ctx, op, b.cfg.URL)
	if err != nil {
		return identity.Identity{}, err
	}
	defer conn.Close()

	dn := ""
	userConn := conn
	if b.cfg.UserDNPattern != "" {
		dn = fmt.Sprintf(b.cfg.UserDNPattern, ldap.EscapeDN(req.Username))
	} else {
		if err := b.serviceBind(op, conn); err != nil {
			return identity.Identity{}, err
		}
		found, err := b.findUser(ctx, op, conn, req.Username)
		if err != nil {
			return identity.Identity{}, err
		}
		dn = found.DN

		// An entry found through a referral lives on the referred server,
		// the user must bind there.
		if found.server != "" {
			referred, err := b.open(ctx, op, found.server)
			if err != nil {
				return identity.Identity{}, err
			}
			defer referred.Close()
			userConn = referred
		}
	}

	if err := userConn.Bind(dn, req.Password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return identity.Identity{}, identity.AuthenticationErr(op, "invalid credentials", nil)
		}
		return identity.Identity{}, ldapErr(op, "user bind failed", err)
	}

	entry, err := b.lookupDN(ctx, op, userConn, dn)
	if err != nil {
		return identity.Identity{}, err
	}

	slogx.FromContext(ctx).Debug("directory login", "dn", dn)
	return b.toIdentity(entry, req.Username), nil
}

// Verify re-reads the entry with the service account and rejects the
// identity when the entry changed after the user last logged in.
func (b *Backend) Verify(ctx context.Context, id identity.Identity) (identity.Identity, error) {
	const op = "ldap.verify"

	entry, err := b.serviceLookup(ctx, op, id)
	if err != nil {
		return identity.Identity{}, err
	}

	if raw := entry.GetAttributeValue(b.cfg.ModifiedAttr); raw != "" {
		modified, err := ParseGeneralizedTime(raw)
		if err != nil {
			return identity.Identity{}, identity.SystemErr(op, "malformed modification timestamp", err)
		}
		if id.AuthTime.IsZero() || modified.After(id.AuthTime) {
			return identity.Identity{}, identity.AuthenticationErr(op, "directory entry changed since login", nil)
		}
	}

	fresh := b.toIdentity(entry, id.UserID)
	fresh.AuthTime = id.AuthTime
	return fresh, nil
}

// SelfInfo reads the current directory entry of the user.
func (b *Backend) SelfInfo(ctx context.Context, id identity.Identity) (identity.SelfInfo, error) {
	entry, err := b.serviceLookup(ctx, "ldap.self_info", id)
	if err != nil {
		return identity.SelfInfo{}, err
	}
	fresh := b.toIdentity(entry, id.UserID)
	fresh.AuthTime = id.AuthTime
	return identity.ProfileSelfInfo(fresh), nil
}

func (b *Backend) serviceLookup(ctx context.Context, op string, id identity.Identity) (*ldap.Entry, error) {
	conn, err := b.open(ctx, op, b.cfg.URL)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := b.serviceBind(op, conn); err != nil {
		return nil, err
	}

	if p, ok := id.Profile.(identity.LDAPProfile); ok && p.DN != "" {
		entry, err := b.lookupDN(ctx, op, conn, p.DN)
		if err == nil || !errors.Is(err, identity.ErrNotFound) {
			return entry, notFoundIsAuth(op, err)
		}
	}
	found, err := b.findUser(ctx, op, conn, id.UserID)
	if err != nil {
		return nil, notFoundIsAuth(op, err)
	}
	return found.Entry, nil
}

// notFoundIsAuth turns "user not found" into an authentication failure: an
// identity whose entry disappeared is no longer valid.
func notFoundIsAuth(op string, err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return identity.AuthenticationErr(op, "directory entry no longer exists", err)
	}
	return err
}

func (b *Backend) serviceBind(op string, conn Conn) error {
	if b.cfg.BindDN == "" {
		return nil
	}
	if err := conn.Bind(b.cfg.BindDN, b.cfg.BindPassword); err != nil {
		return ldapErr(op, "service bind failed", err)
	}
	return nil
}

func (b *Backend) attributes() []string {
	return []string{
		b.cfg.UserIDAttr,
		b.cfg.DisplayNameAttr,
		b.cfg.EmailAttr,
		b.cfg.GroupAttr,
		b.cfg.ModifiedAttr,
	}
}

// located is a search result together with the referred server holding
// it, empty for the configured server.
type located struct {
	*ldap.Entry
	server string
}

func (b *Backend) findUser(ctx context.Context, op string, conn Conn, username string) (located, error) {
	filter := fmt.Sprintf(b.cfg.UserFilter, ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		b.cfg.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		b.cfg.SizeLimit, int(b.cfg.Timeout.Seconds()), false,
		filter, b.attributes(), nil,
	)
	entries, err := b.search(ctx, op, conn, req)
	if err != nil {
		return located{}, err
	}
	switch len(entries) {
	case 0:
		return located{}, identity.LoginErr(op, "user not found", identity.ErrNotFound)
	case 1:
		return entries[0], nil
	default:
		return located{}, identity.LoginErr(op, "login name is ambiguous", nil)
	}
}

func (b *Backend) lookupDN(ctx context.Context, op string, conn Conn, dn string) (*ldap.Entry, error) {
	req := ldap.NewSearchRequest(
		dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, int(b.cfg.Timeout.Seconds()), false,
		"(objectClass=*)", b.attributes(), nil,
	)
	entries, err := b.search(ctx, op, conn, req)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, identity.LoginErr(op, "user not found", identity.ErrNotFound)
	}
	return entries[0].Entry, nil
}

// search runs req and, when configured, follows referrals one hop.
func (b *Backend) search(ctx context.Context, op string, conn Conn, req *ldap.SearchRequest) ([]located, error) {
	res, err := conn.Search(req)
	if err != nil {
		switch {
		case ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded):
			return nil, identity.LoginErr(op, "login name is ambiguous", nil)
		case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
			return nil, identity.LoginErr(op, "user not found", identity.ErrNotFound)
		}
		return nil, ldapErr(op, "directory search failed", err)
	}

	entries := make([]located, 0, len(res.Entries))
	for _, e := range res.Entries {
		entries = append(entries, located{Entry: e})
	}
	if !b.cfg.FollowReferrals {
		return entries, nil
	}
	for _, ref := range res.Referrals {
		server, more, err := b.followReferral(ctx, op, ref, req)
		if err != nil {
			slogx.FromContext(ctx).Warn("directory referral failed", "referral", ref, "err", err)
			continue
		}
		for _, e := range more {
			entries = append(entries, located{Entry: e, server: server})
		}
	}
	return entries, nil
}

func (b *Backend) followReferral(ctx context.Context, op, ref string, orig *ldap.SearchRequest) (string, []*ldap.Entry, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", nil, err
	}
	base := orig.BaseDN
	if dn := strings.TrimPrefix(u.Path, "/"); dn != "" {
		base = dn
	}
	server := u.Scheme + "://" + u.Host

	conn, err := b.open(ctx, op, server)
	if err != nil {
		return "", nil, err
	}
	defer conn.Close()
	if err := b.serviceBind(op, conn); err != nil {
		return "", nil, err
	}

	req := *orig
	req.BaseDN = base
	res, err := conn.Search(&req)
	if err != nil {
		return "", nil, ldapErr(op, "referral search failed", err)
	}
	// One hop only: referrals returned by the referred server are ignored.
	return server, res.Entries, nil
}

func (b *Backend) toIdentity(entry *ldap.Entry, fallbackID string) identity.Identity {
	userID := entry.GetAttributeValue(b.cfg.UserIDAttr)
	if userID == "" {
		userID = fallbackID
	}
	return identity.Identity{
		Type:        identity.TypeLDAP,
		UserID:      userID,
		DisplayName: entry.GetAttributeValue(b.cfg.DisplayNameAttr),
		Profile: identity.LDAPProfile{
			DN:     entry.DN,
			Email:  entry.GetAttributeValue(b.cfg.EmailAttr),
			Groups: entry.GetAttributeValues(b.cfg.GroupAttr),
		},
	}
}

// open dials rawURL and ties the connection's life to ctx so an aborted
// request abandons the directory call.
func (b *Backend) open(ctx context.Context, op, rawURL string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	conn, err := b.dial(ctx, rawURL)
	if err != nil {
		b.observe("ldap", time.Since(start))
		return nil, ldapErr(op, "directory unreachable", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return &ctxConn{Conn: conn, stop: stop, done: func() { b.observe("ldap", time.Since(start)) }}, nil
}

type ctxConn struct {
	Conn
	stop func() bool
	done func()
}

func (c *ctxConn) Close() error {
	c.stop()
	c.done()
	return c.Conn.Close()
}

func (b *Backend) dialNetwork(_ context.Context, rawURL string) (Conn, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: b.cfg.InsecureSkipVerify} //nolint:gosec // opt-in for lab directories
	conn, err := ldap.DialURL(rawURL,
		ldap.DialWithDialer(&net.Dialer{Timeout: b.cfg.Timeout}),
		ldap.DialWithTLSConfig(tlsCfg),
	)
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(b.cfg.Timeout)

	if b.cfg.StartTLS && strings.HasPrefix(rawURL, "ldap://") {
		if err := conn.StartTLS(tlsCfg); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// ldapErr maps transport failures to (timeout flagged) system errors.
func ldapErr(op, msg string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isLDAPTimeout(err) {
		return identity.TimeoutErr(op, err)
	}
	return identity.SystemErr(op, msg, err)
}

func isLDAPTimeout(err error) bool {
	if identity.IsTimeout(err) {
		return true
	}
	return ldap.IsErrorWithCode(err, ldap.ErrorNetwork) && strings.Contains(err.Error(), "timed out")
}

// ParseGeneralizedTime parses an LDAP GeneralizedTime value such as
// "20240131120000Z", "20240131120000.5Z" or "20240131120000+0100".
func ParseGeneralizedTime(s string) (time.Time, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	layouts := []string{
		"20060102150405Z0700",
		"200601021504Z0700",
		"2006010215Z0700",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("directory: invalid generalized time %q", s)
}
