package identity_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/stretchr/testify/require"
)

// fakeBackend accepts one user/password pair and records calls.
type fakeBackend struct {
	mu        sync.Mutex
	typ       string
	policy    identity.TokenPolicy
	user      string
	password  string
	engine    string
	verifyErr error
	logins    int
	verifies  int
	external  map[string]identity.Identity
}

func (b *fakeBackend) Type() string { return b.typ }

func (b *fakeBackend) Login(_ context.Context, req identity.LoginRequest) (identity.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logins++
	if req.Username != b.user || req.Password != b.password {
		return identity.Identity{}, identity.AuthenticationErr("fake.login", "invalid credentials", nil)
	}
	id := identity.Identity{Type: b.typ, UserID: req.Username}
	if b.engine != "" {
		ref, err := identity.ParseEngineRef(req.Engine, engineDefaults)
		if err != nil {
			return identity.Identity{}, err
		}
		id.Engine = ref.String()
	}
	return id, nil
}

func (b *fakeBackend) Verify(_ context.Context, id identity.Identity) (identity.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifies++
	if b.verifyErr != nil {
		return identity.Identity{}, b.verifyErr
	}
	return id, nil
}

func (b *fakeBackend) Logout(context.Context, identity.Identity) (identity.LogoutResult, error) {
	return identity.LogoutResult{RedirectURL: "https://idp/logout"}, nil
}

func (b *fakeBackend) SelfInfo(_ context.Context, id identity.Identity) (identity.SelfInfo, error) {
	return identity.SelfInfo{Identity: id, Email: id.UserID + "@example.org"}, nil
}

func (b *fakeBackend) LoginParams(context.Context, identity.LoginParamsRequest) (identity.LoginParams, error) {
	return identity.PasswordLoginParams(), nil
}

func (b *fakeBackend) TokenPolicy() identity.TokenPolicy { return b.policy }

// externalBackend additionally accepts third party bearers.
type externalBackend struct{ *fakeBackend }

func (b externalBackend) AuthenticateExternal(_ context.Context, bearer string) (identity.Identity, error) {
	id, ok := b.external[bearer]
	if !ok {
		return identity.Identity{}, identity.AuthenticationErr("fake.external", "unknown token", nil)
	}
	return id, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) AuthOutcome(backend, operation, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, backend+"/"+operation+"/"+outcome)
}

func newService(t *testing.T, backend identity.Backend, anonymous string) (*identity.Service, *clock, *recordingObserver) {
	t.Helper()
	clk := newClock()
	obs := &recordingObserver{}
	svc := identity.NewService(newCodec(t, clk), backend, identity.ServiceConfig{
		AnonymousUser: anonymous,
		Engines:       engineDefaults,
		Observer:      obs,
	})
	return svc, clk, obs
}

func bearerRequest(token, engine string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if engine != "" {
		r.Header.Set(identity.EngineHeader, engine)
	}
	return r
}

func TestServiceLoginAndAuthenticate(t *testing.T) {
	backend := &fakeBackend{typ: identity.TypeLDAP, user: "jdoe", password: "pw", policy: identity.TokenPolicy{Prolongable: true}}
	svc, clk, obs := newService(t, backend, "")

	sess, err := svc.Login(context.Background(), identity.LoginRequest{Username: "jdoe", Password: "pw"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	require.Equal(t, time.Hour, sess.ExpiresIn)
	require.Equal(t, "jdoe", sess.Identity.UserID)
	require.Equal(t, "jdoe", sess.Identity.DisplayName)
	require.Equal(t, clk.Now(), sess.Identity.AuthTime)

	res := svc.Authenticate(bearerRequest(sess.Token, ""), identity.AuthOptions{})
	require.Equal(t, identity.Valid, res.Outcome)
	require.Equal(t, "jdoe", res.Identity.UserID)
	require.Zero(t, backend.verifies)

	require.Contains(t, obs.events, "ldap/login/ok")
	require.Contains(t, obs.events, "ldap/authenticate.valid/ok")
}

func TestServiceLoginFailures(t *testing.T) {
	backend := &fakeBackend{typ: identity.TypeLDAP, user: "jdoe", password: "pw"}
	svc, _, _ := newService(t, backend, "")

	_, err := svc.Login(context.Background(), identity.LoginRequest{Username: "jdoe"})
	require.Equal(t, identity.KindLogin, identity.KindOf(err))
	require.Zero(t, backend.logins)

	_, err = svc.Login(context.Background(), identity.LoginRequest{Username: "jdoe", Password: "nope"})
	require.True(t, identity.IsAuthentication(err))

	_, err = svc.Login(context.Background(), identity.LoginRequest{Code: "abc"})
	require.Equal(t, identity.KindLogin, identity.KindOf(err))
}

func TestServiceProlongsExpiredBearer(t *testing.T) {
	backend := &fakeBackend{typ: identity.TypeLDAP, user: "jdoe", password: "pw", policy: identity.TokenPolicy{Prolongable: true}}
	svc, clk, _ := newService(t, backend, "")

	sess, err := svc.Login(context.Background(), identity.LoginRequest{Username: "jdoe", Password: "pw"})
	require.NoError(t, err)

	clk.Advance(90 * time.Minute)
	res := svc.Authenticate(bearerRequest(sess.Token, ""), identity.AuthOptions{})
	require.Equal(t, identity.ExpiredAndReissued, res.Outcome)
	require.NotEmpty(t, res.Token)
	require.Equal(t, 1, backend.verifies)
	require.Equal(t, sess.Identity.AuthTime, res.Identity.AuthTime)
}

func TestServiceBasicAuth(t *testing.T) {
	backend := &fakeBackend{typ: identity.TypeLDAP, user: "jdoe", password: "p:w"}
	svc, _, _ := newService(t, backend, "")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("jdoe:p:w")))
	res := svc.Authenticate(r, identity.AuthOptions{})
	require.Equal(t, identity.Valid, res.Outcome)
	require.Equal(t, "jdoe", res.Identity.UserID)
	require.Equal(t, 1, backend.logins)

	r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("jdoe:wrong")))
	res = svc.Authenticate(r, identity.AuthOptions{})
	require.Equal(t, identity.Rejected, res.Outcome)
	require.True(t, identity.IsAuthentication(res.Reason))

	r.Header.Set("Authorization", "Basic !!!")
	res = svc.Authenticate(r, identity.AuthOptions{})
	require.Equal(t, identity.Rejected, res.Outcome)
}

func TestServiceMissingCredentials(t *testing.T) {
	svc, _, _ := newService(t, &fakeBackend{typ: identity.TypeLDAP}, "")

	res := svc.Authenticate(bearerRequest("", ""), identity.AuthOptions{})
	require.Equal(t, identity.Rejected, res.Outcome)
	require.ErrorIs(t, res.Reason, identity.ErrNoCredentials)
}

func TestServiceAnonymous(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		svc, _, _ := newService(t, &fakeBackend{typ: identity.TypeLDAP}, "")
		_, err := svc.LoginAnonymous(context.Background(), "")
		require.ErrorIs(t, err, identity.ErrAnonymousDisabled)
	})

	t.Run("engine binding limited to configured locations", func(t *testing.T) {
		svc, _, obs := newService(t, &fakeBackend{typ: identity.TypeEngine}, "guest")

		sess, err := svc.LoginAnonymous(context.Background(), "invoice")
		require.NoError(t, err)
		require.Equal(t, "http://engine:8080|/engine-rest|invoice", sess.Identity.Engine)

		_, err = svc.LoginAnonymous(context.Background(), "http://evil.example|/r|default")
		require.Equal(t, identity.KindLogin, identity.KindOf(err))
		require.ErrorIs(t, err, identity.ErrEngineNotAllowed)
		require.Equal(t, "engine/login_anonymous/login", obs.events[len(obs.events)-1])
	})

	t.Run("rejected unless allowed", func(t *testing.T) {
		backend := &fakeBackend{typ: identity.TypeLDAP, policy: identity.TokenPolicy{Prolongable: true}}
		svc, clk, _ := newService(t, backend, "guest")

		sess, err := svc.LoginAnonymous(context.Background(), "")
		require.NoError(t, err)
		require.True(t, sess.Identity.Anonymous)
		require.Equal(t, "guest", sess.Identity.UserID)

		res := svc.Authenticate(bearerRequest(sess.Token, ""), identity.AuthOptions{})
		require.Equal(t, identity.Rejected, res.Outcome)
		require.ErrorIs(t, res.Reason, identity.ErrAnonymousNotAllowed)

		res = svc.Authenticate(bearerRequest(sess.Token, ""), identity.AuthOptions{AllowAnonymous: true})
		require.Equal(t, identity.Valid, res.Outcome)

		// Prolongation never asks the backend about the anonymous user.
		clk.Advance(2 * time.Hour)
		res = svc.Authenticate(bearerRequest(sess.Token, ""), identity.AuthOptions{AllowAnonymous: true})
		require.Equal(t, identity.ExpiredAndReissued, res.Outcome)
		require.Zero(t, backend.verifies)
	})
}

func TestServiceRejectsTokenForOtherEngine(t *testing.T) {
	backend := &fakeBackend{typ: identity.TypeEngine, user: "demo", password: "demo", engine: "yes", policy: identity.TokenPolicy{Prolongable: true}}
	svc, _, _ := newService(t, backend, "")

	sess, err := svc.Login(context.Background(), identity.LoginRequest{Username: "demo", Password: "demo", Engine: "engine-a"})
	require.NoError(t, err)
	require.Equal(t, "http://engine:8080|/engine-rest|engine-a", sess.Identity.Engine)

	res := svc.Authenticate(bearerRequest(sess.Token, "engine-a"), identity.AuthOptions{})
	require.Equal(t, identity.Valid, res.Outcome)

	res = svc.Authenticate(bearerRequest(sess.Token, "http://engine:8080|/engine-rest|engine-a"), identity.AuthOptions{})
	require.Equal(t, identity.Valid, res.Outcome)

	res = svc.Authenticate(bearerRequest(sess.Token, "engine-b"), identity.AuthOptions{})
	require.Equal(t, identity.Rejected, res.Outcome)
	require.True(t, identity.IsAuthentication(res.Reason))
	require.ErrorIs(t, res.Reason, identity.ErrEngineMismatch)

	res = svc.Authenticate(bearerRequest(sess.Token, ""), identity.AuthOptions{})
	require.Equal(t, identity.Rejected, res.Outcome)
}

func TestServiceExternalTokens(t *testing.T) {
	backend := externalBackend{&fakeBackend{
		typ: identity.TypeSSO,
		external: map[string]identity.Identity{
			"opaque-provider-token": {Type: identity.TypeSSO, UserID: "sub-9"},
		},
	}}
	svc, _, _ := newService(t, backend, "")

	res := svc.Authenticate(bearerRequest("opaque-provider-token", ""), identity.AuthOptions{})
	require.Equal(t, identity.Valid, res.Outcome)
	require.Equal(t, "sub-9", res.Identity.UserID)

	res = svc.Authenticate(bearerRequest("unknown", ""), identity.AuthOptions{})
	require.Equal(t, identity.Rejected, res.Outcome)

	// Without the capability foreign tokens are refused outright.
	plain, _, _ := newService(t, &fakeBackend{typ: identity.TypeLDAP}, "")
	res = plain.Authenticate(bearerRequest("opaque-provider-token", ""), identity.AuthOptions{})
	require.Equal(t, identity.Rejected, res.Outcome)
}

func TestServiceLogoutAndSelfInfo(t *testing.T) {
	backend := &fakeBackend{typ: identity.TypeSSO}
	svc, _, _ := newService(t, backend, "guest")

	res, err := svc.Logout(context.Background(), identity.Identity{Type: identity.TypeSSO, UserID: "u"})
	require.NoError(t, err)
	require.Equal(t, "https://idp/logout", res.RedirectURL)

	res, err = svc.Logout(context.Background(), identity.Identity{Type: identity.TypeSSO, UserID: "guest", Anonymous: true})
	require.NoError(t, err)
	require.Empty(t, res.RedirectURL)

	info, err := svc.SelfInfo(context.Background(), identity.Identity{Type: identity.TypeSSO, UserID: "u", RefreshToken: "rt"})
	require.NoError(t, err)
	require.Equal(t, "u@example.org", info.Email)
	require.Empty(t, info.Identity.RefreshToken)
}
