package identity

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/bpmgate/pkg/cryptox"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
	"github.com/golang-jwt/jwt/v5"
)

// Observer receives one event per orchestrator operation.
type Observer interface {
	AuthOutcome(backend, operation, outcome string)
}

type nopObserver struct{}

func (nopObserver) AuthOutcome(string, string, string) {}

// ServiceConfig configures the orchestrator.
type ServiceConfig struct {
	// AnonymousUser enables anonymous logins under this user id.
	AnonymousUser string

	// Engines completes bare engine identifiers.
	Engines EngineDefaults

	Observer Observer
}

// Service is the identity orchestrator. It composes the token codec with
// the active backend and is what the HTTP layer talks to.
type Service struct {
	codec    *Codec
	backend  Backend
	cfg      ServiceConfig
	observer Observer
	now      func() time.Time
}

// NewService wires a codec and a backend.
func NewService(codec *Codec, backend Backend, cfg ServiceConfig) *Service {
	s := &Service{
		codec:    codec,
		backend:  backend,
		cfg:      cfg,
		observer: cfg.Observer,
		now:      codec.now,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// Backend returns the active backend.
func (s *Service) Backend() Backend { return s.backend }

// Session is an issued bearer together with the public identity.
type Session struct {
	Token     string
	ExpiresIn time.Duration
	Identity  Identity
}

// AuthOptions tune Authenticate.
type AuthOptions struct {
	AllowAnonymous bool
}

// Login authenticates credentials with the backend and issues a bearer.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	const op = "login"
	if err := req.Validate(); err != nil {
		s.observe(op, err)
		return Session{}, err
	}

	id, err := s.backend.Login(ctx, req)
	if err != nil {
		err = Wrap(err, op, "login failed")
		s.observe(op, err)
		slogx.FromContext(ctx).Info("login rejected", "backend", s.backend.Type(), "kind", KindOf(err).String(), "err", err)
		return Session{}, err
	}

	sess, err := s.issue(id)
	s.observe(op, err)
	return sess, err
}

// LoginAnonymous issues a bearer for the configured anonymous user.
func (s *Service) LoginAnonymous(ctx context.Context, engine string) (Session, error) {
	const op = "login_anonymous"
	if s.cfg.AnonymousUser == "" {
		err := LoginErr(op, "anonymous login is disabled", ErrAnonymousDisabled)
		s.observe(op, err)
		return Session{}, err
	}

	id := Identity{
		Type:      s.backend.Type(),
		UserID:    s.cfg.AnonymousUser,
		Anonymous: true,
	}
	if engine != "" {
		ref, err := ParseEngineRef(engine, s.cfg.Engines)
		if err != nil {
			err = LoginErr(op, "invalid engine identifier", err)
			s.observe(op, err)
			return Session{}, err
		}
		id.Engine = ref.String()
	}

	sess, err := s.issue(id)
	s.observe(op, err)
	return sess, err
}

func (s *Service) issue(id Identity) (Session, error) {
	if id.Type == "" {
		id.Type = s.backend.Type()
	}
	if id.AuthTime.IsZero() {
		id.AuthTime = s.now().UTC().Truncate(time.Second)
	}

	policy := s.backend.TokenPolicy()
	if id.Anonymous {
		policy.Verify = false
	}
	token, err := s.codec.Create(policy.Verify, policy.Prolongable, id)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresIn: s.codec.Validity(), Identity: id.Public()}, nil
}

// Logout ends the session at the backend. Bearers are not revoked; they
// simply expire.
func (s *Service) Logout(ctx context.Context, id Identity) (LogoutResult, error) {
	const op = "logout"
	if id.Anonymous {
		s.observe(op, nil)
		return LogoutResult{}, nil
	}
	res, err := s.backend.Logout(ctx, id)
	err = Wrap(err, op, "logout failed")
	s.observe(op, err)
	return res, err
}

// SelfInfo returns the caller's own view of their identity.
func (s *Service) SelfInfo(ctx context.Context, id Identity) (SelfInfo, error) {
	const op = "self_info"
	if id.Anonymous {
		return SelfInfo{Identity: id.Public()}, nil
	}
	info, err := s.backend.SelfInfo(ctx, id)
	if err != nil {
		err = Wrap(err, op, "failed to load user information")
		s.observe(op, err)
		return SelfInfo{}, err
	}
	info.Identity = info.Identity.Public()
	return info, nil
}

// LoginParams describes how clients log in with the active backend.
func (s *Service) LoginParams(ctx context.Context, req LoginParamsRequest) (LoginParams, error) {
	params, err := s.backend.LoginParams(ctx, req)
	return params, Wrap(err, "login_params", "failed to create login parameters")
}

// Authenticate resolves the identity behind an inbound request.
//
// Bearer credentials are parsed by the codec, or handed to the backend when
// they were issued by a third party. Basic credentials are turned into a
// backend login. The result is rejected when the identity is bound to
// another engine than the one the request targets, and when it is
// anonymous and opts does not allow that.
func (s *Service) Authenticate(r *http.Request, opts AuthOptions) Result {
	const op = "authenticate"
	ctx := r.Context()

	authz := r.Header.Get("Authorization")
	res := s.authenticate(ctx, authz, r.Header.Get(EngineHeader))
	if res.Outcome != Rejected {
		res = s.checkEngine(op, res, r.Header.Get(EngineHeader))
	}
	if res.Outcome != Rejected && res.Identity.Anonymous && !opts.AllowAnonymous {
		res = rejected(AuthenticationErr(op, "anonymous access not allowed", ErrAnonymousNotAllowed))
	}

	s.observe(op+"."+res.Outcome.String(), res.Reason)
	if res.Outcome == Rejected {
		log := slogx.FromContext(ctx)
		if scheme, cred, ok := strings.Cut(strings.TrimSpace(authz), " "); ok && strings.EqualFold(scheme, "bearer") {
			log = log.With("token_fp", cryptox.FingerprintToken(strings.TrimSpace(cred)))
		}
		log.Debug("request not authenticated", "kind", KindOf(res.Reason).String(), "err", res.Reason)
	}
	return res
}

func (s *Service) authenticate(ctx context.Context, authz, engine string) Result {
	const op = "authenticate"

	scheme, cred, ok := strings.Cut(strings.TrimSpace(authz), " ")
	cred = strings.TrimSpace(cred)
	if !ok || cred == "" {
		return rejected(AuthenticationErr(op, "missing credentials", ErrNoCredentials))
	}

	switch strings.ToLower(scheme) {
	case "bearer":
		if !IsOwnToken(cred) {
			ext, ok := s.backend.(ExternalTokenVerifier)
			if !ok {
				return rejected(AuthenticationErr(op, "unsupported token", nil))
			}
			id, err := ext.AuthenticateExternal(ctx, cred)
			if err != nil {
				return rejected(Wrap(err, op, "external token verification failed"))
			}
			return validResult(id)
		}
		return s.codec.Parse(ctx, cred, reverifier{s})

	case "basic":
		user, pass, err := decodeBasic(cred)
		if err != nil {
			return rejected(AuthenticationErr(op, "malformed basic credentials", err))
		}
		id, err := s.backend.Login(ctx, LoginRequest{Username: user, Password: pass, Engine: engine})
		if err != nil {
			return rejected(Wrap(err, op, "basic login failed"))
		}
		if id.Type == "" {
			id.Type = s.backend.Type()
		}
		return validResult(id)

	default:
		return rejected(AuthenticationErr(op, "unsupported authorization scheme", ErrNoCredentials))
	}
}

func (s *Service) checkEngine(op string, res Result, requestEngine string) Result {
	bound := res.Identity.Engine
	if bound == "" {
		return res
	}
	if !SameEngine(bound, requestEngine, s.cfg.Engines) {
		return rejected(AuthenticationErr(op, "token is not valid for this engine", ErrEngineMismatch))
	}
	return res
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
		if IsTimeout(err) {
			outcome = "timeout"
		}
	}
	s.observer.AuthOutcome(s.backend.Type(), op, outcome)
}

// reverifier lets anonymous identities through prolongation without asking
// the backend, which has never heard of them.
type reverifier struct{ s *Service }

func (v reverifier) Verify(ctx context.Context, id Identity) (Identity, error) {
	if id.Anonymous {
		if id.UserID != v.s.cfg.AnonymousUser || v.s.cfg.AnonymousUser == "" {
			return Identity{}, AuthenticationErr("verify", "anonymous login is disabled", ErrAnonymousDisabled)
		}
		return id, nil
	}
	verified, err := v.s.backend.Verify(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	verified.AuthTime = id.AuthTime
	if verified.Type == "" {
		verified.Type = id.Type
	}
	return verified, nil
}

// IsOwnToken reports whether a bearer looks like one of the gateway's own
// HS256 tokens, as opposed to a provider issued token.
func IsOwnToken(bearer string) bool {
	tok, _, err := jwt.NewParser().ParseUnverified(bearer, jwt.MapClaims{})
	if err != nil {
		return false
	}
	alg, _ := tok.Header["alg"].(string)
	return alg == jwt.SigningMethodHS256.Alg()
}

func decodeBasic(cred string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(cred)
	if err != nil {
		return "", "", err
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok || user == "" {
		return "", "", ErrNoCredentials
	}
	return user, pass, nil
}
