// Package oidc is the SSO identity backend and its legacy ADFS variant.
// All provider traffic goes through an sso.Helper.
package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/internal/sso"
	"github.com/aussiebroadwan/bpmgate/pkg/cryptox"
	"github.com/aussiebroadwan/bpmgate/pkg/jwtx"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
)

// ClaimNames maps identity fields to provider claim names.
type ClaimNames struct {
	UserID      string // default "preferred_username", "sub" when absent
	DisplayName string // default "name"
	Email       string // default "email"
	Groups      string // default "groups"
}

func (c *ClaimNames) setDefaults() {
	if c.UserID == "" {
		c.UserID = "preferred_username"
	}
	if c.DisplayName == "" {
		c.DisplayName = "name"
	}
	if c.Email == "" {
		c.Email = "email"
	}
	if c.Groups == "" {
		c.Groups = "groups"
	}
}

// Config selects the variant and claim mapping.
type Config struct {
	// Type is identity.TypeSSO or identity.TypeADFS.
	Type   string
	Claims ClaimNames

	// InlineClaims takes user claims from the access token rather than the
	// id token. ADFS puts them there.
	InlineClaims bool

	// AllowPassword enables the password grant. Always on for ADFS.
	AllowPassword bool

	// UserInfoFallback completes missing claims from the userinfo endpoint.
	UserInfoFallback bool
}

// Backend implements identity.Backend and identity.ExternalTokenVerifier.
type Backend struct {
	cfg Config
	sso *sso.Helper
}

var (
	_ identity.Backend               = (*Backend)(nil)
	_ identity.ExternalTokenVerifier = (*Backend)(nil)
)

// New creates an OIDC backend on top of helper.
func New(cfg Config, helper *sso.Helper) (*Backend, error) {
	switch cfg.Type {
	case "":
		cfg.Type = identity.TypeSSO
	case identity.TypeSSO:
	case identity.TypeADFS:
		cfg.AllowPassword = true
	default:
		return nil, fmt.Errorf("oidc: unsupported type %q", cfg.Type)
	}
	if helper == nil {
		return nil, errors.New("oidc: sso helper is required")
	}
	cfg.Claims.setDefaults()
	return &Backend{cfg: cfg, sso: helper}, nil
}

func (b *Backend) Type() string { return b.cfg.Type }

// TokenPolicy keeps SSO bearers prolongable; prolongation redeems the
// refresh token, so a revoked provider session stops prolongation.
func (b *Backend) TokenPolicy() identity.TokenPolicy {
	return identity.TokenPolicy{Verify: false, Prolongable: true}
}

// Login redeems an authorization code or, where allowed, runs the password
// grant.
func (b *Backend) Login(ctx context.Context, req identity.LoginRequest) (identity.Identity, error) {
	const op = "oidc.login"

	var (
		resp *sso.TokenResponse
		err  error
	)
	switch {
	case req.IsCodeExchange():
		resp, err = b.sso.ExchangeCode(ctx, req.Code, req.RedirectURI, req.Nonce)
	case b.cfg.AllowPassword:
		resp, err = b.sso.PasswordLogin(ctx, req.Username, req.Password)
	default:
		return identity.Identity{}, identity.LoginErr(op, "authorization code required", nil)
	}
	if err != nil {
		return identity.Identity{}, err
	}

	id, err := b.fromResponse(ctx, op, resp)
	if err != nil {
		return identity.Identity{}, err
	}
	slogx.FromContext(ctx).Debug("sso login", "user_id", id.UserID, "type", b.cfg.Type)
	return id, nil
}

// Verify redeems the refresh token carried by the identity. A rotated
// refresh token replaces the old one.
func (b *Backend) Verify(ctx context.Context, id identity.Identity) (identity.Identity, error) {
	const op = "oidc.verify"
	if id.RefreshToken == "" {
		return identity.Identity{}, identity.AuthenticationErr(op, "identity carries no refresh token", nil)
	}

	resp, err := b.sso.Refresh(ctx, id.RefreshToken)
	if err != nil {
		return identity.Identity{}, err
	}

	fresh := id
	claims, err := b.responseClaims(ctx, op, resp)
	switch {
	case errors.Is(err, errNoClaims):
		// Some providers return no claims on refresh; the identity stands.
	case err != nil:
		return identity.Identity{}, err
	case b.hasUser(claims):
		if fresh, err = b.fromClaims(op, claims); err != nil {
			return identity.Identity{}, err
		}
		if fresh.UserID != id.UserID {
			return identity.Identity{}, identity.AuthenticationErr(op, "provider returned a different user", nil)
		}
	default:
		// Access tokens often carry the subject only. It must match the
		// one seen at login, the rest of the identity stands.
		if sub := jwtx.String(claims, "sub"); sub == "" || sub != subjectOf(id) {
			return identity.Identity{}, identity.AuthenticationErr(op, "provider returned a different user", nil)
		}
	}

	fresh.RefreshToken = id.RefreshToken
	if resp.RefreshToken != "" {
		fresh.RefreshToken = resp.RefreshToken
	}
	fresh.AuthTime = id.AuthTime
	return fresh, nil
}

// subjectOf returns the provider subject an identity was issued for.
func subjectOf(id identity.Identity) string {
	if p, ok := id.Profile.(identity.OIDCProfile); ok && p.Subject != "" {
		return p.Subject
	}
	return id.UserID
}

// Logout points the client at the provider's end-session endpoint.
func (b *Backend) Logout(context.Context, identity.Identity) (identity.LogoutResult, error) {
	return identity.LogoutResult{RedirectURL: b.sso.EndSessionURL()}, nil
}

func (b *Backend) SelfInfo(_ context.Context, id identity.Identity) (identity.SelfInfo, error) {
	return identity.ProfileSelfInfo(id), nil
}

// LoginParams starts an authorization code flow. The raw nonce goes to the
// client; the provider only sees its hash.
func (b *Backend) LoginParams(_ context.Context, req identity.LoginParamsRequest) (identity.LoginParams, error) {
	const op = "oidc.login_params"

	cfg := b.sso.Config()
	if cfg.AuthURL == "" {
		if b.cfg.AllowPassword {
			return identity.PasswordLoginParams(), nil
		}
		return identity.LoginParams{}, identity.SystemErr(op, "no authorization endpoint configured", nil)
	}

	state, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return identity.LoginParams{}, identity.SystemErr(op, "failed to generate state", err)
	}
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return identity.LoginParams{}, identity.SystemErr(op, "failed to generate nonce", err)
	}

	redirect := req.RedirectURI
	if redirect == "" {
		redirect = cfg.RedirectURL
	}
	return identity.LoginParams{
		Type:         identity.LoginTypeRedirect,
		AuthorizeURL: b.sso.AuthorizeURL(state, nonce, redirect),
		State:        state,
		Nonce:        nonce,
		Scopes:       cfg.Scopes,
	}, nil
}

// AuthenticateExternal accepts a bearer issued by the provider. JWTs are
// verified against the provider keys, opaque tokens are resolved through
// the userinfo endpoint.
func (b *Backend) AuthenticateExternal(ctx context.Context, bearer string) (identity.Identity, error) {
	const op = "oidc.authenticate_external"

	var (
		claims jwtx.Claims
		err    error
	)
	if jwtx.LooksLikeJWT(bearer) {
		claims, err = b.sso.VerifyToken(ctx, bearer)
	} else {
		claims, err = b.sso.UserInfo(ctx, bearer)
	}
	if err != nil {
		return identity.Identity{}, err
	}
	return b.fromClaims(op, claims)
}

// CheckClient confirms the provider accepts the gateway's client
// registration by running the client credentials grant.
func (b *Backend) CheckClient(ctx context.Context) error {
	_, err := b.sso.ClientCredentials(ctx)
	return err
}

var errNoClaims = errors.New("no user claims in token response")

func (b *Backend) fromResponse(ctx context.Context, op string, resp *sso.TokenResponse) (identity.Identity, error) {
	claims, err := b.responseClaims(ctx, op, resp)
	if err != nil {
		return identity.Identity{}, err
	}
	id, err := b.fromClaims(op, claims)
	if err != nil {
		return identity.Identity{}, err
	}
	id.RefreshToken = resp.RefreshToken
	return id, nil
}

// responseClaims picks the user claims of a token response, asking the
// userinfo endpoint when configured and the tokens name no user.
func (b *Backend) responseClaims(ctx context.Context, op string, resp *sso.TokenResponse) (jwtx.Claims, error) {
	claims := resp.Claims()
	if b.cfg.InlineClaims && resp.AccessClaims != nil {
		claims = resp.AccessClaims
	}

	if b.cfg.UserInfoFallback && b.sso.Config().UserInfoURL != "" && !b.hasUser(claims) {
		info, err := b.sso.UserInfo(ctx, resp.AccessToken)
		if err != nil {
			return nil, err
		}
		claims = merge(claims, info)
	}
	if claims == nil {
		return nil, identity.AuthenticationErr(op, "provider returned no user claims", errNoClaims)
	}
	return claims, nil
}

func (b *Backend) hasUser(claims jwtx.Claims) bool {
	return jwtx.String(claims, b.cfg.Claims.UserID) != ""
}

func (b *Backend) fromClaims(op string, claims jwtx.Claims) (identity.Identity, error) {
	userID := jwtx.String(claims, b.cfg.Claims.UserID)
	if userID == "" {
		userID = jwtx.String(claims, "sub")
	}
	if userID == "" {
		return identity.Identity{}, identity.AuthenticationErr(op, "token names no user", nil)
	}

	return identity.Identity{
		Type:        b.cfg.Type,
		UserID:      userID,
		DisplayName: jwtx.String(claims, b.cfg.Claims.DisplayName),
		Profile: identity.OIDCProfile{
			Subject: jwtx.String(claims, "sub"),
			Issuer:  jwtx.String(claims, "iss"),
			Email:   jwtx.String(claims, b.cfg.Claims.Email),
			Groups:  jwtx.Strings(claims, b.cfg.Claims.Groups),
		},
	}, nil
}

// merge returns base overlaid with the claims in extra that base lacks.
func merge(base, extra jwtx.Claims) jwtx.Claims {
	out := jwtx.Claims{}
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}
