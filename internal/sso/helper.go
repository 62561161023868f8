// Package sso talks OAuth2/OIDC to an external identity provider: code
// exchange, refresh, password and client credentials grants, userinfo, and
// verification of the provider's RS/ES signed tokens.
package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/cryptox"
	"github.com/aussiebroadwan/bpmgate/pkg/jwtx"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// NonceBearer selects which token must carry the nonce hash.
type NonceBearer string

const (
	NonceInIDToken     NonceBearer = "id"
	NonceInAccessToken NonceBearer = "access"
	NonceInBoth        NonceBearer = "both"
)

// maxErrorBody caps how much of a provider error body is retained.
const maxErrorBody = 4 << 10

// Config describes the provider and this gateway's client registration.
type Config struct {
	ClientID     string
	ClientSecret string

	AuthURL       string
	TokenURL      string
	UserInfoURL   string
	EndSessionURL string

	// Issuer, when set, must match the iss claim of provider tokens.
	Issuer string

	// Audience of id tokens, defaults to ClientID.
	Audience string

	// AcceptedAudiences are the aud values a provider token presented
	// directly by a client may carry. Defaults to Audience. A token whose
	// azp names ClientID is accepted as well.
	AcceptedAudiences []string

	Scopes []string

	// RedirectURL is used when a request does not name its own.
	RedirectURL           string
	PostLogoutRedirectURL string

	NonceBearer NonceBearer

	// Leeway tolerates clock skew between gateway and provider.
	Leeway time.Duration
}

// Validate checks that the mandatory endpoints are present.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.TokenURL == "" {
		missing = append(missing, "token url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("sso: missing %s", strings.Join(missing, ", "))
	}
	switch c.NonceBearer {
	case "", NonceInIDToken, NonceInAccessToken, NonceInBoth:
	default:
		return fmt.Errorf("sso: unknown nonce bearer %q", c.NonceBearer)
	}
	return nil
}

// TokenResponse is a provider token response with the claims of every
// token that is a JWT. AccessClaims is nil for opaque access tokens.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time

	AccessClaims jwtx.Claims
	IDClaims     jwtx.Claims
}

// Claims returns the id token claims, falling back to the access token's.
func (t *TokenResponse) Claims() jwtx.Claims {
	if t.IDClaims != nil {
		return t.IDClaims
	}
	return t.AccessClaims
}

// Helper performs the provider flows. It is safe for concurrent use; the
// HTTP client is fixed at construction and never modified per request.
type Helper struct {
	cfg    Config
	oauth  *oauth2.Config
	client *http.Client

	idTokens     *jwtx.Verifier
	accessTokens *jwtx.Verifier

	observe func(target string, d time.Duration)
}

// Option customises a Helper.
type Option func(*Helper)

// WithHTTPClient sets the client for every provider call. It must carry a
// timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Helper) {
		if c != nil {
			h.client = c
		}
	}
}

// WithLatencyObserver reports the duration of every outbound call.
func WithLatencyObserver(fn func(target string, d time.Duration)) Option {
	return func(h *Helper) { h.observe = fn }
}

// New creates a Helper verifying provider tokens with keys.
func New(cfg Config, keys jwtx.KeySource, opts ...Option) (*Helper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("sso: a key source is required")
	}
	if cfg.NonceBearer == "" {
		cfg.NonceBearer = NonceInIDToken
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.ClientID
	}
	if len(cfg.AcceptedAudiences) == 0 {
		cfg.AcceptedAudiences = []string{cfg.Audience}
	}

	h := &Helper{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		idTokens: jwtx.NewVerifier(keys, jwtx.VerifyOptions{
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
			Leeway:   cfg.Leeway,
		}),
		accessTokens: jwtx.NewVerifier(keys, jwtx.VerifyOptions{
			Issuer: cfg.Issuer,
			Leeway: cfg.Leeway,
		}),
		observe: func(string, time.Duration) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Config returns the provider configuration.
func (h *Helper) Config() Config { return h.cfg }

// AuthorizeURL builds the provider authorization URL. The provider receives
// the SHA-256 hex digest of nonce, never the raw value.
func (h *Helper) AuthorizeURL(state, nonce, redirectURI string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", cryptox.HashNonce(nonce))}
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	return h.oauth.AuthCodeURL(state, opts...)
}

// EndSessionURL returns the provider logout URL, or "" when the provider
// has none configured.
func (h *Helper) EndSessionURL() string {
	if h.cfg.EndSessionURL == "" {
		return ""
	}
	u, err := url.Parse(h.cfg.EndSessionURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", h.cfg.ClientID)
	if h.cfg.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", h.cfg.PostLogoutRedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ExchangeCode redeems an authorization code. The id token is mandatory,
// every JWT in the response is signature checked, and the nonce hash must
// be present on the configured token(s). Any failed check voids the whole
// exchange.
func (h *Helper) ExchangeCode(ctx context.Context, code, redirectURI, nonce string) (*TokenResponse, error) {
	const op = "sso.exchange_code"
	if nonce == "" {
		return nil, identity.AuthenticationErr(op, "nonce is required", nil)
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	tok, err := h.grant(ctx, op, func(ctx context.Context) (*oauth2.Token, error) {
		return h.oauth.Exchange(ctx, code, opts...)
	})
	if err != nil {
		return nil, err
	}

	resp, err := h.process(ctx, op, tok, true)
	if err != nil {
		return nil, err
	}
	if err := h.checkNonce(op, resp, nonce); err != nil {
		return nil, err
	}
	return resp, nil
}

// Refresh redeems a refresh token. No nonce is involved.
func (h *Helper) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	const op = "sso.refresh"
	if refreshToken == "" {
		return nil, identity.AuthenticationErr(op, "no refresh token", nil)
	}

	tok, err := h.grant(ctx, op, func(ctx context.Context) (*oauth2.Token, error) {
		return h.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
	if err != nil {
		return nil, err
	}
	return h.process(ctx, op, tok, false)
}

// PasswordLogin performs the resource owner password grant. Only legacy
// providers such as ADFS are configured this way.
func (h *Helper) PasswordLogin(ctx context.Context, username, password string) (*TokenResponse, error) {
	const op = "sso.password"

	tok, err := h.grant(ctx, op, func(ctx context.Context) (*oauth2.Token, error) {
		return h.oauth.PasswordCredentialsToken(ctx, username, password)
	})
	if err != nil {
		return nil, err
	}
	return h.process(ctx, op, tok, false)
}

// ClientCredentials obtains a token for the gateway itself.
func (h *Helper) ClientCredentials(ctx context.Context) (*TokenResponse, error) {
	const op = "sso.client_credentials"

	cc := clientcredentials.Config{
		ClientID:     h.cfg.ClientID,
		ClientSecret: h.cfg.ClientSecret,
		TokenURL:     h.cfg.TokenURL,
		Scopes:       h.cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := h.grant(ctx, op, cc.Token)
	if err != nil {
		return nil, err
	}
	return h.process(ctx, op, tok, false)
}

// UserInfo fetches the claims of the user owning accessToken. It is the
// fallback for provider tokens the gateway cannot verify itself.
func (h *Helper) UserInfo(ctx context.Context, accessToken string) (jwtx.Claims, error) {
	const op = "sso.userinfo"
	if h.cfg.UserInfoURL == "" {
		return nil, identity.SystemErr(op, "no userinfo endpoint configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, identity.SystemErr(op, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	h.observe("sso_userinfo", time.Since(start))
	if err != nil {
		return nil, transportErr(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportErr(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, identity.AuthenticationErr(op, "provider rejected the token", nil).
			WithDetail(truncate(body))
	}

	claims := jwtx.Claims{}
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, identity.SystemErr(op, "malformed userinfo response", err)
	}
	return claims, nil
}

// VerifyToken checks a provider issued JWT presented directly by a client.
// The token must have been issued to this gateway: its aud names one of
// the accepted audiences or its azp names the client id.
func (h *Helper) VerifyToken(ctx context.Context, token string) (jwtx.Claims, error) {
	const op = "sso.verify_token"
	claims, err := h.accessTokens.Verify(ctx, token)
	if err != nil {
		return nil, verifyErr(op, "provider token", err)
	}
	if !h.issuedToUs(claims) {
		return nil, identity.AuthenticationErr(op, "provider token was issued to another client", nil)
	}
	return claims, nil
}

func (h *Helper) issuedToUs(claims jwtx.Claims) bool {
	if azp := jwtx.String(claims, "azp"); azp != "" && azp == h.cfg.ClientID {
		return true
	}
	for _, aud := range jwtx.Strings(claims, "aud") {
		if slices.Contains(h.cfg.AcceptedAudiences, aud) {
			return true
		}
	}
	return false
}

// grant runs one token endpoint call with the helper's HTTP client and
// maps its failure.
func (h *Helper) grant(ctx context.Context, op string, call func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.client)

	start := time.Now()
	tok, err := call(ctx)
	h.observe("sso_token", time.Since(start))
	if err == nil {
		return tok, nil
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		slogx.FromContext(ctx).Warn("provider rejected grant",
			"op", op,
			"status", statusOf(rerr),
			"error_code", rerr.ErrorCode,
		)
		return nil, identity.AuthenticationErr(op, "identity provider rejected the request", nil).
			WithDetail(truncate(rerr.Body))
	}
	return nil, transportErr(op, err)
}

func (h *Helper) process(ctx context.Context, op string, tok *oauth2.Token, requireID bool) (*TokenResponse, error) {
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	resp.IDToken, _ = tok.Extra("id_token").(string)

	if jwtx.LooksLikeJWT(resp.AccessToken) {
		claims, err := h.accessTokens.Verify(ctx, resp.AccessToken)
		if err != nil {
			return nil, verifyErr(op, "access token", err)
		}
		resp.AccessClaims = claims
	}

	switch {
	case resp.IDToken != "":
		claims, err := h.idTokens.Verify(ctx, resp.IDToken)
		if err != nil {
			return nil, verifyErr(op, "id token", err)
		}
		resp.IDClaims = claims
	case requireID:
		return nil, identity.AuthenticationErr(op, "provider returned no id token", nil)
	}
	return resp, nil
}

func (h *Helper) checkNonce(op string, resp *TokenResponse, nonce string) error {
	check := func(name string, claims jwtx.Claims) error {
		if claims == nil {
			return identity.AuthenticationErr(op, name+" is not a verifiable JWT, cannot check nonce", nil)
		}
		if !cryptox.NonceMatches(nonce, jwtx.String(claims, "nonce")) {
			return identity.AuthenticationErr(op, "nonce mismatch in "+name, nil)
		}
		return nil
	}

	if h.cfg.NonceBearer == NonceInIDToken || h.cfg.NonceBearer == NonceInBoth {
		if err := check("id token", resp.IDClaims); err != nil {
			return err
		}
	}
	if h.cfg.NonceBearer == NonceInAccessToken || h.cfg.NonceBearer == NonceInBoth {
		if err := check("access token", resp.AccessClaims); err != nil {
			return err
		}
	}
	return nil
}

// verifyErr separates key endpoint trouble (system) from bad tokens
// (authentication).
func verifyErr(op, what string, err error) error {
	var kerr *jwtx.KeyResolutionError
	if errors.As(err, &kerr) && !errors.Is(kerr, jwtx.ErrUnknownKID) {
		if kerr.Timeout() {
			return identity.TimeoutErr(op, err)
		}
		return identity.SystemErr(op, "failed to load provider keys", err)
	}
	return identity.AuthenticationErr(op, "invalid "+what, err)
}

func transportErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return identity.SystemErr(op, "identity provider unreachable", err)
}

func statusOf(rerr *oauth2.RetrieveError) int {
	if rerr.Response == nil {
		return 0
	}
	return rerr.Response.StatusCode
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
