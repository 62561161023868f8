// Package upstream is the generic identity backend. It makes this gateway a
// satellite of a central gateway: logins and every verification are
// delegated to the upstream through the authsdk client.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/authsdk"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
)

// Config locates the upstream gateway.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Backend implements identity.Backend by calling the upstream gateway.
type Backend struct {
	client *authsdk.SDKClient
}

// Option customises a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client.HTTPClient = c }
}

// New creates a generic backend for the upstream at cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream: base url is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("upstream: invalid base url: %w", err)
	}

	client := authsdk.NewSDKClient(cfg.BaseURL)
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	b := &Backend{client: client}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Type() string { return identity.TypeGeneric }

// TokenPolicy asks for verification on every request: the upstream decides.
func (b *Backend) TokenPolicy() identity.TokenPolicy {
	return identity.TokenPolicy{Verify: true, Prolongable: true}
}

// forEngine returns a client sending engine as the engine header.
func (b *Backend) forEngine(engine string) *authsdk.SDKClient {
	c := *b.client
	c.Engine = engine
	return &c
}

func (b *Backend) Login(ctx context.Context, req identity.LoginRequest) (identity.Identity, error) {
	const op = "upstream.login"

	resp, err := b.forEngine(req.Engine).Login(ctx, authsdk.LoginRequest{
		Username:    req.Username,
		Password:    req.Password,
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
		Nonce:       req.Nonce,
	})
	if err != nil {
		return identity.Identity{}, upstreamErr(op, err)
	}

	id, err := fromUpstream(op, resp.Identity)
	if err != nil {
		return identity.Identity{}, err
	}
	id.RefreshToken = resp.Token
	return id, nil
}

// Verify asks the upstream to validate the upstream bearer. A bearer the
// upstream renewed replaces the old one.
func (b *Backend) Verify(ctx context.Context, id identity.Identity) (identity.Identity, error) {
	const op = "upstream.verify"
	if id.RefreshToken == "" {
		return identity.Identity{}, identity.AuthenticationErr(op, "identity carries no upstream token", nil)
	}

	session := b.forEngine(id.Engine).NewSession(id.RefreshToken)
	up, err := session.Verify(ctx)
	if err != nil {
		return identity.Identity{}, upstreamErr(op, err)
	}

	fresh, err := fromUpstream(op, *up)
	if err != nil {
		return identity.Identity{}, err
	}
	if fresh.UserID != id.UserID {
		return identity.Identity{}, identity.AuthenticationErr(op, "upstream returned a different user", nil)
	}
	if session.Renewed() {
		slogx.FromContext(ctx).Debug("upstream token renewed", "user_id", id.UserID)
	}
	fresh.RefreshToken = session.Token()
	fresh.AuthTime = id.AuthTime
	return fresh, nil
}

func (b *Backend) Logout(ctx context.Context, id identity.Identity) (identity.LogoutResult, error) {
	const op = "upstream.logout"
	if id.RefreshToken == "" {
		return identity.LogoutResult{}, nil
	}

	res, err := b.forEngine(id.Engine).NewSession(id.RefreshToken).Logout(ctx)
	if err != nil {
		// An expired upstream session is already logged out.
		if authsdk.StatusCode(err) == http.StatusUnauthorized {
			return identity.LogoutResult{}, nil
		}
		return identity.LogoutResult{}, upstreamErr(op, err)
	}
	return identity.LogoutResult{RedirectURL: res.RedirectURL}, nil
}

func (b *Backend) SelfInfo(ctx context.Context, id identity.Identity) (identity.SelfInfo, error) {
	const op = "upstream.self_info"
	if id.RefreshToken == "" {
		return identity.SelfInfo{}, identity.AuthenticationErr(op, "identity carries no upstream token", nil)
	}

	me, err := b.forEngine(id.Engine).NewSession(id.RefreshToken).Me(ctx)
	if err != nil {
		return identity.SelfInfo{}, upstreamErr(op, err)
	}
	up, err := fromUpstream(op, me.Identity)
	if err != nil {
		return identity.SelfInfo{}, err
	}
	return identity.SelfInfo{Identity: up.Public(), Email: me.Email, Groups: me.Groups}, nil
}

// LoginParams passes the upstream's login parameters through.
func (b *Backend) LoginParams(ctx context.Context, req identity.LoginParamsRequest) (identity.LoginParams, error) {
	params, err := b.client.LoginParams(ctx, req.RedirectURI)
	if err != nil {
		return identity.LoginParams{}, upstreamErr("upstream.login_params", err)
	}
	return identity.LoginParams{
		Type:         params.Type,
		AuthorizeURL: params.AuthorizeURL,
		State:        params.State,
		Nonce:        params.Nonce,
		Scopes:       params.Scopes,
	}, nil
}

// fromUpstream wraps an upstream identity. The upstream document is kept
// verbatim in the profile.
func fromUpstream(op string, up authsdk.Identity) (identity.Identity, error) {
	if up.UserID == "" {
		return identity.Identity{}, identity.SystemErr(op, "upstream returned an identity without user id", nil)
	}
	if up.Anonymous {
		return identity.Identity{}, identity.AuthenticationErr(op, "upstream identity is anonymous", identity.ErrAnonymousNotAllowed)
	}
	raw, err := json.Marshal(up)
	if err != nil {
		return identity.Identity{}, identity.SystemErr(op, "failed to encode upstream identity", err)
	}

	return identity.Identity{
		Type:        identity.TypeGeneric,
		UserID:      up.UserID,
		DisplayName: up.DisplayName,
		Engine:      up.Engine,
		Profile:     identity.GenericProfile{Upstream: raw},
	}, nil
}

// upstreamErr maps upstream responses onto the local error kinds.
func upstreamErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if identity.IsTimeout(err) {
		return identity.TimeoutErr(op, err)
	}

	var apiErr *authsdk.APIError
	if !errors.As(err, &apiErr) {
		return identity.SystemErr(op, "upstream unreachable", err)
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized:
		return identity.AuthenticationErr(op, "upstream rejected the credentials", nil).WithDetail(apiErr.Message)
	case apiErr.StatusCode == http.StatusNotFound:
		return identity.LoginErr(op, "user not found", identity.ErrNotFound).WithDetail(apiErr.Message)
	case apiErr.StatusCode == http.StatusGatewayTimeout || apiErr.Code == authsdk.ErrorCodeTimeout:
		return identity.TimeoutErr(op, err)
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return identity.LoginErr(op, "upstream rejected the login", nil).WithDetail(apiErr.Message)
	default:
		return identity.SystemErr(op, "upstream failed", err)
	}
}
