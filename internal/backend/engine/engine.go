// Package engine is the identity backend that lets the BPM engine check
// credentials itself. Issued identities are bound to the engine that
// accepted them.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
)

const maxBody = 1 << 20

// Config holds the engine location and the gateway's own engine account.
type Config struct {
	// Defaults locates bare engine names. Identifiers naming any other
	// location must appear in Defaults.Allowed.
	Defaults identity.EngineDefaults

	// ServiceUser authenticates the gateway's profile lookups. Engines
	// with authentication disabled need none.
	ServiceUser     string
	ServicePassword string

	Timeout time.Duration
}

// Backend implements identity.Backend against the engine REST API.
type Backend struct {
	cfg     Config
	client  *http.Client
	observe func(target string, d time.Duration)
}

// Option customises a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// WithLatencyObserver reports the duration of every engine call.
func WithLatencyObserver(fn func(target string, d time.Duration)) Option {
	return func(b *Backend) { b.observe = fn }
}

// New creates an engine backend.
func New(cfg Config, opts ...Option) (*Backend, error) {
	if cfg.Defaults.BaseURL == "" {
		return nil, errors.New("engine: base url is required")
	}
	if _, err := url.Parse(cfg.Defaults.BaseURL); err != nil {
		return nil, fmt.Errorf("engine: invalid base url: %w", err)
	}
	for _, loc := range cfg.Defaults.Allowed {
		base, _, _ := strings.Cut(loc, "|")
		if u, err := url.Parse(strings.TrimSpace(base)); err != nil || u.Host == "" {
			return nil, fmt.Errorf("engine: invalid allowed engine location %q", loc)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	b := &Backend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		observe: func(string, time.Duration) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Type() string { return identity.TypeEngine }

func (b *Backend) TokenPolicy() identity.TokenPolicy {
	return identity.TokenPolicy{Verify: false, Prolongable: true}
}

func (b *Backend) LoginParams(context.Context, identity.LoginParamsRequest) (identity.LoginParams, error) {
	return identity.PasswordLoginParams(), nil
}

func (b *Backend) Logout(context.Context, identity.Identity) (identity.LogoutResult, error) {
	return identity.LogoutResult{}, nil
}

type verifyRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyResponse struct {
	AuthenticatedUser string `json:"authenticatedUser"`
	Authenticated     bool   `json:"authenticated"`
}

type profileResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// Login asks the engine named by the request to check the credentials and
// binds the identity to that engine.
func (b *Backend) Login(ctx context.Context, req identity.LoginRequest) (identity.Identity, error) {
	const op = "engine.login"

	ref, err := identity.ParseEngineRef(req.Engine, b.cfg.Defaults)
	if err != nil {
		return identity.Identity{}, identity.LoginErr(op, "invalid engine identifier", err)
	}

	payload, err := json.Marshal(verifyRequest{Username: req.Username, Password: req.Password})
	if err != nil {
		return identity.Identity{}, identity.SystemErr(op, "failed to encode request", err)
	}

	var verified verifyResponse
	if err := b.call(ctx, op, http.MethodPost, ref.Endpoint()+"/identity/verify", bytes.NewReader(payload), &verified); err != nil {
		return identity.Identity{}, err
	}
	if !verified.Authenticated {
		return identity.Identity{}, identity.AuthenticationErr(op, "invalid credentials", nil)
	}

	userID := verified.AuthenticatedUser
	if userID == "" {
		userID = req.Username
	}
	id, err := b.profile(ctx, op, ref, userID)
	if err != nil {
		return identity.Identity{}, err
	}

	slogx.FromContext(ctx).Debug("engine login", "user_id", userID, "engine", ref.Name)
	return id, nil
}

// Verify confirms the user still exists on the engine the identity is
// bound to. Engines cannot re-check a password, so existence is all there
// is to verify.
func (b *Backend) Verify(ctx context.Context, id identity.Identity) (identity.Identity, error) {
	const op = "engine.verify"

	ref, err := identity.ParseEngineRef(id.Engine, b.cfg.Defaults)
	if err != nil {
		return identity.Identity{}, identity.AuthenticationErr(op, "identity has an invalid engine binding", err)
	}

	fresh, err := b.profile(ctx, op, ref, id.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, identity.AuthenticationErr(op, "user no longer exists on engine", err)
		}
		return identity.Identity{}, err
	}
	fresh.AuthTime = id.AuthTime
	return fresh, nil
}

func (b *Backend) SelfInfo(ctx context.Context, id identity.Identity) (identity.SelfInfo, error) {
	fresh, err := b.Verify(ctx, id)
	if err != nil {
		return identity.SelfInfo{}, err
	}
	return identity.ProfileSelfInfo(fresh), nil
}

func (b *Backend) profile(ctx context.Context, op string, ref identity.EngineRef, userID string) (identity.Identity, error) {
	var p profileResponse
	path := ref.Endpoint() + "/user/" + url.PathEscape(userID) + "/profile"
	if err := b.call(ctx, op, http.MethodGet, path, nil, &p); err != nil {
		return identity.Identity{}, err
	}
	if p.ID == "" {
		p.ID = userID
	}

	return identity.Identity{
		Type:        identity.TypeEngine,
		UserID:      p.ID,
		DisplayName: strings.TrimSpace(p.FirstName + " " + p.LastName),
		Engine:      ref.String(),
		Profile: identity.EngineProfile{
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Email:     p.Email,
		},
	}, nil
}

// call performs one engine request and decodes a 200 response into target.
// Error responses are classified from the engine's error document.
func (b *Backend) call(ctx context.Context, op, method, rawURL string, body io.Reader, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return identity.SystemErr(op, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.ServiceUser != "" {
		req.SetBasicAuth(b.cfg.ServiceUser, b.cfg.ServicePassword)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	b.observe("engine", time.Since(start))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return identity.SystemErr(op, "engine unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return identity.SystemErr(op, "failed to read engine response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return identity.ClassifyEngineError(op, resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return identity.SystemErr(op, "malformed engine response", err)
	}
	return nil
}
