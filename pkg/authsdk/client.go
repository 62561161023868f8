package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EngineHeader names the engine a request targets.
const EngineHeader = "X-Engine"

// SDKClient is a client for the gateway's authentication API.
// It provides access to unauthenticated operations and can create authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// Engine, when set, is sent as the engine header on every request.
	Engine string
}

// NewSDKClient creates a new gateway client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Login authenticates credentials and returns the issued bearer.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return c.login(ctx, "/v1/auth/login", body)
}

// LoginAnonymous obtains a bearer for the gateway's anonymous user.
func (c *SDKClient) LoginAnonymous(ctx context.Context) (*LoginResponse, error) {
	return c.login(ctx, "/v1/auth/login/anonymous", nil)
}

// AuthenticateWithPassword logs in and returns a Session for the bearer.
func (c *SDKClient) AuthenticateWithPassword(ctx context.Context, username, password string) (*Session, *LoginResponse, error) {
	resp, err := c.Login(ctx, LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, nil, err
	}
	return c.NewSession(resp.Token), resp, nil
}

func (c *SDKClient) login(ctx context.Context, path string, body []byte) (*LoginResponse, error) {
	resp, err := c.send(ctx, http.MethodPost, path, body, "")
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := readJSON(resp, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginParams describes how to log in with the gateway's backend.
func (c *SDKClient) LoginParams(ctx context.Context, redirectURI string) (*LoginParams, error) {
	path := "/v1/auth/login-params"
	if redirectURI != "" {
		path += "?" + url.Values{"redirect_uri": {redirectURI}}.Encode()
	}

	resp, err := c.send(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}

	var out LoginParams
	if err := readJSON(resp, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
