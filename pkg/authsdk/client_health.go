package authsdk

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotReady is returned by Readiness when the gateway answers 503. The
// response returned alongside it lists the failed checks.
var ErrNotReady = errors.New("authsdk: gateway not ready")

// Liveness probes GET /livez.
func (c *SDKClient) Liveness(ctx context.Context) (*HealthResponse, error) {
	return c.probe(ctx, "/livez")
}

// Readiness probes GET /readyz.
func (c *SDKClient) Readiness(ctx context.Context) (*HealthResponse, error) {
	return c.probe(ctx, "/readyz")
}

func (c *SDKClient) probe(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if resp.StatusCode == http.StatusServiceUnavailable {
		if err := readJSON(resp, http.StatusServiceUnavailable, &health); err != nil {
			return nil, err
		}
		return &health, ErrNotReady
	}
	if err := readJSON(resp, http.StatusOK, &health); err != nil {
		return nil, err
	}
	return &health, nil
}
