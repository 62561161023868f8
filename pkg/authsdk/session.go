package authsdk

import (
	"context"
	"net/http"
	"sync"
)

// Session represents an authenticated session holding one gateway bearer.
// When the gateway answers token_expired with a renewed bearer, the session
// adopts it and retries the request once.
type Session struct {
	client *SDKClient

	mu      sync.RWMutex
	token   string
	renewed bool
}

// NewSession creates a session from an existing bearer.
func (c *SDKClient) NewSession(token string) *Session {
	return &Session{client: c, token: token}
}

// Token returns the current bearer.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Renewed reports whether the bearer was replaced by the gateway since the
// session was created.
func (s *Session) Renewed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renewed
}

// adopt swaps in a renewed bearer unless another goroutine already did.
func (s *Session) adopt(old, renewed string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == old {
		s.token = renewed
		s.renewed = true
	}
}

// Verify validates the session's bearer and returns its identity.
func (s *Session) Verify(ctx context.Context) (*Identity, error) {
	var out VerifyResponse
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/auth/verify", &out); err != nil {
		return nil, err
	}
	return &out.Identity, nil
}

// Me returns the user's own view of their identity.
func (s *Session) Me(ctx context.Context) (*SelfInfo, error) {
	var out SelfInfo
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/auth/me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the session at the gateway's backend.
func (s *Session) Logout(ctx context.Context) (*LogoutResponse, error) {
	var out LogoutResponse
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/auth/logout", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) doAuthJSON(ctx context.Context, method, path string, target any) error {
	token := s.Token()
	resp, err := s.client.send(ctx, method, path, nil, token)
	if err != nil {
		return err
	}
	err = readJSON(resp, http.StatusOK, target)

	renewed, expired := IsTokenExpired(err)
	if !expired || renewed == "" {
		return err
	}
	s.adopt(token, renewed)

	resp, err = s.client.send(ctx, method, path, nil, renewed)
	if err != nil {
		return err
	}
	return readJSON(resp, http.StatusOK, target)
}
