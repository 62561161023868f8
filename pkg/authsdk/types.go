package authsdk

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the error body of every gateway endpoint.
type ErrorResponse struct {
	// Error is the error code (e.g., "unauthorized", "token_expired")
	Error string `json:"error"`

	// Message is a human-readable description of the error
	Message string `json:"message,omitempty"`

	// Token is a renewed bearer, present only with the token_expired code
	Token string `json:"token,omitempty"`
}

// ============================================================================
// Login Types
// ============================================================================

// LoginRequest is the body of POST /v1/auth/login. Password logins set
// Username and Password; authorization code logins set Code, RedirectURI
// and the Nonce handed out by GET /v1/auth/login-params.
type LoginRequest struct {
	Username string `json:"username,omitempty" form:"username"`
	Password string `json:"password,omitempty" form:"password"`

	Code        string `json:"code,omitempty" form:"code"`
	RedirectURI string `json:"redirect_uri,omitempty" form:"redirect_uri"`
	Nonce       string `json:"nonce,omitempty" form:"nonce"`
}

// LoginResponse is returned by the login endpoints.
type LoginResponse struct {
	// Token is the bearer to send as "Authorization: Bearer {token}"
	Token string `json:"token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime of the token in seconds
	ExpiresIn int `json:"expires_in"`

	Identity Identity `json:"identity"`
}

// LoginParams describes how to log in with the active backend.
type LoginParams struct {
	// Type is "password" or "redirect"
	Type         string   `json:"type"`
	AuthorizeURL string   `json:"authorize_url,omitempty"`
	State        string   `json:"state,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// LogoutResponse tells the client where to go after logging out.
type LogoutResponse struct {
	RedirectURL string `json:"redirect_url,omitempty"`
}

// ============================================================================
// Identity Types
// ============================================================================

// Identity is the public view of an authenticated user. Profile holds the
// backend specific fields tagged by Type.
type Identity struct {
	Type        string          `json:"type"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Anonymous   bool            `json:"anonymous,omitempty"`
	Engine      string          `json:"engine,omitempty"`
	AuthTime    int64           `json:"auth_time,omitempty"`
	Profile     json.RawMessage `json:"profile,omitempty" swaggertype:"object"`
}

// AuthenticatedAt returns AuthTime as a time.
func (i Identity) AuthenticatedAt() time.Time {
	if i.AuthTime == 0 {
		return time.Time{}
	}
	return time.Unix(i.AuthTime, 0).UTC()
}

// VerifyResponse is returned by POST /v1/auth/verify.
type VerifyResponse struct {
	Identity Identity `json:"identity"`
}

// SelfInfo is returned by GET /v1/auth/me.
type SelfInfo struct {
	Identity Identity `json:"identity"`
	Email    string   `json:"email,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Status is "ok" or "unavailable"
	Status string `json:"status"`

	// Backend is the active identity backend
	Backend string `json:"backend,omitempty"`

	// Version is the build version
	Version string `json:"version,omitempty"`

	// Uptime is the time since the service started
	Uptime string `json:"uptime,omitempty"`

	// Checks lists failed readiness checks
	Checks map[string]string `json:"checks,omitempty"`
}
