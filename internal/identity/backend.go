package identity

import (
	"context"
	"strings"
)

// Backend is the capability set every identity backend implements. Exactly
// one backend is active per deployment.
type Backend interface {
	// Type returns the identity type tag the backend produces.
	Type() string

	// Login proves the supplied credentials and returns the identity.
	Login(ctx context.Context, req LoginRequest) (Identity, error)

	// Verify re-validates an identity taken from a bearer. It runs on
	// prolongation and, for backends whose policy sets Verify, on every
	// request.
	Verify(ctx context.Context, id Identity) (Identity, error)

	// Logout ends the identity's session at the backend, if the backend has
	// such a notion.
	Logout(ctx context.Context, id Identity) (LogoutResult, error)

	// SelfInfo describes the identity for the user it belongs to.
	SelfInfo(ctx context.Context, id Identity) (SelfInfo, error)

	// LoginParams describes how clients should log in.
	LoginParams(ctx context.Context, req LoginParamsRequest) (LoginParams, error)

	// TokenPolicy returns the control claims for bearers of this backend.
	TokenPolicy() TokenPolicy
}

// ExternalTokenVerifier is implemented by backends that accept bearers
// issued by a third party, such as OIDC provider access tokens.
type ExternalTokenVerifier interface {
	AuthenticateExternal(ctx context.Context, bearer string) (Identity, error)
}

// TokenPolicy sets the verify and prolongable claims of issued bearers.
type TokenPolicy struct {
	Verify      bool
	Prolongable bool
}

// LoginRequest carries the credentials of one login attempt. Password
// logins set Username and Password; authorization code logins set Code,
// RedirectURI and the raw Nonce the client received from LoginParams.
type LoginRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	Code        string `json:"code,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	Nonce       string `json:"nonce,omitempty"`

	// Engine is the raw engine identifier of the request, if any.
	Engine string `json:"-"`
}

// IsCodeExchange reports whether the request is an authorization code login.
func (r LoginRequest) IsCodeExchange() bool { return r.Code != "" }

// Validate rejects requests that carry no usable credentials.
func (r LoginRequest) Validate() error {
	if r.IsCodeExchange() {
		if r.RedirectURI == "" {
			return LoginErr("login", "redirect_uri is required with an authorization code", nil)
		}
		return nil
	}
	if strings.TrimSpace(r.Username) == "" || r.Password == "" {
		return LoginErr("login", "username and password are required", nil)
	}
	return nil
}

// LoginParamsRequest is the client's request for login parameters.
type LoginParamsRequest struct {
	RedirectURI string
}

// Login parameter types.
const (
	LoginTypePassword = "password"
	LoginTypeRedirect = "redirect"
)

// LoginParams tells a client how to log in. For redirect logins the client
// keeps State and Nonce and sends the nonce back with the authorization code.
type LoginParams struct {
	Type         string   `json:"type"`
	AuthorizeURL string   `json:"authorize_url,omitempty"`
	State        string   `json:"state,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// PasswordLoginParams is what every password based backend returns.
func PasswordLoginParams() LoginParams { return LoginParams{Type: LoginTypePassword} }

// LogoutResult tells the client where to go after logging out.
type LogoutResult struct {
	RedirectURL string `json:"redirect_url,omitempty"`
}

// SelfInfo is the user's own view of their identity.
type SelfInfo struct {
	Identity Identity `json:"identity"`
	Email    string   `json:"email,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// ProfileSelfInfo builds SelfInfo from whatever the profile carries.
func ProfileSelfInfo(id Identity) SelfInfo {
	info := SelfInfo{Identity: id.Public()}
	switch p := id.Profile.(type) {
	case LDAPProfile:
		info.Email, info.Groups = p.Email, p.Groups
	case OIDCProfile:
		info.Email, info.Groups = p.Email, p.Groups
	case EngineProfile:
		info.Email = p.Email
	}
	return info
}
