package http

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/authsdk"
	"github.com/aussiebroadwan/bpmgate/pkg/httpx"
)

const maxLoginBody = 64 << 10

// LoginHandler serves the unauthenticated login endpoints.
type LoginHandler struct {
	Service *identity.Service
}

// HandleLogin godoc
//
//	@Summary		Log in
//	@Description	Authenticates credentials with the active backend and issues a gateway bearer.
//	@Description	Password logins send username and password (JSON, form or HTTP Basic).
//	@Description	SSO logins send the authorization code, the redirect URI and the nonce from /v1/auth/login-params.
//	@Tags			Auth
//	@Accept			json
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			X-Engine	header		string					false	"Engine identifier"
//	@Param			request		body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200			{object}	authsdk.LoginResponse
//	@Failure		400			{object}	authsdk.ErrorResponse	"Malformed request or login failure"
//	@Failure		401			{object}	authsdk.ErrorResponse	"Invalid credentials"
//	@Failure		404			{object}	authsdk.ErrorResponse	"Unknown user"
//	@Failure		429			{object}	authsdk.ErrorResponse	"Too many attempts"
//	@Failure		504			{object}	authsdk.ErrorResponse	"Backend timed out"
//	@Header			200			{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/login [post].
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLogin(w, r)
	if !ok {
		return
	}

	sess, err := h.Service.Login(r.Context(), identity.LoginRequest{
		Username:    req.Username,
		Password:    req.Password,
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
		Nonce:       req.Nonce,
		Engine:      r.Header.Get(identity.EngineHeader),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSession(w, sess)
}

// HandleAnonymous godoc
//
//	@Summary		Log in anonymously
//	@Description	Issues a bearer for the configured anonymous user. Fails when anonymous access is disabled.
//	@Tags			Auth
//	@Produce		json
//	@Param			X-Engine	header		string	false	"Engine identifier"
//	@Success		200			{object}	authsdk.LoginResponse
//	@Failure		400			{object}	authsdk.ErrorResponse	"Anonymous login disabled or malformed engine"
//	@Header			200			{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/login/anonymous [post].
func (h *LoginHandler) HandleAnonymous(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Service.LoginAnonymous(r.Context(), r.Header.Get(identity.EngineHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSession(w, sess)
}

// HandleParams godoc
//
//	@Summary		Login parameters
//	@Description	Describes how to log in. Password backends answer {"type":"password"}.
//	@Description	SSO backends answer a redirect with the authorize URL, state, nonce and scopes.
//	@Tags			Auth
//	@Produce		json
//	@Param			redirect_uri	query		string	false	"Where the provider sends the user back to"
//	@Success		200				{object}	authsdk.LoginParams
//	@Failure		500				{object}	authsdk.ErrorResponse
//	@Header			200				{string}	Cache-Control	"no-store"
//	@Router			/v1/auth/login-params [get].
func (h *LoginHandler) HandleParams(w http.ResponseWriter, r *http.Request) {
	params, err := h.Service.LoginParams(r.Context(), identity.LoginParamsRequest{
		RedirectURI: r.URL.Query().Get("redirect_uri"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginParams{
		Type:         params.Type,
		AuthorizeURL: params.AuthorizeURL,
		State:        params.State,
		Nonce:        params.Nonce,
		Scopes:       params.Scopes,
	})
}

// decodeLogin reads the credentials from a JSON or form body. Basic
// credentials fill in a body without a username.
func decodeLogin(w http.ResponseWriter, r *http.Request) (authsdk.LoginRequest, bool) {
	var req authsdk.LoginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			authsdk.ErrInvalidRequest.WriteError(w)
			return req, false
		}
		req = authsdk.LoginRequest{
			Username:    r.PostForm.Get("username"),
			Password:    r.PostForm.Get("password"),
			Code:        r.PostForm.Get("code"),
			RedirectURI: r.PostForm.Get("redirect_uri"),
			Nonce:       r.PostForm.Get("nonce"),
		}
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			authsdk.ErrInvalidRequest.WriteError(w)
			return req, false
		}
	case "":
		// Basic only
	default:
		authsdk.NewAPIError(http.StatusUnsupportedMediaType, authsdk.ErrorCodeInvalidRequest,
			"content type must be application/json or application/x-www-form-urlencoded").WriteError(w)
		return req, false
	}

	if req.Username == "" && req.Code == "" {
		if user, pass, ok := r.BasicAuth(); ok {
			req.Username, req.Password = user, pass
		}
	}
	return req, true
}

func writeSession(w http.ResponseWriter, sess identity.Session) {
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{
		Token:     sess.Token,
		TokenType: "Bearer",
		ExpiresIn: int(sess.ExpiresIn.Seconds()),
		Identity:  toWire(sess.Identity),
	})
}
