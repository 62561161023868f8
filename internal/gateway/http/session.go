package http

import (
	"net/http"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/authsdk"
	"github.com/aussiebroadwan/bpmgate/pkg/httpx"
)

// SessionHandler serves the endpoints that act on the caller's bearer.
type SessionHandler struct {
	Service *identity.Service
}

// HandleLogout godoc
//
//	@Summary		Log out
//	@Description	Ends the session at the backend. Bearers are not revoked and simply expire.
//	@Description	SSO backends return the provider's end-session URL.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.LogoutResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"Missing, invalid or expired bearer"
//	@Router			/v1/auth/logout [post].
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		authsdk.ErrUnauthorized.WriteError(w)
		return
	}

	res, err := h.Service.Logout(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutResponse{RedirectURL: res.RedirectURL})
}

// HandleMe godoc
//
//	@Summary		Current user
//	@Description	Returns the caller's own view of their identity with the profile fields the backend can supply.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Param			X-Engine	header		string	false	"Engine identifier"
//	@Success		200			{object}	authsdk.SelfInfo
//	@Failure		401			{object}	authsdk.ErrorResponse	"Missing, invalid or expired bearer"
//	@Router			/v1/auth/me [get].
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		authsdk.ErrUnauthorized.WriteError(w)
		return
	}

	info, err := h.Service.SelfInfo(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.SelfInfo{
		Identity: toWire(info.Identity),
		Email:    info.Email,
		Groups:   info.Groups,
	})
}

// HandleVerify godoc
//
//	@Summary		Verify a bearer
//	@Description	Validates the bearer and returns its identity. Anonymous bearers are accepted.
//	@Description	An expired bearer that may be prolonged is answered with 401 token_expired and a renewed bearer.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Param			X-Engine	header		string	false	"Engine identifier"
//	@Success		200			{object}	authsdk.VerifyResponse
//	@Failure		401			{object}	authsdk.ErrorResponse	"Invalid bearer, or token_expired with a renewed bearer"
//	@Header			401			{string}	X-Renewed-Token			"Renewed bearer"
//	@Router			/v1/auth/verify [post].
func (h *SessionHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		authsdk.ErrUnauthorized.WriteError(w)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.VerifyResponse{Identity: toWire(id)})
}
