package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/authsdk"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
)

// writeError answers with the API error matching err. Diagnostic detail is
// logged and never written to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	var ie *identity.Error
	if !errors.As(err, &ie) {
		if errors.Is(err, context.Canceled) {
			log.Debug("request cancelled", "err", err)
		} else {
			log.Error("unexpected error", "err", err)
		}
		authsdk.ErrServerError.WriteError(w)
		return
	}

	apiErr := authsdk.NewAPIError(ie.HTTPStatus(), errorCode(ie), ie.Message)
	switch ie.Kind {
	case identity.KindTokenExpired:
		apiErr.RenewedToken = ie.ReissuedToken
	case identity.KindSystem:
		log.Error("identity operation failed", "op", ie.Op, "detail", ie.Detail, "err", err)
	default:
		log.Info("identity operation rejected", "op", ie.Op, "kind", ie.Kind.String(), "detail", ie.Detail, "err", err)
	}
	apiErr.WriteError(w)
}

func errorCode(ie *identity.Error) string {
	switch ie.Kind {
	case identity.KindAuthentication:
		return authsdk.ErrorCodeUnauthorized
	case identity.KindTokenExpired:
		return authsdk.ErrorCodeTokenExpired
	case identity.KindLogin:
		if errors.Is(ie, identity.ErrNotFound) {
			return authsdk.ErrorCodeNotFound
		}
		return authsdk.ErrorCodeLoginFailed
	default:
		if ie.Timeout() {
			return authsdk.ErrorCodeTimeout
		}
		return authsdk.ErrorCodeServerError
	}
}

// toWire converts an identity into its public API form.
func toWire(id identity.Identity) authsdk.Identity {
	pub := id.Public()
	out := authsdk.Identity{
		Type:        pub.Type,
		UserID:      pub.UserID,
		DisplayName: pub.DisplayName,
		Anonymous:   pub.Anonymous,
		Engine:      pub.Engine,
	}
	if !pub.AuthTime.IsZero() {
		out.AuthTime = pub.AuthTime.Unix()
	}
	if pub.Profile != nil {
		if raw, err := json.Marshal(pub.Profile); err == nil {
			out.Profile = raw
		}
	}
	return out
}
