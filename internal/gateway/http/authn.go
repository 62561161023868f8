package http

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/httpx"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
)

type ctxKeyIdentity struct{}

// Authn authenticates the request through the identity service and stores
// the identity in the request context. Expired bearers that were prolonged
// are answered with token_expired and the renewed bearer.
func Authn(svc *identity.Service, opts identity.AuthOptions) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := svc.Authenticate(r, opts)
			if res.Outcome != identity.Valid {
				writeError(w, r, res.Err())
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentity{}, res.Identity)
			ctx = httpx.WithUserID(ctx, res.Identity.UserID)
			ctx = slogx.With(ctx, "user_id", res.Identity.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by Authn.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity{}).(identity.Identity)
	return id, ok
}
