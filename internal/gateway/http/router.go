package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/pkg/httpx"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"

	_ "github.com/aussiebroadwan/bpmgate/api/gateway" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// ReadyCheck reports whether a dependency the gateway needs is usable.
type ReadyCheck func(ctx context.Context) error

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	service      *identity.Service
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// ReadyChecks are run by /readyz, keyed by the name reported on failure.
	ReadyChecks map[string]ReadyCheck
}

func NewRouter(svc *identity.Service, buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		service:      svc,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		ReadyChecks:  map[string]ReadyCheck{},
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerSession()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			BPM Gateway Identity API
//	@version		0.1.0
//	@description	Login, logout and token lifecycle of the BPM engine gateway.
//	@description
//	@description				Bearers are HS256 tokens issued by the gateway. An expired bearer that may be
//	@description				prolonged is answered with 401 token_expired and a renewed bearer in the
//	@description				X-Renewed-Token header and the token field of the body.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/bpmgate
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Gateway bearer. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerLogin() {
	h := &LoginHandler{Service: r.service}

	// GET /login-params - moderate rate limit (SSO deployments mint state and nonce)
	r.Mux.Handle("GET /v1/auth/login-params",
		httpx.Chain(http.HandlerFunc(h.HandleParams),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /login - strict rate limit by IP + username to slow down guessing
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndCredential(httpx.StrictLimit, "username"),
		),
	)

	// POST /login/anonymous - strict rate limit by IP
	r.Mux.Handle("POST /v1/auth/login/anonymous",
		httpx.Chain(http.HandlerFunc(h.HandleAnonymous),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSession() {
	h := &SessionHandler{Service: r.service}

	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			Authn(r.service, identity.AuthOptions{AllowAnonymous: true}),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			Authn(r.service, identity.AuthOptions{AllowAnonymous: true}),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	// POST /verify - called by satellite gateways on every request they serve
	r.Mux.Handle("POST /v1/auth/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			Authn(r.service, identity.AuthOptions{AllowAnonymous: true}),
			httpx.RateLimitByUser(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion, r.service.Backend().Type()),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.service.Backend().Type(), r.ReadyChecks),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics)
	}
}
