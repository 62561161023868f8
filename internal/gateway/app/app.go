package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/bpmgate/internal/backend/directory"
	"github.com/aussiebroadwan/bpmgate/internal/backend/engine"
	"github.com/aussiebroadwan/bpmgate/internal/backend/oidc"
	"github.com/aussiebroadwan/bpmgate/internal/backend/upstream"
	httpapi "github.com/aussiebroadwan/bpmgate/internal/gateway/http"
	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/internal/sso"
	"github.com/aussiebroadwan/bpmgate/internal/telemetry"
	"github.com/aussiebroadwan/bpmgate/pkg/httpx"
	"github.com/aussiebroadwan/bpmgate/pkg/jwtx"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
)

// BuildVersion is stamped with -ldflags "-X .../internal/gateway/app.BuildVersion=...".
var BuildVersion = "dev"

// startupTimeout bounds the provider calls made while starting.
const startupTimeout = 30 * time.Second

// Application encapsulates the gateway with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *telemetry.Metrics

	backend     identity.Backend
	service     *identity.Service
	readyChecks map[string]httpapi.ReadyCheck

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "bpm-gateway",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		registry:    prometheus.NewRegistry(),
		readyChecks: map[string]httpapi.ReadyCheck{},
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = telemetry.NewMetrics(app.registry)

	ctx, cancel := context.WithTimeout(slogx.WithContext(context.Background(), app.logger), startupTimeout)
	defer cancel()

	if err := app.initBackend(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", cfg.Backend, err)
	}
	if err := app.initService(); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler returns the gateway's HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run(ctx context.Context) error {
	app.logger.Info("gateway starting", "port", app.cfg.Port, "version", BuildVersion, "backend", app.backend.Type())

	serveErr := make(chan error, 1)
	go func() { serveErr <- app.server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on :%d: %w", app.cfg.Port, err)
	case <-ctx.Done():
		app.logger.Info("stop requested", "cause", context.Cause(ctx))
	}
	return app.Shutdown()
}

// Shutdown drains in-flight requests for up to the grace period, then
// closes whatever is left.
func (app *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Warn("grace period elapsed, closing connections", "err", err)
		if err := app.server.Close(); err != nil {
			return fmt.Errorf("close server: %w", err)
		}
	}
	app.logger.Info("gateway stopped")
	return nil
}

// initBackend creates the configured identity backend
func (app *Application) initBackend(ctx context.Context) error {
	client := &http.Client{Timeout: app.cfg.OutboundTimeout}

	switch app.cfg.Backend {
	case identity.TypeLDAP:
		b, err := directory.New(app.cfg.LDAP, directory.WithLatencyObserver(app.metrics.ObserveOutbound))
		if err != nil {
			return err
		}
		app.backend = b

	case identity.TypeSSO, identity.TypeADFS:
		keys, err := app.providerKeys(ctx, client)
		if err != nil {
			return err
		}
		helper, err := sso.New(app.cfg.SSO, keys,
			sso.WithHTTPClient(client),
			sso.WithLatencyObserver(app.metrics.ObserveOutbound),
		)
		if err != nil {
			return err
		}

		oidcCfg := app.cfg.OIDC
		oidcCfg.Type = app.cfg.Backend
		b, err := oidc.New(oidcCfg, helper)
		if err != nil {
			return err
		}
		if app.cfg.CheckSSO {
			if err := b.CheckClient(ctx); err != nil {
				return fmt.Errorf("provider rejected the client registration: %w", err)
			}
			app.logger.Info("provider accepted the client registration", "client_id", app.cfg.SSO.ClientID)
		}
		app.backend = b

	case identity.TypeEngine:
		b, err := engine.New(app.cfg.Engine,
			engine.WithHTTPClient(client),
			engine.WithLatencyObserver(app.metrics.ObserveOutbound),
		)
		if err != nil {
			return err
		}
		app.backend = b

	case identity.TypeGeneric:
		b, err := upstream.New(app.cfg.Upstream, upstream.WithHTTPClient(client))
		if err != nil {
			return err
		}
		app.backend = b

	default:
		return fmt.Errorf("unknown backend %q", app.cfg.Backend)
	}

	app.logger.Info("identity backend ready", "backend", app.backend.Type())
	return nil
}

// providerKeys loads the provider's signing keys, either pinned from a file
// or from the provider's key set endpoint.
func (app *Application) providerKeys(ctx context.Context, client *http.Client) (jwtx.KeySource, error) {
	if app.cfg.JWKSFile != "" {
		body, err := os.ReadFile(app.cfg.JWKSFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key set file: %w", err)
		}
		jwks, err := jwtx.ParseJWKS(body)
		if err != nil {
			return nil, err
		}
		set, err := jwtx.NewKeySet(jwks)
		if err != nil {
			return nil, err
		}
		app.logger.Info("provider keys pinned", "file", app.cfg.JWKSFile, "keys", set.Len())
		return jwtx.StaticKeys{Set: set}, nil
	}

	resolver, err := jwtx.NewKeyResolver(ctx, app.cfg.JWKSURL,
		jwtx.WithHTTPClient(client),
		jwtx.WithReloadObserver(app.metrics.JWKSReload),
	)
	if err != nil {
		return nil, err
	}
	app.readyChecks["provider_keys"] = func(context.Context) error {
		if !resolver.Ready() {
			return errors.New("no keys loaded")
		}
		return nil
	}
	return resolver, nil
}

// initService wires the token codec and the orchestrator
func (app *Application) initService() error {
	codec, err := identity.NewCodec(identity.CodecConfig{
		Secret:        []byte(app.cfg.TokenSecret),
		Issuer:        app.cfg.TokenIssuer,
		Validity:      app.cfg.TokenValidity,
		ProlongWindow: app.cfg.ProlongWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	app.service = identity.NewService(codec, app.backend, identity.ServiceConfig{
		AnonymousUser: app.cfg.AnonymousUser,
		Engines:       app.cfg.Engine.Defaults,
		Observer:      app.metrics,
	})
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	// Validate already rejected malformed entries.
	httpx.TrustedProxies, _ = httpx.ParseProxies(app.cfg.TrustedProxies)

	router := httpapi.NewRouter(app.service, BuildVersion, app.logger)
	router.Metrics = promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})
	router.ReadyChecks = app.readyChecks
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
