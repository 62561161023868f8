package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/bpmgate/internal/backend/directory"
	"github.com/aussiebroadwan/bpmgate/internal/backend/engine"
	"github.com/aussiebroadwan/bpmgate/internal/backend/oidc"
	"github.com/aussiebroadwan/bpmgate/internal/backend/upstream"
	"github.com/aussiebroadwan/bpmgate/internal/identity"
	"github.com/aussiebroadwan/bpmgate/internal/sso"
	"github.com/aussiebroadwan/bpmgate/pkg/httpx"
)

type Config struct {
	Backend string // Identity backend: generic, ldap, sso, adfs, engine (default: engine)

	TokenSecret   string        // Required: HS256 secret, at least 32 bytes
	TokenIssuer   string        // Optional: iss claim of issued bearers
	TokenValidity time.Duration // Lifetime of a bearer (default: 60m)
	ProlongWindow time.Duration // How long an expired bearer may be renewed (default: 24h)

	AnonymousUser   string        // Optional: enables anonymous logins under this user id
	OutboundTimeout time.Duration // Timeout of every call to a directory, provider, engine or upstream (default: 10s)

	LDAP     directory.Config
	SSO      sso.Config
	OIDC     oidc.Config
	JWKSURL  string // Provider key set endpoint
	JWKSFile string // Optional: pinned provider key set, replaces JWKSURL
	CheckSSO bool   // Run a client credentials grant at startup

	Engine   engine.Config
	Upstream upstream.Config

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	TrustedProxies      string        // Optional: proxy addresses or CIDRs whose X-Forwarded-For is honoured
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	timeout := getEnvDurationOrDefault("GATEWAY_OUTBOUND_TIMEOUT", 10*time.Second)

	cfg := Config{
		Backend:         strings.ToLower(getEnvOrDefault("GATEWAY_BACKEND", identity.TypeEngine)),
		TokenSecret:     os.Getenv("GATEWAY_TOKEN_SECRET"),
		TokenIssuer:     os.Getenv("GATEWAY_TOKEN_ISSUER"),
		TokenValidity:   getEnvDurationOrDefault("GATEWAY_TOKEN_VALIDITY", identity.DefaultTokenValidity),
		ProlongWindow:   getEnvDurationOrDefault("GATEWAY_PROLONG_WINDOW", identity.DefaultProlongWindow),
		AnonymousUser:   os.Getenv("GATEWAY_ANONYMOUS_USER"),
		OutboundTimeout: timeout,

		LDAP: directory.Config{
			URL:                os.Getenv("LDAP_URL"),
			BindDN:             os.Getenv("LDAP_BIND_DN"),
			BindPassword:       os.Getenv("LDAP_BIND_PASSWORD"),
			BaseDN:             os.Getenv("LDAP_BASE_DN"),
			UserFilter:         os.Getenv("LDAP_USER_FILTER"),
			UserDNPattern:      os.Getenv("LDAP_USER_DN_PATTERN"),
			UserIDAttr:         os.Getenv("LDAP_USER_ID_ATTR"),
			DisplayNameAttr:    os.Getenv("LDAP_DISPLAY_NAME_ATTR"),
			EmailAttr:          os.Getenv("LDAP_EMAIL_ATTR"),
			GroupAttr:          os.Getenv("LDAP_GROUP_ATTR"),
			ModifiedAttr:       os.Getenv("LDAP_MODIFIED_ATTR"),
			FollowReferrals:    getEnvBoolOrDefault("LDAP_FOLLOW_REFERRALS", false),
			SizeLimit:          getEnvIntOrDefault("LDAP_SIZE_LIMIT", 2),
			Timeout:            timeout,
			StartTLS:           getEnvBoolOrDefault("LDAP_START_TLS", false),
			InsecureSkipVerify: getEnvBoolOrDefault("LDAP_INSECURE_SKIP_VERIFY", false),
		},

		SSO: sso.Config{
			ClientID:              os.Getenv("SSO_CLIENT_ID"),
			ClientSecret:          os.Getenv("SSO_CLIENT_SECRET"),
			AuthURL:               os.Getenv("SSO_AUTH_URL"),
			TokenURL:              os.Getenv("SSO_TOKEN_URL"),
			UserInfoURL:           os.Getenv("SSO_USERINFO_URL"),
			EndSessionURL:         os.Getenv("SSO_END_SESSION_URL"),
			Issuer:                os.Getenv("SSO_ISSUER"),
			Audience:              os.Getenv("SSO_AUDIENCE"),
			AcceptedAudiences:     httpx.SplitList(os.Getenv("SSO_ACCEPTED_AUDIENCES")),
			Scopes:                httpx.SplitList(getEnvOrDefault("SSO_SCOPES", "openid profile email")),
			RedirectURL:           os.Getenv("SSO_REDIRECT_URL"),
			PostLogoutRedirectURL: os.Getenv("SSO_POST_LOGOUT_REDIRECT_URL"),
			NonceBearer:           sso.NonceBearer(os.Getenv("SSO_NONCE_BEARER")),
			Leeway:                getEnvDurationOrDefault("SSO_LEEWAY", 30*time.Second),
		},
		OIDC: oidc.Config{
			Claims: oidc.ClaimNames{
				UserID:      os.Getenv("SSO_CLAIM_USER_ID"),
				DisplayName: os.Getenv("SSO_CLAIM_DISPLAY_NAME"),
				Email:       os.Getenv("SSO_CLAIM_EMAIL"),
				Groups:      os.Getenv("SSO_CLAIM_GROUPS"),
			},
			InlineClaims:     getEnvBoolOrDefault("SSO_INLINE_CLAIMS", false),
			AllowPassword:    getEnvBoolOrDefault("SSO_ALLOW_PASSWORD", false),
			UserInfoFallback: getEnvBoolOrDefault("SSO_USERINFO_FALLBACK", false),
		},
		JWKSURL:  os.Getenv("SSO_JWKS_URL"),
		JWKSFile: os.Getenv("SSO_JWKS_FILE"),
		CheckSSO: getEnvBoolOrDefault("SSO_CHECK_CLIENT", false),

		Engine: engine.Config{
			Defaults: identity.EngineDefaults{
				BaseURL:  getEnvOrDefault("ENGINE_BASE_URL", "http://localhost:8080"),
				RestPath: getEnvOrDefault("ENGINE_REST_PATH", "/engine-rest"),
				Allowed:  httpx.SplitList(os.Getenv("ENGINE_ALLOWED")),
			},
			ServiceUser:     os.Getenv("ENGINE_SERVICE_USER"),
			ServicePassword: os.Getenv("ENGINE_SERVICE_PASSWORD"),
			Timeout:         timeout,
		},
		Upstream: upstream.Config{
			BaseURL: os.Getenv("UPSTREAM_URL"),
			Timeout: timeout,
		},

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		TrustedProxies:      os.Getenv("GATEWAY_TRUSTED_PROXIES"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	// ADFS keeps user claims in the access token unless told otherwise.
	if cfg.Backend == identity.TypeADFS && os.Getenv("SSO_INLINE_CLAIMS") == "" {
		cfg.OIDC.InlineClaims = true
	}

	return cfg
}

// Validate rejects configurations the gateway cannot start with.
func (c Config) Validate() error {
	var errs []error

	if len(c.TokenSecret) < identity.MinSecretLength {
		errs = append(errs, fmt.Errorf("GATEWAY_TOKEN_SECRET must be at least %d bytes", identity.MinSecretLength))
	}
	if c.TokenValidity <= 0 {
		errs = append(errs, errors.New("GATEWAY_TOKEN_VALIDITY must be positive"))
	}
	if c.ProlongWindow < 0 {
		errs = append(errs, errors.New("GATEWAY_PROLONG_WINDOW must not be negative"))
	}
	if c.OutboundTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_OUTBOUND_TIMEOUT must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if _, err := httpx.ParseProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("GATEWAY_TRUSTED_PROXIES: %w", err))
	}

	switch c.Backend {
	case identity.TypeLDAP:
		errs = append(errs, c.LDAP.Validate())
	case identity.TypeSSO, identity.TypeADFS:
		errs = append(errs, c.SSO.Validate())
		if c.JWKSURL == "" && c.JWKSFile == "" {
			errs = append(errs, errors.New("SSO_JWKS_URL or SSO_JWKS_FILE is required"))
		}
	case identity.TypeEngine:
		if c.Engine.Defaults.BaseURL == "" {
			errs = append(errs, errors.New("ENGINE_BASE_URL is required"))
		}
	case identity.TypeGeneric:
		if c.Upstream.BaseURL == "" {
			errs = append(errs, errors.New("UPSTREAM_URL is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GATEWAY_BACKEND %q", c.Backend))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
