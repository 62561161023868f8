package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// EngineHeader carries the engine identifier of a request.
const EngineHeader = "X-Engine"

// DefaultEngineName is the engine a request without engine header targets.
const DefaultEngineName = "default"

// EngineDefaults completes bare engine names and bounds which engine
// locations an identifier may point at.
type EngineDefaults struct {
	BaseURL  string
	RestPath string

	// Allowed lists further "{baseUrl}|{restPath}" locations a three part
	// identifier may name. The default location is always allowed.
	Allowed []string
}

// permits reports whether ref points at the default location or one of
// the allowed ones.
func (d EngineDefaults) permits(ref EngineRef) bool {
	def := EngineRef{BaseURL: d.BaseURL, RestPath: d.RestPath}.normalize()
	if ref.BaseURL == def.BaseURL && ref.RestPath == def.RestPath {
		return true
	}
	for _, loc := range d.Allowed {
		base, rest, _ := strings.Cut(loc, "|")
		allowed := EngineRef{BaseURL: strings.TrimSpace(base), RestPath: strings.TrimSpace(rest)}.normalize()
		if allowed.RestPath == "" {
			allowed.RestPath = def.RestPath
		}
		if ref.BaseURL == allowed.BaseURL && ref.RestPath == allowed.RestPath {
			return true
		}
	}
	return false
}

// EngineRef identifies one BPM engine instance. Its wire form is
// "{baseUrl}|{restPath}|{engineName}"; a bare name without pipes means the
// default base URL and rest path.
type EngineRef struct {
	BaseURL  string
	RestPath string
	Name     string
}

// ParseEngineRef parses an engine identifier. An empty string refers to the
// default engine. A three part identifier naming a location outside
// defaults fails with ErrEngineNotAllowed.
func ParseEngineRef(s string, defaults EngineDefaults) (EngineRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EngineRef{BaseURL: defaults.BaseURL, RestPath: defaults.RestPath, Name: DefaultEngineName}.normalize(), nil
	}

	parts := strings.Split(s, "|")
	switch len(parts) {
	case 1:
		return EngineRef{BaseURL: defaults.BaseURL, RestPath: defaults.RestPath, Name: s}.normalize(), nil
	case 3:
		ref := EngineRef{
			BaseURL:  strings.TrimSpace(parts[0]),
			RestPath: strings.TrimSpace(parts[1]),
			Name:     strings.TrimSpace(parts[2]),
		}
		if ref.BaseURL == "" {
			ref.BaseURL = defaults.BaseURL
		}
		if ref.RestPath == "" {
			ref.RestPath = defaults.RestPath
		}
		if ref.Name == "" {
			ref.Name = DefaultEngineName
		}
		ref = ref.normalize()
		if !defaults.permits(ref) {
			return EngineRef{}, fmt.Errorf("%w: %s|%s", ErrEngineNotAllowed, ref.BaseURL, ref.RestPath)
		}
		return ref, nil
	default:
		return EngineRef{}, fmt.Errorf("identity: malformed engine identifier %q", s)
	}
}

func (r EngineRef) normalize() EngineRef {
	r.BaseURL = strings.TrimRight(r.BaseURL, "/")
	if r.RestPath != "" && !strings.HasPrefix(r.RestPath, "/") {
		r.RestPath = "/" + r.RestPath
	}
	r.RestPath = strings.TrimRight(r.RestPath, "/")
	return r
}

// String returns the canonical three part identifier.
func (r EngineRef) String() string {
	return r.BaseURL + "|" + r.RestPath + "|" + r.Name
}

// Endpoint returns the engine REST root, e.g. http://host/engine-rest/engine/default.
func (r EngineRef) Endpoint() string {
	return r.BaseURL + r.RestPath + "/engine/" + r.Name
}

// SameEngine reports whether two identifiers name the same engine.
func SameEngine(a, b string, defaults EngineDefaults) bool {
	ra, errA := ParseEngineRef(a, defaults)
	rb, errB := ParseEngineRef(b, defaults)
	if errA != nil || errB != nil {
		return false
	}
	return ra == rb
}

// engineError is the JSON error document BPM engines answer with.
type engineError struct {
	Type    string `json:"type"`
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

// Structured engine error codes recognised by ClassifyEngineError.
const (
	EngineCodeAuthentication = 401
	EngineCodeUserNotFound   = 404
	EngineCodeUserLocked     = 423
)

// ClassifyEngineError turns an engine error response into an identity error.
//
// The structured "type" and "code" fields decide first. Only when the
// engine sent neither is the message text matched against known phrases.
// That fallback is tied to the engine's wording and may miss new messages;
// unmatched errors fall back to the HTTP status.
func ClassifyEngineError(op string, status int, body []byte) error {
	var doc engineError
	_ = json.Unmarshal(body, &doc)
	detail := strings.TrimSpace(string(body))

	withDetail := func(e *Error) error { return e.WithDetail(detail) }

	if doc.Code != nil {
		switch *doc.Code {
		case EngineCodeAuthentication:
			return withDetail(AuthenticationErr(op, "invalid credentials", nil))
		case EngineCodeUserNotFound:
			return withDetail(LoginErr(op, "user not found", ErrNotFound))
		case EngineCodeUserLocked:
			return withDetail(LoginErr(op, "user is locked", nil))
		}
	}

	switch doc.Type {
	case "AuthenticationException", "UnauthorizedException":
		return withDetail(AuthenticationErr(op, "invalid credentials", nil))
	case "NotFoundException", "NullValueException":
		return withDetail(LoginErr(op, "user not found", ErrNotFound))
	case "":
		if err := classifyEngineMessage(op, doc.Message); err != nil {
			return withDetail(err)
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return withDetail(AuthenticationErr(op, "invalid credentials", nil))
	case status == http.StatusNotFound:
		return withDetail(LoginErr(op, "user not found", ErrNotFound))
	case status >= 400 && status < 500:
		return withDetail(LoginErr(op, "login rejected by engine", nil))
	default:
		return withDetail(SystemErr(op, fmt.Sprintf("engine returned status %d", status), errors.New(http.StatusText(status))))
	}
}

// classifyEngineMessage is the best effort text match for engines that do
// not send a structured error type.
func classifyEngineMessage(op, msg string) *Error {
	m := strings.ToLower(msg)
	switch {
	case m == "":
		return nil
	case strings.Contains(m, "wrong credentials"), strings.Contains(m, "invalid credentials"),
		strings.Contains(m, "unauthorized"):
		return AuthenticationErr(op, "invalid credentials", nil)
	case strings.Contains(m, "does not exist"), strings.Contains(m, "not found"):
		return LoginErr(op, "user not found", ErrNotFound)
	case strings.Contains(m, "locked"):
		return LoginErr(op, "user is locked", nil)
	default:
		return nil
	}
}
