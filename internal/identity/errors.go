package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies identity failures. Each kind maps to one HTTP status.
type ErrorKind int

const (
	// KindSystem is an unexpected technical failure: network, malformed
	// remote response, misconfiguration.
	KindSystem ErrorKind = iota

	// KindAuthentication covers bad credentials, bad signatures, nonce
	// mismatch and engine claim mismatch.
	KindAuthentication

	// KindTokenExpired is the error form of an expired bearer. Most callers
	// receive a Result instead; see Result.Err.
	KindTokenExpired

	// KindLogin is a backend specific login failure such as an unknown
	// directory user.
	KindLogin
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindTokenExpired:
		return "token_expired"
	case KindLogin:
		return "login"
	default:
		return "system"
	}
}

var (
	// ErrTokenExpired is matched by every KindTokenExpired error.
	ErrTokenExpired = errors.New("identity: token expired")

	// ErrAnonymousNotAllowed rejects anonymous identities at entry points
	// that did not opt in.
	ErrAnonymousNotAllowed = errors.New("identity: anonymous access not allowed")

	// ErrAnonymousDisabled is returned when no anonymous user is configured.
	ErrAnonymousDisabled = errors.New("identity: anonymous login is disabled")

	// ErrEngineMismatch is the cause of an authentication failure when the
	// token's engine claim differs from the request's engine.
	ErrEngineMismatch = errors.New("identity: token bound to a different engine")

	// ErrEngineNotAllowed marks engine identifiers that name a location
	// the gateway is not configured for.
	ErrEngineNotAllowed = errors.New("identity: engine location not allowed")

	// ErrNotFound marks login failures for principals the backend does not know.
	ErrNotFound = errors.New("identity: user not found")

	// ErrNoCredentials is returned when a request carries no bearer and no
	// basic credentials.
	ErrNoCredentials = errors.New("identity: no credentials")
)

// Error is the structured error every identity component returns.
type Error struct {
	Kind    ErrorKind
	Op      string // operation that failed, e.g. "ldap.login"
	Message string // safe to show to clients

	// Detail holds diagnostics such as a provider's raw error body. It is
	// logged, never written to a response.
	Detail string

	Cause error

	// ReissuedToken is only set on KindTokenExpired errors whose bearer was
	// prolonged.
	ReissuedToken string

	timeout bool
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrTokenExpired) match any expiry error.
func (e *Error) Is(target error) bool {
	return target == ErrTokenExpired && e.Kind == KindTokenExpired
}

// Timeout reports whether the failure was an outbound call running out of time.
func (e *Error) Timeout() bool { return e.timeout }

// HTTPStatus returns the status a controller should answer with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication, KindTokenExpired:
		return http.StatusUnauthorized
	case KindLogin:
		if errors.Is(e.Cause, ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	default:
		if e.timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

// AuthenticationErr creates a KindAuthentication error.
func AuthenticationErr(op, message string, cause error) *Error {
	return &Error{Kind: KindAuthentication, Op: op, Message: message, Cause: cause}
}

// LoginErr creates a KindLogin error.
func LoginErr(op, message string, cause error) *Error {
	return &Error{Kind: KindLogin, Op: op, Message: message, Cause: cause}
}

// SystemErr creates a KindSystem error. Outbound timeouts found in the
// cause chain are flagged so callers can tell them apart.
func SystemErr(op, message string, cause error) *Error {
	return &Error{Kind: KindSystem, Op: op, Message: message, Cause: cause, timeout: isTimeout(cause)}
}

// TimeoutErr creates a KindSystem error flagged as a timeout.
func TimeoutErr(op string, cause error) *Error {
	return &Error{Kind: KindSystem, Op: op, Message: "upstream call timed out", Cause: cause, timeout: true}
}

// Wrap keeps typed identity errors as they are and turns anything else into
// a system error. A nil err returns nil.
func Wrap(err error, op, message string) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return SystemErr(op, message, err)
}

// KindOf returns the kind of err, KindSystem for untyped errors.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindSystem
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == KindAuthentication
}

// IsTimeout reports whether err is, or wraps, an outbound timeout.
func IsTimeout(err error) bool {
	var ie *Error
	if errors.As(err, &ie) && ie.timeout {
		return true
	}
	return isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if to, ok := e.(interface{ Timeout() bool }); ok && to.Timeout() {
			return true
		}
	}
	return false
}

// WithDetail returns a copy of e carrying diagnostic detail.
func (e *Error) WithDetail(detail string) *Error {
	cp := *e
	cp.Detail = detail
	return &cp
}
