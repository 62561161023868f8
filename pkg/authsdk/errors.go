package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/bpmgate/pkg/httpx"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeTokenExpired   = "token_expired"
	ErrorCodeLoginFailed    = "login_failed"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeServerError    = "server_error"
	ErrorCodeTimeout        = "timeout"
	ErrorCodeRateLimited    = "rate_limited"
)

// RenewedTokenHeader carries a renewed bearer on token_expired responses.
const RenewedTokenHeader = "X-Renewed-Token"

// ============================================================================
// APIError
// ============================================================================

// APIError is an error response of the gateway. It is used by the server
// to write responses and by the client to report them.
type APIError struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is the error code (e.g., "unauthorized", "token_expired")
	Code string `json:"error"`

	// Message is a human-readable description of the error
	Message string `json:"message,omitempty"`

	// RenewedToken replaces the presented bearer when Code is token_expired
	RenewedToken string `json:"token,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WriteError writes e to w. 401 responses carry an RFC 6750 challenge.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	if e.StatusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", httpx.BearerChallenge(e.Code, e.Message))
	}
	if e.RenewedToken != "" {
		w.Header().Set(RenewedTokenHeader, e.RenewedToken)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   e.Code,
		Message: e.Message,
		Token:   e.RenewedToken,
	})
}

// NewAPIError creates an APIError.
func NewAPIError(statusCode int, code, message string) *APIError {
	return &APIError{StatusCode: statusCode, Code: code, Message: message}
}

// IsTokenExpired reports whether err is a token_expired response and
// returns the renewed bearer it carries, if any.
func IsTokenExpired(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == ErrorCodeTokenExpired {
		return apiErr.RenewedToken, true
	}
	return "", false
}

// StatusCode returns the HTTP status of an APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ============================================================================
// Predefined Errors
// ============================================================================

var (
	ErrInvalidRequest = &APIError{
		StatusCode: http.StatusBadRequest,
		Code:       ErrorCodeInvalidRequest,
		Message:    "the request is malformed or missing required parameters",
	}

	ErrUnauthorized = &APIError{
		StatusCode: http.StatusUnauthorized,
		Code:       ErrorCodeUnauthorized,
		Message:    "authentication required",
	}

	ErrServerError = &APIError{
		StatusCode: http.StatusInternalServerError,
		Code:       ErrorCodeServerError,
		Message:    "internal server error",
	}
)

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns an error response into an *APIError. The renewed
// token is taken from the header when the body lacks it.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Error
		apiErr.Message = errResp.Message
		apiErr.RenewedToken = errResp.Token
	} else {
		apiErr.Code = ErrorCodeServerError
		apiErr.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if apiErr.RenewedToken == "" {
		apiErr.RenewedToken = resp.Header.Get(RenewedTokenHeader)
	}
	return apiErr
}
