package jwtx

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded claim set of a provider-issued token. Providers
// disagree on almost every custom claim, so they are kept as a map and read
// through the typed helpers below.
type Claims = jwt.MapClaims

// String returns the named claim as a string, or "" if it is absent or not
// a string.
func String(c Claims, name string) string {
	if c == nil {
		return ""
	}
	s, _ := c[name].(string)
	return s
}

// Strings returns the named claim as a string list. A single string value
// is treated as a one element list.
func Strings(c Claims, name string) []string {
	if c == nil {
		return nil
	}
	switch v := c[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Time returns a NumericDate claim as time, zero if absent.
func Time(c Claims, name string) time.Time {
	if c == nil {
		return time.Time{}
	}
	switch v := c[name].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	case *jwt.NumericDate:
		if v != nil {
			return v.Time.UTC()
		}
	}
	return time.Time{}
}

// LooksLikeJWT reports whether a token has the three dot separated segments
// of a compact JWS. Opaque access tokens from providers usually do not.
func LooksLikeJWT(token string) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	return err == nil
}
