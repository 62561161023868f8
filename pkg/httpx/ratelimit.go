package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
	"golang.org/x/time/rate"
)

// Limit is a token bucket: Requests per Window refill rate, with Burst
// tokens available to a new client.
type Limit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Profiles used by the gateway routes. Each can be overridden through
// GATEWAY_RATELIMIT_<NAME>, see ParseLimit for the format.
var (
	// StrictLimit guards credential checks.
	StrictLimit = Limit{Requests: 5, Window: time.Minute, Burst: 5}
	// ModerateLimit guards calls that reach the identity provider.
	ModerateLimit = Limit{Requests: 20, Window: time.Minute, Burst: 20}
	// LenientLimit guards interactive reads and health probes.
	LenientLimit = Limit{Requests: 100, Window: time.Minute, Burst: 100}
	// PublicLimit guards verification calls made by satellite gateways.
	PublicLimit = Limit{Requests: 1000, Window: time.Minute, Burst: 1000}
)

// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
// headers ClientIP honours. Empty means no proxy is trusted. It is read
// from GATEWAY_TRUSTED_PROXIES, see ParseProxies for the format.
var TrustedProxies []netip.Prefix

func init() {
	StrictLimit = LimitFromEnv("GATEWAY_RATELIMIT_STRICT", StrictLimit)
	ModerateLimit = LimitFromEnv("GATEWAY_RATELIMIT_MODERATE", ModerateLimit)
	LenientLimit = LimitFromEnv("GATEWAY_RATELIMIT_LENIENT", LenientLimit)
	PublicLimit = LimitFromEnv("GATEWAY_RATELIMIT_PUBLIC", PublicLimit)

	if proxies, err := ParseProxies(os.Getenv("GATEWAY_TRUSTED_PROXIES")); err == nil {
		TrustedProxies = proxies
	}
}

// ParseProxies parses a comma separated list of CIDR prefixes and plain
// addresses, e.g. "10.0.0.0/8, 192.0.2.7".
func ParseProxies(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range SplitList(s) {
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("httpx: trusted proxy %q: %w", item, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("httpx: trusted proxy %q: %w", item, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ParseLimit parses "requests/window" with an optional "+burst" suffix,
// e.g. "5/1m" or "20/30s+40". Without a suffix the burst equals requests.
func ParseLimit(s string) (Limit, error) {
	rateStr, burstStr, hasBurst := strings.Cut(strings.TrimSpace(s), "+")
	reqStr, winStr, ok := strings.Cut(rateStr, "/")
	if !ok {
		return Limit{}, fmt.Errorf("httpx: rate limit %q: want requests/window", s)
	}

	requests, err := strconv.Atoi(strings.TrimSpace(reqStr))
	if err != nil || requests <= 0 {
		return Limit{}, fmt.Errorf("httpx: rate limit %q: requests must be a positive integer", s)
	}
	window, err := time.ParseDuration(strings.TrimSpace(winStr))
	if err != nil || window <= 0 {
		return Limit{}, fmt.Errorf("httpx: rate limit %q: window must be a positive duration", s)
	}

	l := Limit{Requests: requests, Window: window, Burst: requests}
	if hasBurst {
		burst, err := strconv.Atoi(strings.TrimSpace(burstStr))
		if err != nil || burst <= 0 {
			return Limit{}, fmt.Errorf("httpx: rate limit %q: burst must be a positive integer", s)
		}
		l.Burst = burst
	}
	return l, nil
}

// LimitFromEnv returns the limit in the environment variable key, or def
// when it is unset or malformed.
func LimitFromEnv(key string, def Limit) Limit {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	l, err := ParseLimit(v)
	if err != nil {
		return def
	}
	return l
}

func (l Limit) String() string {
	return fmt.Sprintf("%d/%s+%d", l.Requests, l.Window, l.Burst)
}

func (l Limit) rate() rate.Limit {
	return rate.Limit(float64(l.Requests) / l.Window.Seconds())
}

// refill is how long an emptied bucket takes to fill up again.
func (l Limit) refill() time.Duration {
	return time.Duration(float64(l.Window) * float64(l.Burst) / float64(l.Requests))
}

// KeyFunc groups requests into buckets. An empty key bypasses limiting.
type KeyFunc func(*http.Request) string

// ClientIP returns the address of the client. Forwarding headers count
// only when the peer is one of TrustedProxies: X-Forwarded-For is read
// right to left and the first hop that is not a trusted proxy wins, then
// X-Real-IP, then the peer address.
func ClientIP(r *http.Request) string {
	return clientIP(r, TrustedProxies)
}

func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !isTrusted(hops[i], trusted) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func isTrusted(addr string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, p := range trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// UserKey returns the authenticated user id.
func UserKey(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

// EngineKey returns the engine the request targets.
func EngineKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Engine"))
}

// JoinKeys concatenates the non-empty keys of fns with sep.
func JoinKeys(sep string, fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(fns))
		for _, fn := range fns {
			if k := fn(r); k != "" {
				parts = append(parts, k)
			}
		}
		return strings.Join(parts, sep)
	}
}

// maxPeekBody caps how much of a JSON body CredentialKey buffers.
const maxPeekBody = 64 << 10

// CredentialKey returns a login field of the request. Basic credentials
// answer for "username", then query and form values, then a JSON body. A
// JSON body is restored for the handler.
func CredentialKey(field string) KeyFunc {
	return func(r *http.Request) string {
		if field == "username" {
			if user, _, ok := r.BasicAuth(); ok && user != "" {
				return user
			}
		}
		if v := r.URL.Query().Get(field); v != "" {
			return v
		}

		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			return peekJSONField(r, field)
		}
		if err := r.ParseForm(); err == nil {
			return r.PostFormValue(field)
		}
		return ""
	}
}

func peekJSONField(r *http.Request, field string) string {
	if r.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	v, _ := fields[field].(string)
	return v
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// buckets holds one limiter per key. Buckets idle for longer than their
// refill time are dropped on the next sweep, they would be full anyway.
type buckets struct {
	limit Limit
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	byKey     map[string]*bucket
	lastSweep time.Time
}

func newBuckets(l Limit, now func() time.Time) *buckets {
	return &buckets{
		limit:     l,
		idle:      max(l.refill(), time.Minute),
		now:       now,
		byKey:     make(map[string]*bucket),
		lastSweep: now(),
	}
}

// take spends a token of key's bucket. When none is available it returns
// how long until one is.
func (b *buckets) take(key string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Sub(b.lastSweep) >= b.idle {
		for k, bk := range b.byKey {
			if now.Sub(bk.seen) >= b.idle {
				delete(b.byKey, k)
			}
		}
		b.lastSweep = now
	}

	bk, ok := b.byKey[key]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(b.limit.rate(), b.limit.Burst)}
		b.byKey[key] = bk
	}
	bk.seen = now

	res := bk.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}

// RateLimit answers 429 once the bucket of a request's key is empty.
func RateLimit(l Limit, key KeyFunc) Middleware {
	return rateLimit(newBuckets(l, time.Now), key)
}

func rateLimit(b *buckets, key KeyFunc) Middleware {
	policy := fmt.Sprintf("%d;w=%d", b.limit.Requests, int(b.limit.Window.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				slogx.FromContext(r.Context()).Warn("rate limit key missing, request allowed", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			ok, delay := b.take(k)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(int(math.Ceil(delay.Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("RateLimit-Policy", policy)
			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", k,
				"limit", b.limit.String(),
				"retry_after", retryAfter,
			)
			WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		})
	}
}

// RateLimitByIP limits per client address.
func RateLimitByIP(l Limit) Middleware {
	return RateLimit(l, ClientIP)
}

// RateLimitByUser limits per authenticated user and client address. It
// must run after authentication.
func RateLimitByUser(l Limit) Middleware {
	return RateLimit(l, JoinKeys(":", UserKey, ClientIP))
}

// RateLimitByIPAndCredential limits login attempts per client address,
// engine and login field.
func RateLimitByIPAndCredential(l Limit, field string) Middleware {
	return RateLimit(l, JoinKeys(":", ClientIP, EngineKey, CredentialKey(field)))
}
