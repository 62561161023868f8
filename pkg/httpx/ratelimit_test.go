package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func fromAddr(addr string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	r.RemoteAddr = addr
	return r
}

func TestParseLimit(t *testing.T) {
	valid := map[string]Limit{
		"5/1m":       {Requests: 5, Window: time.Minute, Burst: 5},
		"20/30s+40":  {Requests: 20, Window: 30 * time.Second, Burst: 40},
		" 3 / 1h +1": {Requests: 3, Window: time.Hour, Burst: 1},
	}
	for in, want := range valid {
		got, err := ParseLimit(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "5", "0/1m", "-1/1m", "5/0s", "5/minute", "5/1m+0", "5/1m+x"} {
		_, err := ParseLimit(in)
		require.Error(t, err, in)
	}
}

func TestLimitFromEnv(t *testing.T) {
	def := Limit{Requests: 5, Window: time.Minute, Burst: 5}

	t.Run("unset keeps default", func(t *testing.T) {
		require.Equal(t, def, LimitFromEnv("GATEWAY_RATELIMIT_TEST", def))
	})

	t.Run("override", func(t *testing.T) {
		t.Setenv("GATEWAY_RATELIMIT_TEST", "50/10s+60")
		require.Equal(t, Limit{Requests: 50, Window: 10 * time.Second, Burst: 60}, LimitFromEnv("GATEWAY_RATELIMIT_TEST", def))
	})

	t.Run("malformed keeps default", func(t *testing.T) {
		t.Setenv("GATEWAY_RATELIMIT_TEST", "lots")
		require.Equal(t, def, LimitFromEnv("GATEWAY_RATELIMIT_TEST", def))
	})
}

func TestProfilesAreOrdered(t *testing.T) {
	profiles := []Limit{StrictLimit, ModerateLimit, LenientLimit, PublicLimit}
	for i := 1; i < len(profiles); i++ {
		require.Greater(t, float64(profiles[i].rate()), float64(profiles[i-1].rate()))
	}
}

func TestClientIP(t *testing.T) {
	t.Run("forwarding headers of an untrusted peer are ignored", func(t *testing.T) {
		r := fromAddr("192.0.2.10:5100")
		require.Equal(t, "192.0.2.10", ClientIP(r))

		r.Header.Set("X-Real-IP", "198.51.100.7")
		r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
		require.Equal(t, "192.0.2.10", ClientIP(r))
		require.Equal(t, "192.0.2.10", clientIP(r, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}))

		require.Equal(t, "pipe", ClientIP(fromAddr("pipe")))
	})

	t.Run("trusted proxy", func(t *testing.T) {
		trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

		r := fromAddr("10.0.0.2:5100")
		require.Equal(t, "10.0.0.2", clientIP(r, trusted))

		r.Header.Set("X-Real-IP", " 198.51.100.7 ")
		require.Equal(t, "198.51.100.7", clientIP(r, trusted))

		r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
		require.Equal(t, "203.0.113.5", clientIP(r, trusted))

		// A client supplied hop left of the real one is not believed.
		r.Header.Set("X-Forwarded-For", "198.51.100.99, 203.0.113.5, 10.0.0.1")
		require.Equal(t, "203.0.113.5", clientIP(r, trusted))

		r.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
		require.Equal(t, "10.0.0.9", clientIP(r, trusted))
	})
}

func TestParseProxies(t *testing.T) {
	got, err := ParseProxies("10.0.0.0/8, 192.0.2.7 ::ffff:198.51.100.1")
	require.NoError(t, err)
	require.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("198.51.100.1/32"),
	}, got)

	got, err = ParseProxies("")
	require.NoError(t, err)
	require.Empty(t, got)

	for _, in := range []string{"10.0.0.0/33", "proxy.internal"} {
		_, err := ParseProxies(in)
		require.Error(t, err, in)
	}
}

func TestRateLimitIgnoresSpoofedForwarding(t *testing.T) {
	h := RateLimitByIPAndCredential(Limit{Requests: 1, Window: time.Hour, Burst: 1}, "username")(okHandler())

	login := func(forwarded string) int {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"mary"}`))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("X-Forwarded-For", forwarded)
		r.RemoteAddr = "192.0.2.1:1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, login("203.0.113.1"))
	require.Equal(t, http.StatusTooManyRequests, login("203.0.113.2"))
}

func TestCredentialKey(t *testing.T) {
	username := CredentialKey("username")

	t.Run("basic credentials", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		r.SetBasicAuth("jdoe", "secret")
		require.Equal(t, "jdoe", username(r))
	})

	t.Run("query", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login?username=qs", nil)
		require.Equal(t, "qs", username(r))
	})

	t.Run("form body stays readable", func(t *testing.T) {
		form := url.Values{"username": {"mary"}, "password": {"pw"}}
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		require.Equal(t, "mary", username(r))
		require.Equal(t, "pw", r.PostForm.Get("password"))
	})

	t.Run("json body is restored", func(t *testing.T) {
		body := `{"username":"joe","password":"pw"}`
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		require.Equal(t, "joe", username(r))

		rest, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, body, string(rest))
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"code":"abc"}`))
		r.Header.Set("Content-Type", "application/json")
		require.Empty(t, username(r))
	})
}

func TestJoinKeys(t *testing.T) {
	key := JoinKeys(":", UserKey, EngineKey, ClientIP)

	r := fromAddr("192.0.2.10:5100")
	require.Equal(t, "192.0.2.10", key(r))

	r.Header.Set("X-Engine", "default")
	r = r.WithContext(WithUserID(r.Context(), "demo"))
	require.Equal(t, "demo:default:192.0.2.10", key(r))
}

func TestRateLimit(t *testing.T) {
	clock := newClock()
	b := newBuckets(Limit{Requests: 2, Window: time.Minute, Burst: 2}, clock.now)
	h := rateLimit(b, ClientIP)(okHandler())

	serve := func(addr string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, fromAddr(addr))
		return rec
	}

	require.Equal(t, http.StatusNoContent, serve("192.0.2.1:1").Code)
	require.Equal(t, http.StatusNoContent, serve("192.0.2.1:2").Code)

	rec := serve("192.0.2.1:3")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, []string{"30", "31"}, rec.Header().Get("Retry-After"))
	require.Equal(t, "2;w=60", rec.Header().Get("RateLimit-Policy"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "rate_limited", body["error"])

	// another client has its own bucket
	require.Equal(t, http.StatusNoContent, serve("192.0.2.2:1").Code)

	// refusals do not spend tokens, one refills after half a window
	clock.advance(31 * time.Second)
	require.Equal(t, http.StatusNoContent, serve("192.0.2.1:4").Code)
	require.Equal(t, http.StatusTooManyRequests, serve("192.0.2.1:5").Code)
}

func TestRateLimitWithoutKey(t *testing.T) {
	h := RateLimit(Limit{Requests: 1, Window: time.Minute, Burst: 1}, UserKey)(okHandler())
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, fromAddr("192.0.2.1:1"))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestIdleBucketsAreSwept(t *testing.T) {
	clock := newClock()
	b := newBuckets(Limit{Requests: 10, Window: time.Minute, Burst: 10}, clock.now)

	for _, k := range []string{"a", "b", "c"} {
		ok, _ := b.take(k)
		require.True(t, ok)
	}
	require.Equal(t, 3, b.size())

	clock.advance(30 * time.Second)
	ok, _ := b.take("a")
	require.True(t, ok)

	clock.advance(45 * time.Second)
	ok, _ = b.take("d")
	require.True(t, ok)
	require.Equal(t, 2, b.size(), "only a and d were seen within the idle period")
}

func TestRateLimitByIPAndCredential(t *testing.T) {
	h := RateLimitByIPAndCredential(Limit{Requests: 1, Window: time.Hour, Burst: 1}, "username")(okHandler())

	login := func(user, engine string) int {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"`+user+`"}`))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("X-Engine", engine)
		r.RemoteAddr = "192.0.2.1:1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, login("mary", "default"))
	require.Equal(t, http.StatusTooManyRequests, login("mary", "default"))
	require.Equal(t, http.StatusNoContent, login("joe", "default"))
	require.Equal(t, http.StatusNoContent, login("mary", "other"))
}
