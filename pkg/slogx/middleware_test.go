package slogx_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/bpmgate/pkg/idx"
	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := slogx.HTTPMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := slogx.With(r.Context(), "user_id", "jdoe")
		slogx.FromContext(ctx).Info("inside")
		w.WriteHeader(http.StatusUnauthorized)
	}))

	t.Run("generates request id", func(t *testing.T) {
		buf.Reset()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

		reqID := rec.Header().Get(slogx.RequestIDHeader)
		_, err := idx.Parse(reqID)
		require.NoError(t, err)

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 2)
		require.Equal(t, "inside", lines[0]["msg"])
		require.Equal(t, "jdoe", lines[0]["user_id"])
		require.Equal(t, reqID, lines[0]["req_id"])
		require.Equal(t, "http_request", lines[1]["msg"])
		require.Equal(t, "WARN", lines[1]["level"])
		require.EqualValues(t, http.StatusUnauthorized, lines[1]["status"])
	})

	t.Run("echoes caller request id", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set(slogx.RequestIDHeader, "trace-42")
		req.Header.Set("X-Engine", "default")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, "trace-42", rec.Header().Get(slogx.RequestIDHeader))
		lines := decodeLines(t, &buf)
		require.Equal(t, "trace-42", lines[1]["req_id"])
		require.Equal(t, "default", lines[1]["engine"])
	})
}

func TestFromContextDefault(t *testing.T) {
	require.Same(t, slog.Default(), slogx.FromContext(t.Context()))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}
