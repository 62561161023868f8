package slogx_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/aussiebroadwan/bpmgate/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{
		Service: "bpm-gateway",
		Version: "v1",
		Env:     "test",
		Level:   "warn",
		Format:  "text",
		Output:  &buf,
	})
	require.Same(t, logger, slog.Default())

	logger.Info("dropped")
	logger.Warn("kept", "backend", "ldap")
	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, "msg=kept")
	require.Contains(t, out, "service=bpm-gateway")
	require.Contains(t, out, "backend=ldap")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, slogx.ParseLevel(in), in)
	}
}
