package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerRenamesAndMasks(t *testing.T) {
	var buf bytes.Buffer
	handler, err := newHandler(&buf, "json", slog.LevelInfo)
	require.NoError(t, err)
	logger := slog.New(handler)

	logger.Info("submitted", slog.String("module", "accumulator"), slog.String("authToken", "s3cret"))
	logger.Debug("dropped")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "submitted", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "accumulator", line["module"])
	require.Equal(t, RedactedValue, line["authToken"])
	require.NotContains(t, buf.String(), "dropped")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)

	_, err = newHandler(&bytes.Buffer{}, "xml", slog.LevelInfo)
	require.Error(t, err)
}

func TestNewWritesRotatedFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "accumd.log")
	logger, closer, err := New(Options{Service: "accumd", Env: "test", Format: "json", File: FileOptions{Path: path, MaxSizeMB: 1}})
	require.NoError(t, err)
	logger.Info("hello", slog.String("secret", "x"))
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &line))
	require.Equal(t, "accumd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["secret"])
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "accumulator", MaskField("module", "accumulator").Value.String())
	require.Equal(t, RedactedValue, MaskField("listen", "0.0.0.0:8545").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
	require.True(t, IsSensitive("Authorization"))
	require.False(t, IsSensitive("module"))
	require.Contains(t, RedactionAllowlist(), "requestid")
}
