package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerJSONCarriesServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"})

	logger.Info("dropped")
	logger.Warn("period closed", slog.String("period", "2024-05"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "period closed", record["msg"])
	require.Equal(t, "ledgercore", record["service"])
	require.Equal(t, "staging", record["env"])
	require.Equal(t, "2024-05", record["period"])
}

func TestLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogLevel: "loud"})
	require.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	require.True(t, logger.Enabled(context.Background(), slog.LevelInfo))

	logger = newLogger(&buf, nil)
	logger.Info("ready")
	require.Contains(t, buf.String(), "service=ledgercore")
	require.NotContains(t, buf.String(), "env=")
}
