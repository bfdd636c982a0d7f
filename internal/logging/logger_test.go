package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hpungsan/strata/internal/config"
)

func TestNew_JSONEncoder(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible", zap.String("k", "v"))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "v", entry["k"])
	assert.Equal(t, "strata", entry["service"])
	assert.Contains(t, entry, "ts")
}

func TestNew_ConsoleEncoder(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LogConfig{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)

	logger.Debug("hello")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "hello")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := NewWithWriter(config.LogConfig{Level: "loud", Format: "json"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithSessionID(ctx, "s1")
	ctx = WithTurnID(ctx, "t1")
	ctx = WithRequestID(ctx, "r1")
	assert.Equal(t, "s1", SessionIDFromContext(ctx))
	assert.Equal(t, "t1", TurnIDFromContext(ctx))
	assert.Equal(t, "r1", RequestIDFromContext(ctx))

	core, logs := observer.New(zap.InfoLevel)
	For(ctx, zap.New(core)).Info("x")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "s1", fields["session.id"])
	assert.Equal(t, "t1", fields["turn.id"])
	assert.Equal(t, "r1", fields["request.id"])
}
