package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestLogger_ContextFields(t *testing.T) {
	buf := &syncBuffer{}
	cfg := NewDefaultConfig().WithWriter(zapcore.AddSync(buf))

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	ctx := WithTaskID(context.Background(), "task-42")
	ctx = WithSessionID(ctx, "sess-1")
	logger.Info(ctx, "doing work")
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "doing work", entry["msg"])
	assert.Equal(t, "task-42", entry["task.id"])
	assert.Equal(t, "sess-1", entry["session.id"])
	assert.Equal(t, "orchd", entry["service"])
}

func TestLogger_Named(t *testing.T) {
	buf := &syncBuffer{}
	cfg := NewDefaultConfig().WithWriter(zapcore.AddSync(buf))

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Named("scheduler").Info(context.Background(), "ready")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scheduler", entry["logger"])
}

func TestTaskIDFromContext_Empty(t *testing.T) {
	assert.Equal(t, "", TaskIDFromContext(context.Background()))
}
