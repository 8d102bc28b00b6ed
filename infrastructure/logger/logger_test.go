package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewDefault(t *testing.T) {
	l, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, l.Logger)
}

func TestLogEventAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core)

	l.LogEvent("card_tracked", map[string]interface{}{"card": "1", "season": "3"})

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "card_tracked", ctx["event"])
	assert.Contains(t, ctx, "ts")
}

func TestLogEventSchemaViolation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core)

	l.LogEvent("fetch_error", map[string]interface{}{"card": "1"})

	assert.Equal(t, 1, logs.FilterMessage("log_schema_violation").Len())
	assert.Equal(t, 1, logs.FilterMessage("fetch_error").Len())
}

func TestLogErrorAndWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core).WithFields(map[string]interface{}{"component": "test"})

	l.LogError(errors.New("boom"), nil)

	entries := logs.FilterMessage("error_event").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, "test", ctx["component"])
}
