package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chaz8081/ecotherm/internal/thermostat"
)

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	sink.OnTelemetry("bedroom", thermostat.Telemetry{
		Temperature: 19.5,
		Fields:      thermostat.FieldTemperature,
	})
	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "bedroom", ctx["device"])
	assert.Equal(t, 19.5, ctx["temperature"])
	assert.NotContains(t, ctx, "battery_level")

	sink.OnHealth("bedroom", true)
	sink.OnCommand("bedroom", thermostat.Setpoint(20), errors.New("not confirmed"))
	entries = logs.TakeAll()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
