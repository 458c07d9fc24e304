package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/ecotherm/internal/thermostat"
)

func TestStateOnlyDecodedFields(t *testing.T) {
	snap := thermostat.Telemetry{
		Temperature:  21.5,
		BatteryLevel: 78,
		Setpoint:     19, // not decoded
		ChildSafety:  true,
		Mode:         thermostat.ModeHeat,
		Fields:       thermostat.FieldTemperature | thermostat.FieldBatteryLevel | thermostat.FieldChildSafety | thermostat.FieldMode,
	}
	assert.Equal(t, map[string]any{
		"temperature":   21.5,
		"battery_level": uint8(78),
		"child_safety":  true,
		"mode":          "heat",
		"preset":        "none",
	}, State(snap))
}

func TestStateDeviceProblemAndPreset(t *testing.T) {
	snap := thermostat.Telemetry{
		Mode:                thermostat.ModeHeat,
		Setpoint:            15,
		VacationTemperature: 15,
		ProblemFlags:        thermostat.ProblemWindowOpen,
		Fields:              thermostat.FieldMode | thermostat.FieldSetpoint | thermostat.FieldVacation | thermostat.FieldProblems,
	}
	state := State(snap)
	assert.Equal(t, "away", state["preset"])
	assert.Equal(t, true, state["device_problem"])
	assert.Equal(t, uint16(thermostat.ProblemWindowOpen), state["problems"])

	snap.ProblemFlags = 0
	assert.Equal(t, false, State(snap)["device_problem"])
}

func TestEntityKey(t *testing.T) {
	assert.Equal(t, "temperature_min", entityKey(thermostat.SetTemperatureMin))
	assert.Equal(t, "setpoint", entityKey(thermostat.SetSetpoint))
	assert.Equal(t, "kind(99)", entityKey(thermostat.Kind(99)))
}

func TestEntitiesCoverEveryField(t *testing.T) {
	var all thermostat.Field
	writable := map[thermostat.Kind]bool{}
	for _, e := range entities {
		all |= e.Field
		if e.Writable {
			writable[e.Kind] = true
		}
	}
	assert.Equal(t, thermostat.FieldMode<<1-1, all)
	assert.Len(t, writable, 8)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		key, payload string
		want         thermostat.Command
	}{
		{"setpoint", "21.5", thermostat.Setpoint(21.5)},
		{"temperature_min", " 5 ", thermostat.TemperatureMin(5)},
		{"temperature_max", "30", thermostat.TemperatureMax(30)},
		{"frost_protection_temperature", "6.5", thermostat.FrostProtection(6.5)},
		{"vacation_temperature", "15", thermostat.VacationTemperature(15)},
		{"child_safety", "ON", thermostat.ChildSafety(true)},
		{"adaptive_learning", "false", thermostat.AdaptiveLearning(false)},
		{"mode", "off", thermostat.ModeCommand(thermostat.ModeOff)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := ParseCommand(tt.key, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandRejects(t *testing.T) {
	tests := []struct{ key, payload string }{
		{"temperature", "20"},   // read-only field
		{"battery_level", "50"}, // read-only field
		{"nonsense", "1"},
		{"setpoint", "warm"},
		{"child_safety", "maybe"},
		{"mode", "turbo"},
	}
	for _, tt := range tests {
		_, err := ParseCommand(tt.key, tt.payload)
		assert.ErrorIs(t, err, thermostat.ErrCommandRejected, "%s=%s", tt.key, tt.payload)
	}
}
