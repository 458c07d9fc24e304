package thermostat

import (
	"fmt"
	"strings"
)

// Preset is a climate preset. The device has no preset register, so presets
// are expressed as mode and setpoint writes: home follows the weekly
// schedule, away holds the vacation temperature and sleep holds the frost
// protection temperature.
type Preset string

const (
	PresetNone  Preset = "none"
	PresetHome  Preset = "home"
	PresetAway  Preset = "away"
	PresetSleep Preset = "sleep"
)

// Presets lists the selectable presets.
func Presets() []Preset {
	return []Preset{PresetHome, PresetAway, PresetSleep}
}

// ParsePreset maps an outward preset name to a Preset.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PresetHome, PresetAway, PresetSleep:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown preset %q", ErrCommandRejected, s)
}

// PresetOf derives the active preset from a snapshot. A manual setpoint
// matching neither the vacation nor the frost protection temperature is
// PresetNone.
func PresetOf(t Telemetry) Preset {
	switch {
	case !t.Has(FieldMode):
		return PresetNone
	case t.Mode == ModeAuto:
		return PresetHome
	case t.Mode != ModeHeat || !t.Has(FieldSetpoint):
		return PresetNone
	case t.Has(FieldVacation) && t.Setpoint == t.VacationTemperature:
		return PresetAway
	case t.Has(FieldFrostProtection) && t.Setpoint == t.FrostProtectionTemperature:
		return PresetSleep
	}
	return PresetNone
}

// Commands returns the writes that select p on a device last seen as t.
func (p Preset) Commands(t Telemetry) ([]Command, error) {
	switch p {
	case PresetHome:
		return []Command{ModeCommand(ModeAuto)}, nil
	case PresetAway:
		if !t.Has(FieldVacation) {
			return nil, fmt.Errorf("%w: preset %s needs the vacation temperature, not read yet", ErrCommandRejected, p)
		}
		return []Command{ModeCommand(ModeHeat), Setpoint(t.VacationTemperature)}, nil
	case PresetSleep:
		if !t.Has(FieldFrostProtection) {
			return nil, fmt.Errorf("%w: preset %s needs the frost protection temperature, not read yet", ErrCommandRejected, p)
		}
		return []Command{ModeCommand(ModeHeat), Setpoint(t.FrostProtectionTemperature)}, nil
	}
	return nil, fmt.Errorf("%w: unknown preset %q", ErrCommandRejected, string(p))
}
