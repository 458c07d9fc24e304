package thermostat

import (
	"fmt"
	"strings"
)

// Mode is the heating mode reported and accepted by the thermostat.
type Mode uint8

const (
	ModeAuto Mode = iota // follow the weekly schedule
	ModeHeat             // manual setpoint
	ModeOff              // frost protection only
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeHeat:
		return "heat"
	case ModeOff:
		return "off"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps the outward names back to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return ModeAuto, nil
	case "heat":
		return ModeHeat, nil
	case "off":
		return ModeOff, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// ProblemFlags is the device diagnostic bitset.
type ProblemFlags uint16

const (
	ProblemLowBattery ProblemFlags = 1 << iota
	ProblemSensorFailure
	ProblemValveJammed
	ProblemWindowOpen
	ProblemClockLost
)

// Field identifies one telemetry value.
type Field uint16

const (
	FieldTemperature Field = 1 << iota
	FieldSetpoint
	FieldBatteryLevel
	FieldSetpointMin
	FieldSetpointMax
	FieldFrostProtection
	FieldVacation
	FieldChildSafety
	FieldAdaptiveLearning
	FieldProblems
	FieldMACAddress
	FieldHardwareRevision
	FieldFirmwareRevision
	FieldMode
)

// Telemetry is one decoded snapshot of device state. Temperatures are in °C.
type Telemetry struct {
	Temperature                float64
	Setpoint                   float64
	BatteryLevel               uint8
	SetpointMin                float64
	SetpointMax                float64
	FrostProtectionTemperature float64
	VacationTemperature        float64
	ChildSafety                bool
	AdaptiveLearning           bool
	ProblemFlags               ProblemFlags
	MACAddress                 string
	HardwareRevision           string
	FirmwareRevision           string
	Mode                       Mode

	// Fields records which values were decoded from the device.
	Fields Field
}

// Has reports whether f was decoded.
func (t Telemetry) Has(f Field) bool {
	return t.Fields&f != 0
}

// Problems is true when the device reports any diagnostic flag.
func (t Telemetry) Problems() bool {
	return t.ProblemFlags != 0
}
