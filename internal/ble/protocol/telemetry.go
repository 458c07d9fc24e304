package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// Wire scales. Room temperature is int16 tenths of a degree; every
// setpoint-like value is uint8 half degrees.
const (
	TemperatureScale = 10
	SetpointScale    = 2
)

type valueKind uint8

const (
	kindRoomTemp valueKind = iota
	kindSetpoint
	kindPercent
	kindBool
	kindMode
	kindFlags
	kindMAC
	kindASCII
)

type fieldSpec struct {
	name  string
	kind  valueKind
	field thermostat.Field
}

var fields = map[Opcode]fieldSpec{
	OpTemperature:      {"temperature", kindRoomTemp, thermostat.FieldTemperature},
	OpSetpoint:         {"setpoint", kindSetpoint, thermostat.FieldSetpoint},
	OpBattery:          {"battery_level", kindPercent, thermostat.FieldBatteryLevel},
	OpSetpointMin:      {"temperature_min", kindSetpoint, thermostat.FieldSetpointMin},
	OpSetpointMax:      {"temperature_max", kindSetpoint, thermostat.FieldSetpointMax},
	OpFrostProtection:  {"frost_protection_temperature", kindSetpoint, thermostat.FieldFrostProtection},
	OpVacation:         {"vacation_temperature", kindSetpoint, thermostat.FieldVacation},
	OpChildSafety:      {"child_safety", kindBool, thermostat.FieldChildSafety},
	OpAdaptiveLearning: {"adaptive_learning", kindBool, thermostat.FieldAdaptiveLearning},
	OpProblems:         {"problems", kindFlags, thermostat.FieldProblems},
	OpMACAddress:       {"mac_address", kindMAC, thermostat.FieldMACAddress},
	OpHardwareRevision: {"hardware_revision", kindASCII, thermostat.FieldHardwareRevision},
	OpFirmwareRevision: {"firmware_revision", kindASCII, thermostat.FieldFirmwareRevision},
	OpMode:             {"mode", kindMode, thermostat.FieldMode},
}

// Apply decodes one telemetry (or write acknowledgement) frame into t. Only
// the field carried by the frame changes. Unknown opcodes return
// ErrUnknownOpcode and leave t untouched; so does a malformed value.
func Apply(t *thermostat.Telemetry, f Frame) error {
	spec, ok := fields[f.Op.Field()]
	if !ok {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, uint8(f.Op))
	}
	v := f.Value
	malformed := func() error {
		return fmt.Errorf("%w: %s with %d byte value", ErrMalformedFrame, spec.name, len(v))
	}

	switch spec.kind {
	case kindRoomTemp:
		if len(v) != 2 {
			return malformed()
		}
		raw := int16(binary.BigEndian.Uint16(v))
		t.Temperature = float64(raw) / TemperatureScale
	case kindSetpoint:
		if len(v) != 1 {
			return malformed()
		}
		temp := float64(v[0]) / SetpointScale
		switch f.Op.Field() {
		case OpSetpoint:
			t.Setpoint = temp
		case OpSetpointMin:
			t.SetpointMin = temp
		case OpSetpointMax:
			t.SetpointMax = temp
		case OpFrostProtection:
			t.FrostProtectionTemperature = temp
		case OpVacation:
			t.VacationTemperature = temp
		}
	case kindPercent:
		if len(v) != 1 {
			return malformed()
		}
		t.BatteryLevel = min(v[0], 100)
	case kindBool:
		if len(v) != 1 || v[0] > 1 {
			return malformed()
		}
		on := v[0] == 1
		if f.Op.Field() == OpChildSafety {
			t.ChildSafety = on
		} else {
			t.AdaptiveLearning = on
		}
	case kindMode:
		if len(v) != 1 || thermostat.Mode(v[0]) > thermostat.ModeOff {
			return malformed()
		}
		t.Mode = thermostat.Mode(v[0])
	case kindFlags:
		if len(v) != 2 {
			return malformed()
		}
		t.ProblemFlags = thermostat.ProblemFlags(binary.BigEndian.Uint16(v))
	case kindMAC:
		if len(v) != 6 {
			return malformed()
		}
		t.MACAddress = formatMAC(v)
	case kindASCII:
		if len(v) == 0 || !printable(v) {
			return malformed()
		}
		if f.Op.Field() == OpHardwareRevision {
			t.HardwareRevision = string(v)
		} else {
			t.FirmwareRevision = string(v)
		}
	}
	t.Fields |= spec.field
	return nil
}

// Decode returns a snapshot holding only the field carried by f.
func Decode(f Frame) (thermostat.Telemetry, error) {
	var t thermostat.Telemetry
	if err := Apply(&t, f); err != nil {
		return thermostat.Telemetry{}, err
	}
	return t, nil
}

// EncodeTelemetry builds the device's answer frame for one field of t. It is
// the inverse of Apply and is used by device simulators.
func EncodeTelemetry(op Opcode, t thermostat.Telemetry) (Frame, error) {
	spec, ok := fields[op.Field()]
	if !ok {
		return Frame{}, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, uint8(op))
	}
	var v []byte
	switch spec.kind {
	case kindRoomTemp:
		v = binary.BigEndian.AppendUint16(nil, uint16(int16(math.Round(t.Temperature*TemperatureScale))))
	case kindSetpoint:
		var temp float64
		switch op.Field() {
		case OpSetpoint:
			temp = t.Setpoint
		case OpSetpointMin:
			temp = t.SetpointMin
		case OpSetpointMax:
			temp = t.SetpointMax
		case OpFrostProtection:
			temp = t.FrostProtectionTemperature
		case OpVacation:
			temp = t.VacationTemperature
		}
		v = []byte{halfDegrees(temp)}
	case kindPercent:
		v = []byte{t.BatteryLevel}
	case kindBool:
		on := t.AdaptiveLearning
		if op.Field() == OpChildSafety {
			on = t.ChildSafety
		}
		v = []byte{boolByte(on)}
	case kindMode:
		v = []byte{byte(t.Mode)}
	case kindFlags:
		v = binary.BigEndian.AppendUint16(nil, uint16(t.ProblemFlags))
	case kindMAC:
		mac, err := parseMAC(t.MACAddress)
		if err != nil {
			return Frame{}, err
		}
		v = mac
	case kindASCII:
		s := t.FirmwareRevision
		if op.Field() == OpHardwareRevision {
			s = t.HardwareRevision
		}
		if len(s) > MaxValueLen {
			s = s[:MaxValueLen]
		}
		v = []byte(s)
	}
	return Frame{Op: op.Field(), Value: v}, nil
}

// FieldName is the outward name of the field op carries.
func FieldName(op Opcode) string {
	return fields[op.Field()].name
}

func halfDegrees(temp float64) byte {
	raw := math.Round(temp * SetpointScale)
	return byte(max(0, min(raw, math.MaxUint8)))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func printable(v []byte) bool {
	for _, b := range v {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

func formatMAC(v []byte) string {
	return strings.ToUpper(net.HardwareAddr(v).String())
}

func parseMAC(s string) ([]byte, error) {
	mac, err := net.ParseMAC(s)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("protocol: bad MAC address %q", s)
	}
	return mac, nil
}
