package thermostat

import (
	"errors"
	"fmt"
	"math"
)

// ErrCommandRejected is wrapped by every reason a write request is refused.
var ErrCommandRejected = errors.New("command rejected")

var (
	ErrOutOfRange = fmt.Errorf("%w: value out of range", ErrCommandRejected)
	ErrQueueFull  = fmt.Errorf("%w: command queue full", ErrCommandRejected)
	ErrReadOnly   = fmt.Errorf("%w: device is read-only without a PIN", ErrCommandRejected)
)

// Kind names a writable device setting.
type Kind uint8

const (
	SetTemperatureMin Kind = iota + 1
	SetTemperatureMax
	SetFrostProtection
	SetVacationTemperature
	SetChildSafety
	SetAdaptiveLearning
	SetSetpoint
	SetMode
)

var kindNames = map[Kind]string{
	SetTemperatureMin:      "set_temperature_min",
	SetTemperatureMax:      "set_temperature_max",
	SetFrostProtection:     "set_frost_protection",
	SetVacationTemperature: "set_vacation_temperature",
	SetChildSafety:         "set_child_safety",
	SetAdaptiveLearning:    "set_adaptive_learning",
	SetSetpoint:            "set_setpoint",
	SetMode:                "set_mode",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Range is an inclusive temperature range with a step.
type Range struct {
	Min, Max, Step float64
}

// Temperature ranges accepted by the device, all in 0.5 °C steps.
var (
	LimitRange    = Range{Min: 5.0, Max: 30.0, Step: 0.5}
	FrostRange    = Range{Min: 5.0, Max: 10.0, Step: 0.5}
	VacationRange = Range{Min: 5.0, Max: 20.0, Step: 0.5}
	SetpointRange = Range{Min: 5.0, Max: 28.0, Step: 0.5}
)

// Contains reports whether v is in range and on a step boundary.
func (r Range) Contains(v float64) bool {
	if math.IsNaN(v) || v < r.Min || v > r.Max {
		return false
	}
	steps := (v - r.Min) / r.Step
	return math.Abs(steps-math.Round(steps)) < 1e-9
}

// Command is a single write request. Value carries temperatures, Enabled
// carries switches and Mode carries set_mode.
type Command struct {
	Kind    Kind
	Value   float64
	Enabled bool
	Mode    Mode
}

// Temperature-valued commands.
func TemperatureMin(v float64) Command { return Command{Kind: SetTemperatureMin, Value: v} }
func TemperatureMax(v float64) Command { return Command{Kind: SetTemperatureMax, Value: v} }
func FrostProtection(v float64) Command { return Command{Kind: SetFrostProtection, Value: v} }
func VacationTemperature(v float64) Command { return Command{Kind: SetVacationTemperature, Value: v} }
func Setpoint(v float64) Command { return Command{Kind: SetSetpoint, Value: v} }

// Switch-valued commands.
func ChildSafety(on bool) Command { return Command{Kind: SetChildSafety, Enabled: on} }
func AdaptiveLearning(on bool) Command { return Command{Kind: SetAdaptiveLearning, Enabled: on} }

// ModeCommand selects a heating mode.
func ModeCommand(m Mode) Command { return Command{Kind: SetMode, Mode: m} }

// RangeFor returns the accepted range of a temperature command.
func RangeFor(k Kind) (Range, bool) {
	switch k {
	case SetTemperatureMin, SetTemperatureMax:
		return LimitRange, true
	case SetFrostProtection:
		return FrostRange, true
	case SetVacationTemperature:
		return VacationRange, true
	case SetSetpoint:
		return SetpointRange, true
	}
	return Range{}, false
}

// Validate range-checks the command before it may be queued.
func (c Command) Validate() error {
	switch c.Kind {
	case SetChildSafety, SetAdaptiveLearning:
		return nil
	case SetMode:
		if c.Mode > ModeOff {
			return fmt.Errorf("%w: %s %s", ErrOutOfRange, c.Kind, c.Mode)
		}
		return nil
	}
	r, ok := RangeFor(c.Kind)
	if !ok {
		return fmt.Errorf("%w: unknown command %s", ErrCommandRejected, c.Kind)
	}
	if !r.Contains(c.Value) {
		return fmt.Errorf("%w: %s %.1f not in [%.1f, %.1f] step %.1f",
			ErrOutOfRange, c.Kind, c.Value, r.Min, r.Max, r.Step)
	}
	return nil
}

func (c Command) String() string {
	switch c.Kind {
	case SetChildSafety, SetAdaptiveLearning:
		return fmt.Sprintf("%s(%t)", c.Kind, c.Enabled)
	case SetMode:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Mode)
	}
	return fmt.Sprintf("%s(%.1f)", c.Kind, c.Value)
}
