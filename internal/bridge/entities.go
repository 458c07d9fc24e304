package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// Entity components as understood by Home Assistant discovery.
const (
	componentSensor       = "sensor"
	componentNumber       = "number"
	componentSwitch       = "switch"
	componentBinarySensor = "binary_sensor"
	componentClimate      = "climate"
)

// entity describes one outward field. Entities without a component are only
// exposed through the climate entity.
type entity struct {
	Key         string
	Name        string
	Field       thermostat.Field
	Component   string
	Unit        string
	DeviceClass string
	Writable    bool
	Kind        thermostat.Kind
	Value       func(t thermostat.Telemetry) any
}

var entities = []entity{
	{Key: "temperature", Name: "Room temperature", Field: thermostat.FieldTemperature, Component: componentSensor, Unit: "°C", DeviceClass: "temperature",
		Value: func(t thermostat.Telemetry) any { return t.Temperature }},
	{Key: "setpoint", Name: "Setpoint", Field: thermostat.FieldSetpoint, Writable: true, Kind: thermostat.SetSetpoint,
		Value: func(t thermostat.Telemetry) any { return t.Setpoint }},
	{Key: "mode", Name: "Mode", Field: thermostat.FieldMode, Writable: true, Kind: thermostat.SetMode,
		Value: func(t thermostat.Telemetry) any { return t.Mode.String() }},
	{Key: "battery_level", Name: "Battery", Field: thermostat.FieldBatteryLevel, Component: componentSensor, Unit: "%", DeviceClass: "battery",
		Value: func(t thermostat.Telemetry) any { return t.BatteryLevel }},
	{Key: "temperature_min", Name: "Minimum temperature", Field: thermostat.FieldSetpointMin, Component: componentNumber, Unit: "°C", DeviceClass: "temperature", Writable: true, Kind: thermostat.SetTemperatureMin,
		Value: func(t thermostat.Telemetry) any { return t.SetpointMin }},
	{Key: "temperature_max", Name: "Maximum temperature", Field: thermostat.FieldSetpointMax, Component: componentNumber, Unit: "°C", DeviceClass: "temperature", Writable: true, Kind: thermostat.SetTemperatureMax,
		Value: func(t thermostat.Telemetry) any { return t.SetpointMax }},
	{Key: "frost_protection_temperature", Name: "Frost protection", Field: thermostat.FieldFrostProtection, Component: componentNumber, Unit: "°C", DeviceClass: "temperature", Writable: true, Kind: thermostat.SetFrostProtection,
		Value: func(t thermostat.Telemetry) any { return t.FrostProtectionTemperature }},
	{Key: "vacation_temperature", Name: "Vacation temperature", Field: thermostat.FieldVacation, Component: componentNumber, Unit: "°C", DeviceClass: "temperature", Writable: true, Kind: thermostat.SetVacationTemperature,
		Value: func(t thermostat.Telemetry) any { return t.VacationTemperature }},
	{Key: "child_safety", Name: "Child safety", Field: thermostat.FieldChildSafety, Component: componentSwitch, Writable: true, Kind: thermostat.SetChildSafety,
		Value: func(t thermostat.Telemetry) any { return t.ChildSafety }},
	{Key: "adaptive_learning", Name: "Adaptive learning", Field: thermostat.FieldAdaptiveLearning, Component: componentSwitch, Writable: true, Kind: thermostat.SetAdaptiveLearning,
		Value: func(t thermostat.Telemetry) any { return t.AdaptiveLearning }},
	{Key: "preset", Name: "Preset", Field: thermostat.FieldMode,
		Value: func(t thermostat.Telemetry) any { return string(thermostat.PresetOf(t)) }},
	{Key: "device_problem", Name: "Device problem", Field: thermostat.FieldProblems, Component: componentBinarySensor, DeviceClass: "problem",
		Value: func(t thermostat.Telemetry) any { return t.Problems() }},
	{Key: "problems", Name: "Problem flags", Field: thermostat.FieldProblems, Component: componentSensor,
		Value: func(t thermostat.Telemetry) any { return uint16(t.ProblemFlags) }},
	{Key: "mac_address", Name: "MAC address", Field: thermostat.FieldMACAddress, Component: componentSensor,
		Value: func(t thermostat.Telemetry) any { return t.MACAddress }},
	{Key: "hardware_revision", Name: "Hardware revision", Field: thermostat.FieldHardwareRevision, Component: componentSensor,
		Value: func(t thermostat.Telemetry) any { return t.HardwareRevision }},
	{Key: "firmware_revision", Name: "Firmware revision", Field: thermostat.FieldFirmwareRevision, Component: componentSensor,
		Value: func(t thermostat.Telemetry) any { return t.FirmwareRevision }},
}

func lookupEntity(key string) (entity, bool) {
	return lo.Find(entities, func(e entity) bool { return e.Key == key })
}

// entityKey returns the outward name of the field written by k.
func entityKey(k thermostat.Kind) string {
	e, ok := lo.Find(entities, func(e entity) bool { return e.Writable && e.Kind == k })
	if !ok {
		return k.String()
	}
	return e.Key
}

// State returns the decoded fields of t keyed by their outward name.
func State(t thermostat.Telemetry) map[string]any {
	decoded := lo.Filter(entities, func(e entity, _ int) bool { return t.Has(e.Field) })
	return lo.SliceToMap(decoded, func(e entity) (string, any) {
		return e.Key, e.Value(t)
	})
}

// ParseCommand builds a write request from an outward field name and a
// textual payload.
func ParseCommand(key, payload string) (thermostat.Command, error) {
	e, ok := lookupEntity(key)
	if !ok || !e.Writable {
		return thermostat.Command{}, fmt.Errorf("%w: %q is not writable", thermostat.ErrCommandRejected, key)
	}
	payload = strings.TrimSpace(payload)

	cmd := thermostat.Command{Kind: e.Kind}
	switch e.Kind {
	case thermostat.SetChildSafety, thermostat.SetAdaptiveLearning:
		on, err := parseSwitch(payload)
		if err != nil {
			return thermostat.Command{}, err
		}
		cmd.Enabled = on
	case thermostat.SetMode:
		m, err := thermostat.ParseMode(payload)
		if err != nil {
			return thermostat.Command{}, fmt.Errorf("%w: %v", thermostat.ErrCommandRejected, err)
		}
		cmd.Mode = m
	default:
		v, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return thermostat.Command{}, fmt.Errorf("%w: %q is not a number", thermostat.ErrCommandRejected, payload)
		}
		cmd.Value = v
	}
	return cmd, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "ON", "TRUE", "1":
		return true, nil
	case "OFF", "FALSE", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a switch state", thermostat.ErrCommandRejected, s)
}
