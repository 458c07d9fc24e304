package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gosimple/slug"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chaz8081/ecotherm/internal/thermostat"
)

const (
	publishTimeout = 5 * time.Second
	manufacturer   = "Danfoss"
	model          = "Eco"

	presetKey = "preset"
)

// MQTTConfig configures the broker connection and topic layout.
type MQTTConfig struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string // state and command topics: <prefix>/<device>/...
	DiscoveryPrefix string // Home Assistant discovery root
}

// MQTT publishes device state with Home Assistant discovery and turns
// messages on <prefix>/<device>/<field>/set into commands.
type MQTT struct {
	client   paho_mqtt.Client
	cfg      MQTTConfig
	commands CommandHandler
	log      *zap.Logger

	mu      sync.Mutex
	devices map[string]string // object id -> device name
}

// NewMQTT builds the client; call Connect to start it.
func NewMQTT(cfg MQTTConfig, commands CommandHandler) *MQTT {
	m := newMQTT(nil, cfg, commands)

	opts := paho_mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetWill(m.availabilityTopic(), "offline", 1, true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
		m.log.Warn("connection to broker lost", zap.Error(err))
	})
	m.client = paho_mqtt.NewClient(opts)
	return m
}

func newMQTT(client paho_mqtt.Client, cfg MQTTConfig, commands CommandHandler) *MQTT {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "ecotherm"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	return &MQTT{
		client:   client,
		cfg:      cfg,
		commands: commands,
		log:      zap.L().Named("mqtt"),
		devices:  make(map[string]string),
	}
}

// Connect dials the broker. With connect retry enabled the client keeps
// trying in the background, so a timeout here is not fatal.
func (m *MQTT) Connect() error {
	token := m.client.Connect()
	if token.WaitTimeout(publishTimeout) {
		return token.Error()
	}
	m.log.Warn("broker not reachable yet, retrying in background", zap.String("broker", m.cfg.Broker))
	return nil
}

// Close marks the bridge offline and disconnects.
func (m *MQTT) Close() {
	if m.client.IsConnected() {
		_ = m.publish(m.availabilityTopic(), true, "offline")
	}
	m.client.Disconnect(250)
}

// AddDevice makes a device addressable before its first telemetry.
func (m *MQTT) AddDevice(name string) {
	id := objectID(name)
	m.mu.Lock()
	_, known := m.devices[id]
	m.devices[id] = name
	m.mu.Unlock()
	if !known && m.client.IsConnected() {
		m.announce(name)
	}
}

// objectID turns a device name into a topic and entity id segment.
func objectID(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

func (m *MQTT) availabilityTopic() string {
	return m.cfg.TopicPrefix + "/bridge/status"
}

func (m *MQTT) stateTopic(id string) string {
	return fmt.Sprintf("%s/%s/state", m.cfg.TopicPrefix, id)
}

func (m *MQTT) problemTopic(id string) string {
	return fmt.Sprintf("%s/%s/problem", m.cfg.TopicPrefix, id)
}

func (m *MQTT) commandTopic(id, key string) string {
	return fmt.Sprintf("%s/%s/%s/set", m.cfg.TopicPrefix, id, key)
}

func (m *MQTT) onConnect(c paho_mqtt.Client) {
	m.log.Info("connected to broker", zap.String("broker", m.cfg.Broker))
	topic := m.cfg.TopicPrefix + "/+/+/set"
	if token := c.Subscribe(topic, 1, m.handleMessage); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		m.log.Error("subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
	}
	if err := m.publish(m.availabilityTopic(), true, "online"); err != nil {
		m.log.Error("publish availability", zap.Error(err))
	}

	m.mu.Lock()
	names := make([]string, 0, len(m.devices))
	for _, name := range m.devices {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.announce(name)
	}
}

func (m *MQTT) handleMessage(_ paho_mqtt.Client, msg paho_mqtt.Message) {
	id, key, ok := m.parseCommandTopic(msg.Topic())
	if !ok {
		m.log.Debug("ignoring message", zap.String("topic", msg.Topic()))
		return
	}
	m.mu.Lock()
	device, known := m.devices[id]
	m.mu.Unlock()
	if !known {
		m.log.Warn("command for unknown device", zap.String("topic", msg.Topic()))
		return
	}

	var err error
	if key == presetKey {
		var p thermostat.Preset
		if p, err = thermostat.ParsePreset(string(msg.Payload())); err == nil {
			err = m.commands.SubmitPreset(device, p)
		}
	} else {
		var cmd thermostat.Command
		if cmd, err = ParseCommand(key, string(msg.Payload())); err == nil {
			err = m.commands.SubmitCommand(device, cmd)
		}
	}
	if err != nil {
		m.log.Warn("command rejected", zap.String("device", device), zap.String("field", key),
			zap.ByteString("payload", msg.Payload()), zap.Error(err))
		m.publishError(id, key, err)
	}
}

// parseCommandTopic splits <prefix>/<id>/<key>/set.
func (m *MQTT) parseCommandTopic(topic string) (id, key string, ok bool) {
	rest, found := strings.CutPrefix(topic, m.cfg.TopicPrefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (m *MQTT) OnTelemetry(device string, t thermostat.Telemetry) {
	id := objectID(device)
	m.mu.Lock()
	_, known := m.devices[id]
	m.devices[id] = device
	m.mu.Unlock()
	if !known {
		m.announce(device)
	}
	if err := m.publishJSON(m.stateTopic(id), true, State(t)); err != nil {
		m.log.Error("publish state", zap.String("device", device), zap.Error(err))
	}
}

func (m *MQTT) OnHealth(device string, problem bool) {
	payload := "OFF"
	if problem {
		payload = "ON"
	}
	if err := m.publish(m.problemTopic(objectID(device)), true, payload); err != nil {
		m.log.Error("publish health", zap.String("device", device), zap.Error(err))
	}
}

func (m *MQTT) OnCommand(device string, cmd thermostat.Command, err error) {
	if err != nil {
		m.publishError(objectID(device), entityKey(cmd.Kind), err)
	}
}

func (m *MQTT) publishError(id, key string, err error) {
	topic := fmt.Sprintf("%s/%s/error", m.cfg.TopicPrefix, id)
	payload := map[string]string{"field": key, "error": err.Error()}
	if perr := m.publishJSON(topic, false, payload); perr != nil {
		m.log.Error("publish error report", zap.Error(perr))
	}
}

// announce publishes the retained discovery configs of one device.
func (m *MQTT) announce(device string) {
	id := objectID(device)
	for topic, payload := range m.discovery(device) {
		if err := m.publishJSON(topic, true, payload); err != nil {
			m.log.Error("publish discovery", zap.String("device", device), zap.String("topic", topic), zap.Error(err))
			return
		}
	}
	m.log.Info("announced device", zap.String("device", device), zap.String("object_id", id))
}

// discovery returns the config payloads of a device keyed by topic.
func (m *MQTT) discovery(device string) map[string]map[string]any {
	id := objectID(device)
	info := map[string]any{
		"identifiers":  []string{"ecotherm_" + id},
		"name":         device,
		"manufacturer": manufacturer,
		"model":        model,
	}
	base := func(key, name string) map[string]any {
		return map[string]any{
			"name":               name,
			"unique_id":          fmt.Sprintf("ecotherm_%s_%s", id, key),
			"availability_topic": m.availabilityTopic(),
			"device":             info,
		}
	}
	state := m.stateTopic(id)
	out := make(map[string]map[string]any)

	climate := base("climate", "Thermostat")
	climate["current_temperature_topic"] = state
	climate["current_temperature_template"] = "{{ value_json.temperature }}"
	climate["temperature_state_topic"] = state
	climate["temperature_state_template"] = "{{ value_json.setpoint }}"
	climate["temperature_command_topic"] = m.commandTopic(id, "setpoint")
	climate["mode_state_topic"] = state
	climate["mode_state_template"] = "{{ value_json.mode }}"
	climate["mode_command_topic"] = m.commandTopic(id, "mode")
	climate["modes"] = []string{thermostat.ModeAuto.String(), thermostat.ModeHeat.String(), thermostat.ModeOff.String()}
	climate["preset_mode_state_topic"] = state
	climate["preset_mode_value_template"] = "{{ value_json.preset }}"
	climate["preset_mode_command_topic"] = m.commandTopic(id, presetKey)
	climate["preset_modes"] = lo.Map(thermostat.Presets(), func(p thermostat.Preset, _ int) string { return string(p) })
	climate["min_temp"] = thermostat.SetpointRange.Min
	climate["max_temp"] = thermostat.SetpointRange.Max
	climate["temp_step"] = thermostat.SetpointRange.Step
	climate["precision"] = 0.1
	climate["temperature_unit"] = "C"
	out[m.configTopic(componentClimate, id, "climate")] = climate

	for _, e := range entities {
		if e.Component == "" {
			continue
		}
		p := base(e.Key, e.Name)
		p["state_topic"] = state
		p["value_template"] = fmt.Sprintf("{{ value_json.%s }}", e.Key)
		if e.Unit != "" {
			p["unit_of_measurement"] = e.Unit
		}
		if e.DeviceClass != "" {
			p["device_class"] = e.DeviceClass
		}
		switch e.Component {
		case componentNumber:
			r, _ := thermostat.RangeFor(e.Kind)
			p["command_topic"] = m.commandTopic(id, e.Key)
			p["min"] = r.Min
			p["max"] = r.Max
			p["step"] = r.Step
			p["mode"] = "box"
		case componentSwitch:
			p["command_topic"] = m.commandTopic(id, e.Key)
			p["value_template"] = fmt.Sprintf("{{ 'ON' if value_json.%s else 'OFF' }}", e.Key)
			p["payload_on"] = "ON"
			p["payload_off"] = "OFF"
		case componentBinarySensor:
			p["value_template"] = fmt.Sprintf("{{ 'ON' if value_json.%s else 'OFF' }}", e.Key)
			p["payload_on"] = "ON"
			p["payload_off"] = "OFF"
		case componentSensor:
			if e.DeviceClass == "" && e.Unit == "" {
				p["entity_category"] = "diagnostic"
			}
		}
		out[m.configTopic(e.Component, id, e.Key)] = p
	}

	problem := base("problem", "Problem")
	problem["state_topic"] = m.problemTopic(id)
	problem["device_class"] = "problem"
	problem["payload_on"] = "ON"
	problem["payload_off"] = "OFF"
	out[m.configTopic(componentBinarySensor, id, "problem")] = problem
	return out
}

func (m *MQTT) configTopic(component, id, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", m.cfg.DiscoveryPrefix, component, id, key)
}

func (m *MQTT) publishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.publish(topic, retained, payload)
}

func (m *MQTT) publish(topic string, retained bool, payload any) error {
	token := m.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt: publish timed out")
	}
	return token.Error()
}
