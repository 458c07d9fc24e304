// Package config loads the daemon configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	blecrypto "github.com/chaz8081/ecotherm/internal/ble/crypto"
	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// EnvPrefix prefixes every environment override, e.g. ECOTHERM_MQTT_BROKER.
const EnvPrefix = "ECOTHERM_"

// Config holds all application configuration.
type Config struct {
	LogLevel           string         `yaml:"log_level" env:"LOG_LEVEL"`
	MQTT               MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	Radio              RadioConfig    `yaml:"radio" envPrefix:"RADIO_"`
	Session            SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	FatalResetSchedule string         `yaml:"fatal_reset_schedule" env:"FATAL_RESET_SCHEDULE"` // cron spec
	Devices            []DeviceConfig `yaml:"devices"`
}

// MQTTConfig holds broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker          string `yaml:"broker" env:"BROKER"`
	Username        string `yaml:"username" env:"USERNAME"`
	Password        string `yaml:"password" env:"PASSWORD"`
	ClientID        string `yaml:"client_id" env:"CLIENT_ID"`
	TopicPrefix     string `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	DiscoveryPrefix string `yaml:"discovery_prefix" env:"DISCOVERY_PREFIX"`
}

// RadioConfig bounds use of the shared Bluetooth adapter.
type RadioConfig struct {
	MaxConcurrentConnections int `yaml:"max_concurrent_connections" env:"MAX_CONCURRENT_CONNECTIONS"`
}

// SessionConfig tunes every device session.
type SessionConfig struct {
	IdleDisconnect  time.Duration `yaml:"idle_disconnect" env:"IDLE_DISCONNECT"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	ResponseTimeout time.Duration `yaml:"response_timeout" env:"RESPONSE_TIMEOUT"`
	BackoffInitial  time.Duration `yaml:"backoff_initial" env:"BACKOFF_INITIAL"`
	BackoffMax      time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	MaxFailures     int           `yaml:"max_failures" env:"MAX_FAILURES"`
	FatalResetAfter time.Duration `yaml:"fatal_reset_after" env:"FATAL_RESET_AFTER"` // 0 disables
	QueueSize       int           `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// DeviceConfig describes one thermostat.
type DeviceConfig struct {
	Name         string        `yaml:"name"`
	Address      string        `yaml:"address"`    // MAC on Linux, CoreBluetooth UUID on macOS
	SecretKey    string        `yaml:"secret_key"` // 32 hex characters
	PINCode      string        `yaml:"pin_code"`   // 4 digits; empty means read-only
	PollInterval time.Duration `yaml:"poll_interval"`
	Cipher       string        `yaml:"cipher"`
	UUIDs        UUIDConfig    `yaml:"uuids"`
}

// UUIDConfig overrides the GATT layout. Empty values keep the defaults.
type UUIDConfig struct {
	Service   string `yaml:"service"`
	Command   string `yaml:"command"`
	Notify    string `yaml:"notify"`
	Nonce     string `yaml:"nonce"`
	SecretKey string `yaml:"secret_key"`
}

// Credentials validates and returns the device key material.
func (d DeviceConfig) Credentials() (thermostat.Credentials, error) {
	return thermostat.NewCredentials(d.SecretKey, d.PINCode)
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ecotherm")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values and no devices.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		MQTT: MQTTConfig{
			ClientID:        "ecotherm",
			TopicPrefix:     "ecotherm",
			DiscoveryPrefix: "homeassistant",
		},
		Radio: RadioConfig{
			MaxConcurrentConnections: 1,
		},
		Session: SessionConfig{
			IdleDisconnect:  5 * time.Second,
			ConnectTimeout:  20 * time.Second,
			ResponseTimeout: 5 * time.Second,
			BackoffInitial:  time.Second,
			BackoffMax:      5 * time.Minute,
			MaxFailures:     10,
			QueueSize:       8,
		},
	}
}

// DefaultPollInterval applies to devices without poll_interval.
const DefaultPollInterval = 60 * time.Second

// Load reads and parses a YAML config file, then applies ECOTHERM_*
// environment overrides. Missing fields are filled with defaults. A leading
// tilde in path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	for i := range cfg.Devices {
		if cfg.Devices[i].PollInterval == 0 {
			cfg.Devices[i].PollInterval = DefaultPollInterval
		}
	}
	return cfg, nil
}

// Validate checks the config for invalid values. Device key problems wrap
// thermostat.ErrConfig.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Radio.MaxConcurrentConnections < 1 {
		return fmt.Errorf("radio.max_concurrent_connections must be >= 1")
	}

	if c.FatalResetSchedule != "" {
		if _, err := cron.ParseStandard(c.FatalResetSchedule); err != nil {
			return fmt.Errorf("fatal_reset_schedule: %w", err)
		}
	}

	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix must not be empty")
	}

	if err := c.Session.validate(); err != nil {
		return err
	}

	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}
	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d].name must not be empty", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = true
		if err := d.validate(); err != nil {
			return fmt.Errorf("device %q: %w", d.Name, err)
		}
	}
	return nil
}

func (s SessionConfig) validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"idle_disconnect":  s.IdleDisconnect,
		"connect_timeout":  s.ConnectTimeout,
		"response_timeout": s.ResponseTimeout,
		"backoff_initial":  s.BackoffInitial,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("session.%s must be > 0", name))
		}
	}
	if s.BackoffMax < s.BackoffInitial {
		errs = append(errs, fmt.Errorf("session.backoff_max must be >= session.backoff_initial"))
	}
	if s.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("session.max_failures must be >= 1"))
	}
	if s.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("session.queue_size must be >= 1"))
	}
	if s.FatalResetAfter < 0 {
		errs = append(errs, fmt.Errorf("session.fatal_reset_after must not be negative"))
	}
	return errors.Join(errs...)
}

func (d DeviceConfig) validate() error {
	if d.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if _, err := d.Credentials(); err != nil {
		return err
	}
	if d.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if d.Cipher != "" && !slices.Contains(blecrypto.Algorithms(), blecrypto.Algorithm(d.Cipher)) {
		return fmt.Errorf("%w: unknown cipher %q", thermostat.ErrConfig, d.Cipher)
	}
	return nil
}

// ParseLogLevel converts a config string to a zap level, defaulting to info.
func ParseLogLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(s))
	if err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return lvl
}

const defaultConfigTemplate = `# ecotherm configuration
log_level: info

mqtt:
  broker: ""               # e.g. tcp://localhost:1883; empty disables MQTT
  client_id: ecotherm
  topic_prefix: ecotherm
  discovery_prefix: homeassistant

radio:
  max_concurrent_connections: 1

# fatal_reset_schedule: "0 4 * * *"   # retry devices that gave up

devices: []
# - name: living_room
#   address: "00:04:2F:00:00:00"
#   secret_key: "<32 hex chars from 'ecotherm pair'>"
#   pin_code: "0000"
#   poll_interval: 60s
`

// WriteDefault writes a starter config to DefaultConfigPath. It returns the
// path written, or "" if a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
