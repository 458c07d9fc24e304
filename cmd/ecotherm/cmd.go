package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/ecotherm/internal/ble"
	blecrypto "github.com/chaz8081/ecotherm/internal/ble/crypto"
	"github.com/chaz8081/ecotherm/internal/bridge"
	"github.com/chaz8081/ecotherm/internal/config"
	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// RunCommand loads the config and runs one session per device until
// interrupted.
func RunCommand(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, ble.NewTinyGoAdapter())
}

func run(ctx context.Context, cfg *config.Config, adapter ble.Adapter) error {
	b := bridge.New(bridge.NewLogSink(nil))

	var mqtt *bridge.MQTT
	if cfg.MQTT.Broker != "" {
		mqtt = bridge.NewMQTT(bridge.MQTTConfig{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		}, b)
		b.AddSink(mqtt)
	}

	sessions, err := newSessions(cfg, adapter, b)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		b.Register(s)
		if mqtt != nil {
			mqtt.AddDevice(s.Name())
		}
	}

	if mqtt != nil {
		if err := mqtt.Connect(); err != nil {
			return fmt.Errorf("connecting to mqtt: %w", err)
		}
		defer mqtt.Close()
	}

	if cfg.FatalResetSchedule != "" {
		cr := cron.New()
		if _, err := cr.AddFunc(cfg.FatalResetSchedule, func() { resetFatal(sessions) }); err != nil {
			return fmt.Errorf("fatal_reset_schedule: %w", err)
		}
		cr.Start()
		defer cr.Stop()
	}

	zap.L().Info("ecotherm started",
		zap.Strings("devices", b.Devices()),
		zap.Bool("mqtt", mqtt != nil),
		zap.Int("radio_slots", cfg.Radio.MaxConcurrentConnections))

	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		eg.Go(func() error {
			return s.Run(ctx)
		})
	}
	err = eg.Wait()
	zap.L().Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newSessions builds one session per configured device sharing the radio.
func newSessions(cfg *config.Config, adapter ble.Adapter, listener ble.Listener) ([]*ble.Session, error) {
	radio := ble.NewRadioSlots(cfg.Radio.MaxConcurrentConnections)
	sessions := make([]*ble.Session, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		creds, err := d.Credentials()
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", d.Name, err)
		}
		opts := sessionOptions(cfg.Session)
		opts.PollInterval = d.PollInterval
		s, err := ble.NewSession(ble.DeviceConfig{
			Name:        d.Name,
			Address:     d.Address,
			Credentials: creds,
			Cipher:      blecrypto.Algorithm(d.Cipher),
			Layout: ble.GATTLayout{
				Service:   d.UUIDs.Service,
				Command:   d.UUIDs.Command,
				Notify:    d.UUIDs.Notify,
				Nonce:     d.UUIDs.Nonce,
				SecretKey: d.UUIDs.SecretKey,
			}.WithDefaults(),
		}, adapter, listener, radio, opts)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", d.Name, err)
		}
		if s.ReadOnly() {
			zap.L().Warn("no pin_code configured, device is read-only", zap.String("device", d.Name))
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func sessionOptions(c config.SessionConfig) ble.SessionOptions {
	return ble.SessionOptions{
		IdleDisconnect:  c.IdleDisconnect,
		ConnectTimeout:  c.ConnectTimeout,
		ResponseTimeout: c.ResponseTimeout,
		BackoffInitial:  c.BackoffInitial,
		BackoffMax:      c.BackoffMax,
		MaxFailures:     c.MaxFailures,
		FatalResetAfter: c.FatalResetAfter,
		QueueSize:       c.QueueSize,
	}
}

// resetFatal gives every session that gave up another chance.
func resetFatal(sessions []*ble.Session) {
	fatal := lo.Filter(sessions, func(s *ble.Session, _ int) bool {
		return s.State() == ble.StateFatal
	})
	for _, s := range fatal {
		zap.L().Info("scheduled reset", zap.String("device", s.Name()))
		s.Reset()
	}
}

// ScanCommand prints thermostats advertising the service.
func ScanCommand(c *cli.Context) error {
	logger, err := newLogger(c.String("log-level"))
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	fmt.Println("Scanning for thermostats...")
	devices, err := ble.ScanForDevices(ble.NewTinyGoAdapter(), c.Duration("timeout"))
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No thermostats found.")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("  %-20s %s (RSSI %d)\n", d.Name, d.MAC, d.RSSI)
	}
	return nil
}

// PairCommand reads the secret key of one thermostat.
func PairCommand(c *cli.Context) error {
	logger, err := newLogger(c.String("log-level"))
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	address := c.Args().First()
	if address == "" {
		return fmt.Errorf("usage: ecotherm pair <address>")
	}
	opts := ble.DefaultPairOptions()
	opts.Timeout = c.Duration("timeout")
	if pin := c.String("pin"); pin != "" {
		if opts.PIN, err = thermostat.ParsePIN(pin); err != nil {
			return err
		}
	}

	fmt.Println("Press the timer button on the thermostat now...")
	key, err := ble.ReadSecretKey(c.Context, ble.NewTinyGoAdapter(), address, opts)
	if err != nil {
		return err
	}
	fmt.Printf("secret_key: %s\n", key)
	return nil
}

// CheckConfigCommand loads and validates the config without touching the
// radio.
func CheckConfigCommand(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	for _, d := range cfg.Devices {
		mode := "read-write"
		if d.PINCode == "" {
			mode = "read-only"
		}
		fmt.Printf("  %-20s %s every %s (%s)\n", d.Name, d.Address, d.PollInterval, mode)
	}
	fmt.Println("config OK")
	return nil
}

// InitCommand writes a starter config unless one exists.
func InitCommand(*cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config %s: %w (run 'ecotherm init' to create one)", path, err)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(config.ParseLogLevel(level))
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}
