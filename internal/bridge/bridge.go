// Package bridge connects thermostat sessions to the outside world. Sessions
// report into a Bridge, which fans telemetry and health out to sinks and
// routes inbound writes back to the right session.
package bridge

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// ErrUnknownDevice rejects a command addressed to a device with no session.
var ErrUnknownDevice = fmt.Errorf("%w: unknown device", thermostat.ErrCommandRejected)

// Sink receives everything a session publishes.
type Sink interface {
	OnTelemetry(device string, t thermostat.Telemetry)
	OnHealth(device string, problem bool)
}

// CommandObserver is an optional Sink port notified of write outcomes.
type CommandObserver interface {
	OnCommand(device string, cmd thermostat.Command, err error)
}

// Submitter accepts writes for one device.
type Submitter interface {
	Name() string
	Submit(cmd thermostat.Command) error
}

// CommandHandler routes a write to a device by name.
type CommandHandler interface {
	SubmitCommand(device string, cmd thermostat.Command) error
	SubmitPreset(device string, p thermostat.Preset) error
}

// Bridge is the session listener. It is safe for concurrent use.
type Bridge struct {
	log *zap.Logger

	mu        sync.RWMutex
	sessions  map[string]Submitter
	sinks     []Sink
	snapshots map[string]thermostat.Telemetry // last telemetry per device
}

// New returns a Bridge that publishes to sinks.
func New(sinks ...Sink) *Bridge {
	return &Bridge{
		log:       zap.L().Named("bridge"),
		sessions:  make(map[string]Submitter),
		sinks:     sinks,
		snapshots: make(map[string]thermostat.Telemetry),
	}
}

// AddSink adds a sink.
func (b *Bridge) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Register makes a session reachable through SubmitCommand.
func (b *Bridge) Register(s Submitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.Name()] = s
}

// Devices returns the registered device names, sorted.
func (b *Bridge) Devices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := lo.Keys(b.sessions)
	slices.Sort(names)
	return names
}

// SubmitCommand validates and queues cmd for device. Rejections wrap
// thermostat.ErrCommandRejected.
func (b *Bridge) SubmitCommand(device string, cmd thermostat.Command) error {
	b.mu.RLock()
	s, ok := b.sessions[device]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownDevice, device)
	}
	if err := s.Submit(cmd); err != nil {
		b.log.Warn("command rejected", zap.String("device", device), zap.Stringer("command", cmd), zap.Error(err))
		return err
	}
	b.log.Debug("command accepted", zap.String("device", device), zap.Stringer("command", cmd))
	return nil
}

// SubmitPreset queues the writes selecting p, resolved against the last
// telemetry of device. Every write is validated before any is queued.
func (b *Bridge) SubmitPreset(device string, p thermostat.Preset) error {
	b.mu.RLock()
	_, ok := b.sessions[device]
	snap := b.snapshots[device]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownDevice, device)
	}
	cmds, err := p.Commands(snap)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return err
		}
	}
	for _, cmd := range cmds {
		if err := b.SubmitCommand(device, cmd); err != nil {
			return err
		}
	}
	b.log.Info("preset selected", zap.String("device", device), zap.String("preset", string(p)))
	return nil
}

func (b *Bridge) snapshotSinks() []Sink {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.sinks)
}

func (b *Bridge) OnTelemetry(device string, t thermostat.Telemetry) {
	b.mu.Lock()
	b.snapshots[device] = t
	b.mu.Unlock()
	for _, s := range b.snapshotSinks() {
		s.OnTelemetry(device, t)
	}
}

func (b *Bridge) OnHealth(device string, problem bool) {
	for _, s := range b.snapshotSinks() {
		s.OnHealth(device, problem)
	}
}

func (b *Bridge) OnCommand(device string, cmd thermostat.Command, err error) {
	observers := lo.FilterMap(b.snapshotSinks(), func(s Sink, _ int) (CommandObserver, bool) {
		o, ok := s.(CommandObserver)
		return o, ok
	})
	for _, o := range observers {
		o.OnCommand(device, cmd, err)
	}
}
