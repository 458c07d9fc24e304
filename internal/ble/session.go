package ble

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	blecrypto "github.com/chaz8081/ecotherm/internal/ble/crypto"
	"github.com/chaz8081/ecotherm/internal/ble/protocol"
	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// ErrWriteNotConfirmed is reported when the device answers a write with a
// frame that does not echo it.
var ErrWriteNotConfirmed = errors.New("ble: write not confirmed by device")

// State is the session state machine position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateDiscovering
	StateAuthenticating
	StatePolling
	StateWriting
	StateReconnecting
	StateFatal
)

var stateNames = [...]string{"idle", "connecting", "discovering", "authenticating", "polling", "writing", "reconnecting", "fatal"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Listener receives everything the session reports outward. Calls are made
// from the session goroutine and must not block for long.
type Listener interface {
	// OnTelemetry is called once per poll that decoded at least one field.
	OnTelemetry(device string, t thermostat.Telemetry)
	// OnHealth reports the session problem flag whenever it changes.
	OnHealth(device string, problem bool)
	// OnCommand reports the outcome of a queued write.
	OnCommand(device string, cmd thermostat.Command, err error)
}

// SessionOptions configures timing and limits of a session.
type SessionOptions struct {
	PollInterval    time.Duration // time between polls
	IdleDisconnect  time.Duration // linger after the last exchange before disconnecting
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration // per frame exchange
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	MaxFailures     int           // consecutive failed attempts before Fatal
	FatalResetAfter time.Duration // 0 waits for an explicit Reset
	QueueSize       int

	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		PollInterval:    60 * time.Second,
		IdleDisconnect:  5 * time.Second,
		ConnectTimeout:  20 * time.Second,
		ResponseTimeout: 5 * time.Second,
		BackoffInitial:  time.Second,
		BackoffMax:      5 * time.Minute,
		MaxFailures:     10,
		QueueSize:       8,
	}
}

func (o SessionOptions) withDefaults() SessionOptions {
	d := DefaultSessionOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.IdleDisconnect <= 0 {
		o.IdleDisconnect = d.IdleDisconnect
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = d.ResponseTimeout
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = d.BackoffInitial
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = max(d.BackoffMax, o.BackoffInitial)
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = d.MaxFailures
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	return o
}

// DeviceConfig identifies one thermostat.
type DeviceConfig struct {
	Name        string
	Address     string
	Credentials thermostat.Credentials
	Cipher      blecrypto.Algorithm
	Layout      GATTLayout
}

// Session owns all communication with one thermostat. Run drives the state
// machine; Submit and Reset may be called from any goroutine.
type Session struct {
	dev      DeviceConfig
	adapter  Adapter
	listener Listener
	radio    *RadioSlots
	opts     SessionOptions
	block    cipher.Block
	auth     *Authenticator
	backoff  *reconnectBackoff
	log      *zap.Logger

	// sleep waits out reconnect backoff; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	wake    chan struct{}
	resetCh chan struct{}

	mu           sync.Mutex
	state        State
	queue        *commandQueue
	pending      *thermostat.Command
	snapshot     thermostat.Telemetry
	lastActivity time.Time
	failures     int
	problem      bool
	healthKnown  bool // problem has been reported at least once
	cancelCycle  context.CancelFunc
	resetPending bool
}

// NewSession validates the device config and derives the key schedule. A
// device without a secret key is a config error; the session never starts.
// radio may be nil.
func NewSession(dev DeviceConfig, adapter Adapter, listener Listener, radio *RadioSlots, opts SessionOptions) (*Session, error) {
	if !dev.Credentials.HasKey {
		return nil, fmt.Errorf("ble: device %q: %w: secret key is required", dev.Name, thermostat.ErrConfig)
	}
	block, err := blecrypto.DeriveSchedule(dev.Cipher, dev.Credentials.SecretKey[:])
	if err != nil {
		return nil, fmt.Errorf("ble: device %q: %w: %v", dev.Name, thermostat.ErrConfig, err)
	}
	opts = opts.withDefaults()
	dev.Layout = dev.Layout.WithDefaults()
	log := zap.L().Named("ble").With(zap.String("device", dev.Name))

	return &Session{
		dev:      dev,
		adapter:  adapter,
		listener: listener,
		radio:    radio,
		opts:     opts,
		block:    block,
		auth:     NewAuthenticator(block, dev.Credentials.PIN, opts.ResponseTimeout, log),
		backoff:  newReconnectBackoff(opts.BackoffInitial, opts.BackoffMax),
		log:      log,
		sleep:    sleepCtx,
		wake:     make(chan struct{}, 1),
		resetCh:  make(chan struct{}, 1),
		queue:    newCommandQueue(opts.QueueSize),
	}, nil
}

// Name returns the configured device name.
func (s *Session) Name() string { return s.dev.Name }

// ReadOnly reports whether writes are refused for lack of a PIN.
func (s *Session) ReadOnly() bool { return s.dev.Credentials.ReadOnly() }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the latest telemetry.
func (s *Session) Snapshot() thermostat.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// LastActivity returns the time of the last successful frame exchange.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// QueueLen returns the number of unsent commands.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Pending returns the command currently being written, if any.
func (s *Session) Pending() (thermostat.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return thermostat.Command{}, false
	}
	return *s.pending, true
}

// Submit validates cmd and queues it for the device. It never blocks on the
// radio. Rejections wrap thermostat.ErrCommandRejected.
func (s *Session) Submit(cmd thermostat.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if s.ReadOnly() {
		return thermostat.ErrReadOnly
	}
	s.mu.Lock()
	coalesced, err := s.queue.push(cmd)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.log.Debug("command queued", zap.Stringer("command", cmd), zap.Bool("coalesced", coalesced))
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Reset returns the session to Idle at its next suspension point, closing
// any connection and clearing the failure count.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resetPending = true
	cancel := s.cancelCycle
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

// Run drives the session until ctx is cancelled. The first poll starts
// immediately. It returns an error only if the adapter cannot be enabled.
func (s *Session) Run(ctx context.Context) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	s.log.Info("session started", zap.String("address", s.dev.Address),
		zap.Duration("poll_interval", s.opts.PollInterval), zap.Bool("read_only", s.ReadOnly()))

	nextPoll := time.Now()
	for {
		s.setState(StateIdle)
		timer := time.NewTimer(max(time.Until(nextPoll), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("session stopped")
			return nil
		case <-s.resetCh:
			timer.Stop()
			s.consumeReset()
			continue
		case <-s.wake:
			timer.Stop()
			if s.QueueLen() == 0 {
				continue
			}
		case <-timer.C:
		}

		s.runCycle(ctx)
		nextPoll = time.Now().Add(s.opts.PollInterval)
	}
}

// runCycle connects, serves and disconnects, retrying with backoff until
// one attempt succeeds, the session turns Fatal, or it is reset.
func (s *Session) runCycle(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.mu.Lock()
	s.cancelCycle = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelCycle = nil
		s.mu.Unlock()
	}()

	for {
		err := s.attempt(ctx)
		if s.consumeReset() || parent.Err() != nil {
			return
		}
		if err == nil {
			s.mu.Lock()
			s.failures = 0
			s.mu.Unlock()
			s.backoff.Reset()
			return
		}

		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()

		if errors.Is(err, ErrAuth) {
			s.setProblem(true)
		}
		if failures >= s.opts.MaxFailures {
			s.log.Error("giving up on device", zap.Int("failures", failures), zap.Error(err))
			s.fatal(ctx)
			s.consumeReset()
			return
		}

		delay := s.backoff.Next()
		s.log.Warn("connection attempt failed", zap.Error(err),
			zap.Int("failures", failures), zap.Duration("backoff", delay))
		s.setState(StateReconnecting)
		if err := s.sleep(ctx, delay); err != nil {
			s.consumeReset()
			return
		}
	}
}

// fatal parks the session until Reset, FatalResetAfter, or shutdown.
func (s *Session) fatal(ctx context.Context) {
	s.setState(StateFatal)
	s.setProblem(true)

	var timeout <-chan time.Time
	if s.opts.FatalResetAfter > 0 {
		timer := time.NewTimer(s.opts.FatalResetAfter)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
		s.log.Info("fatal reset timer elapsed")
		s.mu.Lock()
		s.resetPending = true
		s.mu.Unlock()
	}
}

// consumeReset clears a pending reset request and reports whether there was
// one.
func (s *Session) consumeReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resetPending {
		return false
	}
	s.resetPending = false
	s.failures = 0
	s.backoff.Reset()
	return true
}

// attempt is one connection: connect, discover, authenticate, poll, then
// serve queued writes until the link has been idle for IdleDisconnect.
func (s *Session) attempt(ctx context.Context) error {
	if s.radio != nil {
		if err := s.radio.Acquire(ctx); err != nil {
			return err
		}
		defer s.radio.Release()
	}

	s.setState(StateConnecting)
	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	link, err := Dial(connectCtx, s.adapter, s.dev.Address, s.log)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		s.auth.Reset()
		if err := link.Close(); err != nil {
			s.log.Debug("disconnect", zap.Error(err))
		}
	}()

	s.setState(StateDiscovering)
	if err := link.Discover(s.dev.Layout); err != nil {
		return err
	}

	if !s.ReadOnly() {
		s.setState(StateAuthenticating)
		if err := s.auth.Authenticate(ctx, link); err != nil {
			return err
		}
	}

	s.setState(StatePolling)
	if err := s.poll(ctx, link); err != nil {
		return err
	}
	s.setProblem(false)
	return s.serve(ctx, link)
}

// poll requests every telemetry field. Malformed frames are logged and
// dropped, leaving the previous value of that field in the snapshot; only
// transport errors abort the poll.
func (s *Session) poll(ctx context.Context, link *Link) error {
	snap := s.Snapshot()
	decoded := 0

	for _, op := range protocol.PollOrder() {
		resp, err := link.Exchange(ctx, s.block, protocol.ReadRequest(op), s.opts.ResponseTimeout, func(f protocol.Frame) bool {
			return !f.Op.IsWrite() && f.Op.Field() == op
		})
		if err == nil {
			err = protocol.Apply(&snap, resp)
		}
		if errors.Is(err, protocol.ErrMalformedFrame) || errors.Is(err, protocol.ErrUnknownOpcode) {
			s.log.Warn("dropping frame", zap.Stringer("op", op), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
		decoded++
		s.touch()
	}

	if decoded == 0 {
		s.log.Warn("poll decoded no fields")
		return nil
	}
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	s.log.Debug("polled", zap.Float64("temperature", snap.Temperature), zap.Uint8("battery", snap.BatteryLevel))
	if s.listener != nil {
		s.listener.OnTelemetry(s.dev.Name, snap)
	}
	return nil
}

// serve writes queued commands one at a time, then lingers for
// IdleDisconnect waiting for more before returning.
func (s *Session) serve(ctx context.Context, link *Link) error {
	for {
		s.mu.Lock()
		cmd, ok := s.queue.pop()
		if ok {
			s.pending = &cmd
		}
		s.mu.Unlock()

		if ok {
			s.setState(StateWriting)
			err := s.write(ctx, link, cmd)
			s.mu.Lock()
			s.pending = nil
			if err != nil {
				s.queue.requeue(cmd)
			}
			s.mu.Unlock()
			if err != nil {
				return err
			}
			s.setState(StatePolling)
			continue
		}

		timer := time.NewTimer(s.opts.IdleDisconnect)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-link.Lost():
			timer.Stop()
			s.log.Debug("device closed idle link")
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			return nil
		}
	}
}

// write sends one command and waits for the device's echo. Transport
// errors, including a timeout waiting for the echo, are returned so the
// command is requeued and retried after reconnecting. A malformed reply or an
// echo carrying a different value is a protocol error: it is reported to the
// listener as failed and the command is not retried.
func (s *Session) write(ctx context.Context, link *Link, cmd thermostat.Command) error {
	req, err := protocol.EncodeCommand(cmd)
	if err != nil {
		s.reportCommand(cmd, err)
		return nil
	}
	resp, err := link.Exchange(ctx, s.block, req, s.opts.ResponseTimeout, func(f protocol.Frame) bool {
		return f.Op == req.Op
	})
	switch {
	case errors.Is(err, protocol.ErrMalformedFrame):
		s.reportCommand(cmd, err)
		return nil
	case err != nil:
		return err
	case !protocol.IsAck(req, resp):
		s.reportCommand(cmd, fmt.Errorf("%w: sent %x, got %x", ErrWriteNotConfirmed, req.Value, resp.Value))
		return nil
	}
	s.touch()

	s.mu.Lock()
	snap := s.snapshot
	applyErr := protocol.Apply(&snap, resp)
	if applyErr == nil {
		s.snapshot = snap
	}
	s.mu.Unlock()

	s.log.Info("command written", zap.Stringer("command", cmd))
	s.reportCommand(cmd, nil)
	if applyErr == nil && s.listener != nil {
		s.listener.OnTelemetry(s.dev.Name, snap)
	}
	return nil
}

func (s *Session) reportCommand(cmd thermostat.Command, err error) {
	if err != nil {
		s.log.Error("command failed", zap.Stringer("command", cmd), zap.Error(err))
	}
	if s.listener != nil {
		s.listener.OnCommand(s.dev.Name, cmd, err)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	s.log.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(from, to)
	}
}

// setProblem reports the first verdict and every change after it.
func (s *Session) setProblem(problem bool) {
	s.mu.Lock()
	changed := !s.healthKnown || s.problem != problem
	s.problem = problem
	s.healthKnown = true
	s.mu.Unlock()
	if changed && s.listener != nil {
		s.listener.OnHealth(s.dev.Name, problem)
	}
}

// Problem reports the session health flag.
func (s *Session) Problem() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.problem
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
