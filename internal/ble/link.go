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
)

const notifyBuffer = 8

// Link is one physical connection to a thermostat. Only the owning session
// goroutine calls its methods; notifications arrive from the adapter's
// goroutine through a buffered channel.
type Link struct {
	address string
	conn    Connection
	log     *zap.Logger

	command Characteristic
	nonce   Characteristic

	notify   chan []byte
	lost     chan struct{}
	lostOnce sync.Once
	closed   bool
}

// Dial connects to address. Context expiry is reported as ErrTimeout.
func Dial(ctx context.Context, adapter Adapter, address string, log *zap.Logger) (*Link, error) {
	conn, err := adapter.Connect(ctx, address)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}
	l := &Link{
		address: address,
		conn:    conn,
		log:     log,
		notify:  make(chan []byte, notifyBuffer),
		lost:    make(chan struct{}),
	}
	conn.OnDisconnect(l.markLost)
	return l, nil
}

func (l *Link) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// Lost is closed once the peripheral drops the connection.
func (l *Link) Lost() <-chan struct{} {
	return l.lost
}

// Discover resolves the characteristics of layout and subscribes to
// notifications. A missing characteristic is ErrNotFound.
func (l *Link) Discover(layout GATTLayout) error {
	var err error
	if l.command, err = l.discover(layout.Service, layout.Command); err != nil {
		return err
	}
	if l.nonce, err = l.discover(layout.Service, layout.Nonce); err != nil {
		return err
	}
	notify, err := l.discover(layout.Service, layout.Notify)
	if err != nil {
		return err
	}
	if err := notify.Subscribe(l.onNotification); err != nil {
		return fmt.Errorf("ble: subscribe to %s: %w", layout.Notify, err)
	}
	return nil
}

func (l *Link) discover(service, char string) (Characteristic, error) {
	c, err := l.conn.DiscoverCharacteristic(service, char)
	if err != nil {
		if !isTransport(err) {
			err = fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, fmt.Errorf("ble: discover %s: %w", char, err)
	}
	return c, nil
}

// onNotification queues a copy of data, dropping the oldest frame when the
// buffer is full.
func (l *Link) onNotification(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	for {
		select {
		case l.notify <- cp:
			return
		default:
		}
		select {
		case <-l.notify:
			l.log.Warn("notification buffer full, dropping oldest frame")
		default:
		}
	}
}

// drain discards notifications left over from earlier exchanges.
func (l *Link) drain() {
	for {
		select {
		case <-l.notify:
		default:
			return
		}
	}
}

// Write sends raw bytes to the command characteristic.
func (l *Link) Write(data []byte) error {
	select {
	case <-l.lost:
		return ErrLinkLost
	default:
	}
	if err := l.command.Write(data); err != nil {
		if !isTransport(err) {
			err = fmt.Errorf("%w: %v", ErrLinkLost, err)
		}
		return fmt.Errorf("ble: write: %w", err)
	}
	return nil
}

// ReadNonce reads the handshake nonce characteristic.
func (l *Link) ReadNonce() ([]byte, error) {
	data, err := l.nonce.Read()
	if err != nil {
		if !isTransport(err) {
			err = fmt.Errorf("%w: %v", ErrLinkLost, err)
		}
		return nil, fmt.Errorf("ble: read nonce: %w", err)
	}
	if len(data) != protocol.NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes", protocol.ErrMalformedFrame, len(data))
	}
	return data, nil
}

// ReadNotification waits for the next notification.
func (l *Link) ReadNotification(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return nil, ErrTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-l.notify:
		return data, nil
	case <-l.lost:
		return nil, ErrLinkLost
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Exchange encrypts and sends req, then waits up to timeout for a response
// frame accepted by match. Well-formed frames that do not match are
// ignored. A frame that fails to decode is ErrMalformedFrame.
func (l *Link) Exchange(ctx context.Context, block cipher.Block, req protocol.Frame, timeout time.Duration, match func(protocol.Frame) bool) (protocol.Frame, error) {
	plain, err := req.Marshal()
	if err != nil {
		return protocol.Frame{}, err
	}
	data, err := blecrypto.EncryptFrame(block, plain)
	if err != nil {
		return protocol.Frame{}, err
	}

	l.drain()
	if err := l.Write(data); err != nil {
		return protocol.Frame{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		raw, err := l.ReadNotification(ctx, time.Until(deadline))
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("ble: await %s response: %w", req.Op, err)
		}
		pt, err := blecrypto.DecryptFrame(block, raw)
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("%w: %v", protocol.ErrMalformedFrame, err)
		}
		f, err := protocol.Unmarshal(pt)
		if err != nil {
			return protocol.Frame{}, err
		}
		if match(f) {
			return f, nil
		}
		l.log.Debug("ignoring unsolicited frame", zap.Stringer("op", f.Op), zap.Stringer("awaiting", req.Op))
	}
}

// Close disconnects. It is safe to call more than once.
func (l *Link) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.conn.Disconnect()
	l.markLost()
	return err
}
