package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	blecrypto "github.com/chaz8081/ecotherm/internal/ble/crypto"
	"github.com/chaz8081/ecotherm/internal/ble/protocol"
)

func isOp(op protocol.Opcode) func(protocol.Frame) bool {
	return func(f protocol.Frame) bool { return f.Op == op }
}

func TestLinkExchangeReadsField(t *testing.T) {
	device := newFakeThermostat(t)
	link := dialTestLink(t, device)

	// Stale notifications from before the request are discarded.
	device.latestConnection().notify([]byte("stale"))

	resp, err := link.Exchange(context.Background(), device.block, protocol.ReadRequest(protocol.OpBattery), 200*time.Millisecond, isOp(protocol.OpBattery))
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if len(resp.Value) != 1 || resp.Value[0] != 78 {
		t.Errorf("battery frame = %x, want 4e", resp.Value)
	}
}

func TestLinkExchangeIgnoresUnmatchedFrames(t *testing.T) {
	device := newFakeThermostat(t)
	link := dialTestLink(t, device)

	_, err := link.Exchange(context.Background(), device.block, protocol.ReadRequest(protocol.OpBattery), 30*time.Millisecond, isOp(protocol.OpSetpoint))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Exchange() error = %v, want ErrTimeout", err)
	}
}

func TestLinkExchangeMalformed(t *testing.T) {
	device := newFakeThermostat(t)
	device.malformed[protocol.OpBattery] = true
	link := dialTestLink(t, device)

	_, err := link.Exchange(context.Background(), device.block, protocol.ReadRequest(protocol.OpBattery), 200*time.Millisecond, isOp(protocol.OpBattery))
	if !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Fatalf("Exchange() error = %v, want ErrMalformedFrame", err)
	}
}

func TestLinkReadNotificationLost(t *testing.T) {
	device := newFakeThermostat(t)
	link := dialTestLink(t, device)
	device.latestConnection().SimulateDisconnect()

	if _, err := link.ReadNotification(context.Background(), time.Second); !errors.Is(err, ErrLinkLost) {
		t.Errorf("ReadNotification() error = %v, want ErrLinkLost", err)
	}
	if err := link.Write(make([]byte, blecrypto.BlockSize)); !errors.Is(err, ErrLinkLost) {
		t.Errorf("Write() error = %v, want ErrLinkLost", err)
	}
}

func TestLinkNotificationBufferDropsOldest(t *testing.T) {
	device := newFakeThermostat(t)
	link := dialTestLink(t, device)

	for i := 0; i <= notifyBuffer; i++ {
		link.onNotification([]byte{byte(i)})
	}
	got, err := link.ReadNotification(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ReadNotification() error = %v", err)
	}
	if got[0] != 1 {
		t.Errorf("oldest retained frame = %d, want 1", got[0])
	}
}

func TestLinkDiscoverMissingCharacteristic(t *testing.T) {
	device := newFakeThermostat(t)
	device.missingChar = NonceUUID
	link, err := Dial(context.Background(), newFakeAdapter(device), testAddress, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer link.Close()

	if err := link.Discover(DefaultLayout()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Discover() error = %v, want ErrNotFound", err)
	}
}

func TestDialTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := Dial(ctx, newFakeAdapter(newFakeThermostat(t)), testAddress, zaptest.NewLogger(t))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Dial() error = %v, want ErrTimeout", err)
	}
}

func TestLinkCloseIdempotent(t *testing.T) {
	device := newFakeThermostat(t)
	link := dialTestLink(t, device)
	if err := link.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	select {
	case <-link.Lost():
	default:
		t.Error("Lost() should be closed after Close()")
	}
}
