package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestScanForDevices(t *testing.T) {
	adapter := newFakeAdapter(newFakeThermostat(t))
	devices, err := ScanForDevices(adapter, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].MAC != testAddress {
		t.Errorf("devices = %v", devices)
	}
	if adapter.enabled != 1 {
		t.Errorf("adapter enabled %d times, want 1", adapter.enabled)
	}
}

func TestReadSecretKey(t *testing.T) {
	device := newFakeThermostat(t)
	device.secretKey = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

	opts := DefaultPairOptions()
	opts.PIN = testPIN
	key, err := ReadSecretKey(context.Background(), newFakeAdapter(device), testAddress, opts)
	if err != nil {
		t.Fatalf("ReadSecretKey() error = %v", err)
	}
	if key != testKeyHex {
		t.Errorf("key = %q, want %q", key, testKeyHex)
	}

	device.mu.Lock()
	defer device.mu.Unlock()
	if len(device.rawWrites) != 1 || string(device.rawWrites[0]) != testPIN {
		t.Errorf("PIN writes = %q", device.rawWrites)
	}
	if !device.conn.isDisconnected() {
		t.Error("pairing connection left open")
	}
}

func TestReadSecretKeyButtonNotPressed(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
	}{
		{"zeroed", make([]byte, 16)},
		{"short", []byte{1, 2, 3}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeThermostat(t)
			device.secretKey = tt.key
			_, err := ReadSecretKey(context.Background(), newFakeAdapter(device), testAddress, PairOptions{})
			if !errors.Is(err, ErrKeyUnavailable) {
				t.Errorf("ReadSecretKey() error = %v, want ErrKeyUnavailable", err)
			}
		})
	}
}

func TestReadSecretKeyUnknownDevice(t *testing.T) {
	_, err := ReadSecretKey(context.Background(), newFakeAdapter(newFakeThermostat(t)), "11:22:33:44:55:66", PairOptions{Timeout: time.Second})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadSecretKey() error = %v, want ErrNotFound", err)
	}
}
