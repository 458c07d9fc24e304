package ble

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	blecrypto "github.com/chaz8081/ecotherm/internal/ble/crypto"
)

// ErrKeyUnavailable is returned when the device does not expose its secret
// key, usually because the timer button was not pressed.
var ErrKeyUnavailable = errors.New("ble: secret key unavailable, press the button on the thermostat and retry")

// PairOptions configures key retrieval.
type PairOptions struct {
	Timeout time.Duration // connect and read budget
	PIN     string        // written before reading the key when set
	Layout  GATTLayout
}

// DefaultPairOptions returns sensible defaults for production use.
func DefaultPairOptions() PairOptions {
	return PairOptions{
		Timeout: 30 * time.Second,
		Layout:  DefaultLayout(),
	}
}

// ScanForDevices scans for thermostats advertising the service.
func ScanForDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// ReadSecretKey connects to address and reads the device's secret key. The
// device only exposes it for a short while after its button is pressed. The
// key is returned hex encoded, ready for the config file.
func ReadSecretKey(ctx context.Context, adapter Adapter, address string, opts PairOptions) (string, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPairOptions().Timeout
	}
	layout := opts.Layout.WithDefaults()

	if err := adapter.Enable(); err != nil {
		return "", fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := adapter.Connect(ctx, address)
	if err != nil {
		return "", fmt.Errorf("ble: connect for pairing: %w", err)
	}
	defer func() { _ = conn.Disconnect() }()

	if opts.PIN != "" {
		pinChar, err := conn.DiscoverCharacteristic(layout.Service, layout.Command)
		if err != nil {
			return "", fmt.Errorf("ble: discover command char: %w", err)
		}
		if err := pinChar.Write([]byte(opts.PIN)); err != nil {
			return "", fmt.Errorf("ble: write PIN: %w", err)
		}
	}

	keyChar, err := conn.DiscoverCharacteristic(layout.Service, layout.SecretKey)
	if err != nil {
		return "", fmt.Errorf("ble: discover secret key char: %w", err)
	}
	key, err := keyChar.Read()
	if err != nil {
		return "", fmt.Errorf("ble: read secret key: %w", err)
	}
	if len(key) != blecrypto.KeySize || bytes.Equal(key, make([]byte, blecrypto.KeySize)) {
		return "", ErrKeyUnavailable
	}
	return hex.EncodeToString(key), nil
}
