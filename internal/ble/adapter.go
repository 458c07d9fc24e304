// Package ble drives a Danfoss Eco class radiator thermostat over Bluetooth
// Low Energy. It owns the connection, the PIN handshake, the encrypted frame
// exchange and the polling session that serializes reads and writes.
package ble

import (
	"context"
	"errors"
)

// Default GATT layout of the thermostat. Firmware revisions may move
// characteristics; GATTLayout lets the config override each UUID.
const (
	ServiceUUID   = "10020000-2749-0001-0000-00805f9b042f"
	CommandUUID   = "10020001-2749-0001-0000-00805f9b042f"
	NotifyUUID    = "10020002-2749-0001-0000-00805f9b042f"
	NonceUUID     = "10020003-2749-0001-0000-00805f9b042f"
	SecretKeyUUID = "1002000b-2749-0001-0000-00805f9b042f"
)

// Transport errors. Adapters wrap their native errors with these so the
// session can tell a sleeping device from a busy one.
var (
	ErrNotFound = errors.New("ble: not found")
	ErrTimeout  = errors.New("ble: timeout")
	ErrLinkLost = errors.New("ble: link lost")
	ErrBusy     = errors.New("ble: device busy")
)

// GATTLayout names the characteristics used by the driver.
type GATTLayout struct {
	Service   string
	Command   string // write: encrypted request frames
	Notify    string // notify: encrypted response frames
	Nonce     string // read: handshake nonce
	SecretKey string // read: secret key, exposed only while the button is pressed
}

// DefaultLayout returns the documented characteristic set.
func DefaultLayout() GATTLayout {
	return GATTLayout{
		Service:   ServiceUUID,
		Command:   CommandUUID,
		Notify:    NotifyUUID,
		Nonce:     NonceUUID,
		SecretKey: SecretKeyUUID,
	}
}

// WithDefaults fills empty UUIDs from DefaultLayout.
func (l GATTLayout) WithDefaults() GATTLayout {
	d := DefaultLayout()
	if l.Service == "" {
		l.Service = d.Service
	}
	if l.Command == "" {
		l.Command = d.Command
	}
	if l.Notify == "" {
		l.Notify = d.Notify
	}
	if l.Nonce == "" {
		l.Nonce = d.Nonce
	}
	if l.SecretKey == "" {
		l.SecretKey = d.SecretKey
	}
	return l
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Read returns the current value of the characteristic.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	MAC  string
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given MAC address.
	Connect(ctx context.Context, mac string) (Connection, error)
}

// isTransport reports whether err is one of the transport errors.
func isTransport(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrLinkLost) || errors.Is(err, ErrBusy)
}
