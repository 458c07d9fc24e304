package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter drives the host radio through tinygo.org/x/bluetooth.
// Addresses are MAC strings on Linux (BlueZ) and CoreBluetooth UUIDs on
// macOS; they are matched case-insensitively.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	mu          sync.Mutex
	enabled     bool
	connections map[string]*tinyGoConnection // keyed by connectionKey
}

// NewTinyGoAdapter returns an adapter on the default host controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

// Enable powers the controller on. Sessions share one adapter, so repeated
// calls are no-ops.
func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// Disconnects are only reported at adapter level; route them to the
	// matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.dropped(device.Address.String())
	})
	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name: result.LocalName(),
			MAC:  addr,
			RSSI: int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", mapError(err))
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// The library's Connect cannot be cancelled; ctx only bounds our wait.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// Late success must not leak a connection.
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, mapError(r.err)
		}
		conn := &tinyGoConnection{device: r.device}
		a.track(address, conn)
		return conn, nil
	}
}

var _ Adapter = (*TinyGoAdapter)(nil)

func (a *TinyGoAdapter) track(address string, conn *tinyGoConnection) {
	a.mu.Lock()
	a.connections[connectionKey(address)] = conn
	a.mu.Unlock()
}

// dropped fires the disconnect callback of the connection to address, if any.
func (a *TinyGoAdapter) dropped(address string) {
	id := connectionKey(address)
	a.mu.Lock()
	conn, ok := a.connections[id]
	delete(a.connections, id)
	a.mu.Unlock()
	if ok {
		conn.fireDisconnect()
	}
}

// connectionKey normalizes an address for the connection table. BlueZ
// reports MACs in upper case whatever the config says.
func connectionKey(address string) string {
	return strings.ToUpper(address)
}

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	chUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", mapError(err))
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("%w: service %s", ErrNotFound, serviceUUID)
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{chUUID})
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", mapError(err))
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: characteristic %s", ErrNotFound, charUUID)
	}
	return &tinyGoCharacteristic{char: chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

// Write sends a write command. BlueZ has no write request in the library, so
// delivery is confirmed by the device's echo frame instead.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return mapError(err)
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 64)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, mapError(err)
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return mapError(c.char.EnableNotifications(cb))
}

// mapError classifies native stack errors into the transport errors. The
// library exposes no typed errors, so matching is on message text.
func mapError(err error) error {
	if err == nil || isTransport(err) {
		return err
	}
	msg := strings.ToLower(err.Error())
	var kind error
	switch {
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in progress"):
		kind = ErrBusy
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		kind = ErrTimeout
	case strings.Contains(msg, "not found") || strings.Contains(msg, "unknown"):
		kind = ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	default:
		kind = ErrLinkLost
	}
	return fmt.Errorf("%w: %v", kind, err)
}
