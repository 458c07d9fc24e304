// Package thermostat defines the data model shared by the BLE driver and the
// entity bridge: device credentials, telemetry snapshots and write commands.
package thermostat

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// SecretKeySize is the length of the device secret key in raw bytes.
const SecretKeySize = 16

// PINLength is the number of ASCII digits in a device PIN.
const PINLength = 4

// ErrConfig marks credentials that can never be used against a device.
var ErrConfig = errors.New("config error")

// Credentials holds the secret key and PIN for one thermostat. A zero value
// has neither.
type Credentials struct {
	SecretKey [SecretKeySize]byte
	PIN       string
	HasKey    bool
	HasPIN    bool
}

// ParseSecretKey decodes a 32 character hex string into a raw key.
func ParseSecretKey(s string) ([SecretKeySize]byte, error) {
	var key [SecretKeySize]byte
	if len(s) != 2*SecretKeySize {
		return key, fmt.Errorf("%w: secret key should be exactly %d bytes (%d hex chars), got %d chars",
			ErrConfig, SecretKeySize, 2*SecretKeySize, len(s))
	}
	if _, err := hex.Decode(key[:], []byte(s)); err != nil {
		return key, fmt.Errorf("%w: secret key is not hex: %v", ErrConfig, err)
	}
	return key, nil
}

// ParsePIN checks that s is exactly four ASCII digits.
func ParsePIN(s string) (string, error) {
	if len(s) != PINLength {
		return "", fmt.Errorf("%w: PIN code should be exactly %d chars, got %d", ErrConfig, PINLength, len(s))
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", fmt.Errorf("%w: PIN code should be numeric", ErrConfig)
		}
	}
	return s, nil
}

// NewCredentials validates the configured strings. Empty strings mean the
// value was not configured. A missing secret key is rejected because no
// frame can be decrypted without it; a missing PIN yields read-only
// credentials.
func NewCredentials(secretKey, pin string) (Credentials, error) {
	var c Credentials
	if secretKey == "" {
		return c, fmt.Errorf("%w: secret key is required", ErrConfig)
	}
	key, err := ParseSecretKey(secretKey)
	if err != nil {
		return c, err
	}
	c.SecretKey = key
	c.HasKey = true

	if pin != "" {
		p, err := ParsePIN(pin)
		if err != nil {
			return c, err
		}
		c.PIN = p
		c.HasPIN = true
	}
	return c, nil
}

// ReadOnly reports whether the credentials cannot authenticate writes.
func (c Credentials) ReadOnly() bool {
	return !c.HasPIN
}

// String never prints key material.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{key:%t pin:%t}", c.HasKey, c.HasPIN)
}
