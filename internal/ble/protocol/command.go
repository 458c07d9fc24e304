package protocol

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// NonceSize is the length of the device-supplied handshake nonce.
const NonceSize = 4

// ErrHandshakeRejected is returned when the device answers the handshake
// with a reject frame or an acknowledgement that does not echo the nonce.
var ErrHandshakeRejected = errors.New("protocol: handshake rejected")

var commandOps = map[thermostat.Kind]Opcode{
	thermostat.SetTemperatureMin:      OpSetpointMin,
	thermostat.SetTemperatureMax:      OpSetpointMax,
	thermostat.SetFrostProtection:     OpFrostProtection,
	thermostat.SetVacationTemperature: OpVacation,
	thermostat.SetChildSafety:         OpChildSafety,
	thermostat.SetAdaptiveLearning:    OpAdaptiveLearning,
	thermostat.SetSetpoint:            OpSetpoint,
	thermostat.SetMode:                OpMode,
}

// EncodeCommand builds the write frame for an already validated command.
// Temperatures are sent as half degrees (value × SetpointScale) and clamped
// into a byte.
func EncodeCommand(cmd thermostat.Command) (Frame, error) {
	op, ok := commandOps[cmd.Kind]
	if !ok {
		return Frame{}, fmt.Errorf("protocol: no opcode for %s", cmd.Kind)
	}
	var v byte
	switch cmd.Kind {
	case thermostat.SetChildSafety, thermostat.SetAdaptiveLearning:
		v = boolByte(cmd.Enabled)
	case thermostat.SetMode:
		v = byte(cmd.Mode)
	default:
		v = halfDegrees(cmd.Value)
	}
	return Frame{Op: op | OpWrite, Value: []byte{v}}, nil
}

// IsAck reports whether resp acknowledges the write frame req.
func IsAck(req, resp Frame) bool {
	return req.Equal(resp)
}

// HandshakeFrame proves knowledge of the PIN for one device nonce.
func HandshakeFrame(pin string, nonce []byte) (Frame, error) {
	if len(pin) != thermostat.PINLength {
		return Frame{}, fmt.Errorf("protocol: PIN must be %d digits", thermostat.PINLength)
	}
	if len(nonce) != NonceSize {
		return Frame{}, fmt.Errorf("protocol: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	v := make([]byte, 0, thermostat.PINLength+NonceSize)
	v = append(v, pin...)
	v = append(v, nonce...)
	return Frame{Op: OpHandshake, Value: v}, nil
}

// CheckHandshakeAck verifies the device acknowledgement echoes the nonce.
// The comparison runs in constant time over the full value.
func CheckHandshakeAck(f Frame, nonce []byte) error {
	echo := make([]byte, NonceSize)
	copy(echo, f.Value)
	match := subtle.ConstantTimeCompare(echo, nonce) &
		subtle.ConstantTimeEq(int32(len(f.Value)), NonceSize) &
		subtle.ConstantTimeByteEq(byte(f.Op), byte(OpHandshakeAck))
	if match != 1 {
		return ErrHandshakeRejected
	}
	return nil
}
