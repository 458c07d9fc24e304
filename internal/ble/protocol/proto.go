// Package protocol implements the fixed-size frame codec spoken over the
// thermostat's GATT characteristics.
//
// Every frame is 16 bytes before encryption:
//
//	byte 0      opcode
//	byte 1      value length n (0..14)
//	bytes 2..   value (n bytes)
//	remainder   zero padding
//
// Telemetry is requested by sending the field opcode with no value; the
// device answers with the same opcode carrying the value. Writes set the
// high bit of the opcode and are acknowledged by an echo of the write frame.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// FrameSize is the plaintext frame width, equal to the cipher block size.
const FrameSize = 16

// MaxValueLen is the largest value a frame can carry.
const MaxValueLen = FrameSize - 2

// Opcode identifies the field or command a frame carries.
type Opcode uint8

// Telemetry opcodes.
const (
	OpTemperature      Opcode = 0x01
	OpSetpoint         Opcode = 0x02
	OpBattery          Opcode = 0x03
	OpSetpointMin      Opcode = 0x04
	OpSetpointMax      Opcode = 0x05
	OpFrostProtection  Opcode = 0x06
	OpVacation         Opcode = 0x07
	OpChildSafety      Opcode = 0x08
	OpAdaptiveLearning Opcode = 0x09
	OpProblems         Opcode = 0x0a
	OpMACAddress       Opcode = 0x0b
	OpHardwareRevision Opcode = 0x0c
	OpFirmwareRevision Opcode = 0x0d
	OpMode             Opcode = 0x0e
)

// OpWrite is or'ed into a field opcode to write that field.
const OpWrite Opcode = 0x80

// Handshake opcodes.
const (
	OpHandshake       Opcode = 0xa0
	OpHandshakeAck    Opcode = 0xa1
	OpHandshakeReject Opcode = 0xa2
)

var (
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	ErrUnknownOpcode  = errors.New("protocol: unknown opcode")
)

// IsWrite reports whether op is a write opcode.
func (op Opcode) IsWrite() bool {
	return op&OpWrite != 0 && op < OpHandshake
}

// Field strips the write bit.
func (op Opcode) Field() Opcode {
	if op.IsWrite() {
		return op &^ OpWrite
	}
	return op
}

func (op Opcode) String() string {
	if s, ok := fields[op.Field()]; ok {
		if op.IsWrite() {
			return "write_" + s.name
		}
		return s.name
	}
	switch op {
	case OpHandshake:
		return "handshake"
	case OpHandshakeAck:
		return "handshake_ack"
	case OpHandshakeReject:
		return "handshake_reject"
	}
	return fmt.Sprintf("opcode(0x%02x)", uint8(op))
}

// Frame is one decoded plaintext frame.
type Frame struct {
	Op    Opcode
	Value []byte
}

// Marshal lays the frame out in FrameSize bytes.
func (f Frame) Marshal() ([]byte, error) {
	if len(f.Value) > MaxValueLen {
		return nil, fmt.Errorf("protocol: value length %d exceeds %d", len(f.Value), MaxValueLen)
	}
	buf := make([]byte, FrameSize)
	buf[0] = byte(f.Op)
	buf[1] = byte(len(f.Value))
	copy(buf[2:], f.Value)
	return buf, nil
}

// Equal compares opcode and value.
func (f Frame) Equal(o Frame) bool {
	return f.Op == o.Op && bytes.Equal(f.Value, o.Value)
}

// Unmarshal parses a plaintext frame. A wrong size, an impossible length
// byte, or non-zero padding is ErrMalformedFrame.
func Unmarshal(data []byte) (Frame, error) {
	if len(data) != FrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedFrame, len(data), FrameSize)
	}
	n := int(data[1])
	if n > MaxValueLen {
		return Frame{}, fmt.Errorf("%w: value length %d", ErrMalformedFrame, n)
	}
	for _, b := range data[2+n:] {
		if b != 0 {
			return Frame{}, fmt.Errorf("%w: non-zero padding", ErrMalformedFrame)
		}
	}
	value := make([]byte, n)
	copy(value, data[2:2+n])
	return Frame{Op: Opcode(data[0]), Value: value}, nil
}

// ReadRequest asks the device for one telemetry field.
func ReadRequest(op Opcode) Frame {
	return Frame{Op: op.Field()}
}

// PollOrder is the sequence of fields requested during one poll.
func PollOrder() []Opcode {
	return []Opcode{
		OpTemperature,
		OpSetpoint,
		OpBattery,
		OpMode,
		OpSetpointMin,
		OpSetpointMax,
		OpFrostProtection,
		OpVacation,
		OpChildSafety,
		OpAdaptiveLearning,
		OpProblems,
		OpMACAddress,
		OpHardwareRevision,
		OpFirmwareRevision,
	}
}
