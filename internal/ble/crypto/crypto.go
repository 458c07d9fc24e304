// Package crypto provides the frame ciphers used on the thermostat's GATT
// characteristics. Each cipher is a crypto/cipher.Block whose block size is
// the 16-byte frame width, derived once per session from the device secret
// key. Two strategies exist: XXTEA with big-endian words (what the device
// firmware speaks) and XTEA from golang.org/x/crypto applied per half frame.
package crypto

import (
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/xtea"
)

// BlockSize is the plaintext and ciphertext size of one frame.
const BlockSize = 16

// KeySize is the secret key length.
const KeySize = 16

// Algorithm selects a frame cipher strategy.
type Algorithm string

const (
	XXTEA Algorithm = "xxtea"
	XTEA  Algorithm = "xtea"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = XXTEA

var (
	ErrBlockSize        = errors.New("ble/crypto: frame must be exactly 16 bytes")
	ErrUnknownAlgorithm = errors.New("ble/crypto: unknown cipher algorithm")
)

// Algorithms lists the supported strategies.
func Algorithms() []Algorithm {
	return []Algorithm{XXTEA, XTEA}
}

// DeriveSchedule builds the key schedule for alg. It is pure and
// deterministic. An empty alg selects DefaultAlgorithm.
func DeriveSchedule(alg Algorithm, key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("ble/crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	switch alg {
	case "", XXTEA:
		return newXXTEA(key), nil
	case XTEA:
		c, err := xtea.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("ble/crypto: xtea: %w", err)
		}
		return &halves{inner: c}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
}

// EncryptFrame encrypts one frame into a new slice.
func EncryptFrame(b cipher.Block, plaintext []byte) ([]byte, error) {
	if len(plaintext) != BlockSize {
		return nil, ErrBlockSize
	}
	out := make([]byte, BlockSize)
	b.Encrypt(out, plaintext)
	return out, nil
}

// DecryptFrame decrypts one frame into a new slice. The whole block is always
// processed; callers validate the plaintext afterwards.
func DecryptFrame(b cipher.Block, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != BlockSize {
		return nil, ErrBlockSize
	}
	out := make([]byte, BlockSize)
	b.Decrypt(out, ciphertext)
	return out, nil
}

// halves runs an 8-byte block cipher over both halves of a frame.
type halves struct {
	inner cipher.Block
}

func (h *halves) BlockSize() int { return BlockSize }

func (h *halves) Encrypt(dst, src []byte) {
	n := h.inner.BlockSize()
	for off := 0; off < BlockSize; off += n {
		h.inner.Encrypt(dst[off:off+n], src[off:off+n])
	}
}

func (h *halves) Decrypt(dst, src []byte) {
	n := h.inner.BlockSize()
	for off := 0; off < BlockSize; off += n {
		h.inner.Decrypt(dst[off:off+n], src[off:off+n])
	}
}

var (
	_ cipher.Block = (*halves)(nil)
	_ cipher.Block = (*xxteaBlock)(nil)
)
