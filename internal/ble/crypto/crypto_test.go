package crypto

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(0x10 + i)
	}
	return key
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			for i := 0; i < 200; i++ {
				key := make([]byte, KeySize)
				rng.Read(key)
				block, err := DeriveSchedule(alg, key)
				if err != nil {
					t.Fatalf("DeriveSchedule() error = %v", err)
				}

				plaintext := make([]byte, BlockSize)
				rng.Read(plaintext)

				ciphertext, err := EncryptFrame(block, plaintext)
				if err != nil {
					t.Fatalf("EncryptFrame() error = %v", err)
				}
				if bytes.Equal(ciphertext, plaintext) {
					t.Fatalf("ciphertext equals plaintext for %x", plaintext)
				}
				got, err := DecryptFrame(block, ciphertext)
				if err != nil {
					t.Fatalf("DecryptFrame() error = %v", err)
				}
				if !bytes.Equal(got, plaintext) {
					t.Fatalf("round trip = %x, want %x", got, plaintext)
				}
			}
		})
	}
}

func TestDeriveScheduleDeterministic(t *testing.T) {
	a, err := DeriveSchedule(XXTEA, testKey())
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveSchedule(XXTEA, testKey())
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("0123456789abcdef")
	ca, _ := EncryptFrame(a, plaintext)
	cb, _ := EncryptFrame(b, plaintext)
	if !bytes.Equal(ca, cb) {
		t.Errorf("same key produced different ciphertexts %x and %x", ca, cb)
	}
}

func TestDifferentKeysDiffer(t *testing.T) {
	other := testKey()
	other[0] ^= 0xff
	a, _ := DeriveSchedule(XXTEA, testKey())
	b, _ := DeriveSchedule(XXTEA, other)
	plaintext := make([]byte, BlockSize)
	ca, _ := EncryptFrame(a, plaintext)
	cb, _ := EncryptFrame(b, plaintext)
	if bytes.Equal(ca, cb) {
		t.Error("different keys produced identical ciphertexts")
	}
}

func TestAlgorithmsDiffer(t *testing.T) {
	a, _ := DeriveSchedule(XXTEA, testKey())
	b, _ := DeriveSchedule(XTEA, testKey())
	plaintext := []byte("fedcba9876543210")
	ca, _ := EncryptFrame(a, plaintext)
	cb, _ := EncryptFrame(b, plaintext)
	if bytes.Equal(ca, cb) {
		t.Error("xxtea and xtea produced identical ciphertexts")
	}
}

func TestDefaultAlgorithm(t *testing.T) {
	a, _ := DeriveSchedule("", testKey())
	b, _ := DeriveSchedule(DefaultAlgorithm, testKey())
	plaintext := []byte("fedcba9876543210")
	ca, _ := EncryptFrame(a, plaintext)
	cb, _ := EncryptFrame(b, plaintext)
	if !bytes.Equal(ca, cb) {
		t.Error("empty algorithm should select the default")
	}
}

func TestDeriveScheduleErrors(t *testing.T) {
	if _, err := DeriveSchedule(XXTEA, make([]byte, 15)); err == nil {
		t.Error("short key should fail")
	}
	if _, err := DeriveSchedule("aes", testKey()); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("unknown algorithm error = %v, want ErrUnknownAlgorithm", err)
	}
}

func TestFrameSizeChecked(t *testing.T) {
	block, _ := DeriveSchedule(XXTEA, testKey())
	for _, n := range []int{0, 8, 15, 17, 32} {
		if _, err := EncryptFrame(block, make([]byte, n)); !errors.Is(err, ErrBlockSize) {
			t.Errorf("EncryptFrame(len %d) error = %v, want ErrBlockSize", n, err)
		}
		if _, err := DecryptFrame(block, make([]byte, n)); !errors.Is(err, ErrBlockSize) {
			t.Errorf("DecryptFrame(len %d) error = %v, want ErrBlockSize", n, err)
		}
	}
}

func TestEncryptDoesNotMutateInput(t *testing.T) {
	block, _ := DeriveSchedule(XXTEA, testKey())
	plaintext := []byte("0123456789abcdef")
	orig := append([]byte(nil), plaintext...)
	if _, err := EncryptFrame(block, plaintext); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, orig) {
		t.Error("EncryptFrame modified its input")
	}
}
