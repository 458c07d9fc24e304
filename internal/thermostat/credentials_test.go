package thermostat

import (
	"errors"
	"strings"
	"testing"
)

func TestParseSecretKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "lower hex", input: "00112233445566778899aabbccddeeff"},
		{name: "upper hex", input: "00112233445566778899AABBCCDDEEFF"},
		{name: "all zero", input: strings.Repeat("0", 32)},
		{name: "empty", input: "", wantErr: true},
		{name: "31 chars", input: strings.Repeat("a", 31), wantErr: true},
		{name: "33 chars", input: strings.Repeat("a", 33), wantErr: true},
		{name: "64 chars", input: strings.Repeat("a", 64), wantErr: true},
		{name: "non hex", input: "0011223344556677889900aabbccddzz", wantErr: true},
		{name: "spaces", input: "00112233 4455667788 99aabbccddee", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseSecretKey(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSecretKey(%q) should fail", tt.input)
				}
				if !errors.Is(err, ErrConfig) {
					t.Errorf("error %v should wrap ErrConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSecretKey(%q) error = %v", tt.input, err)
			}
			if len(key) != SecretKeySize {
				t.Errorf("key length = %d, want %d", len(key), SecretKeySize)
			}
		})
	}
}

func TestParseSecretKeyBytes(t *testing.T) {
	key, err := ParseSecretKey("0102030405060708090a0b0c0d0e0f10")
	if err != nil {
		t.Fatalf("ParseSecretKey() error = %v", err)
	}
	for i, b := range key {
		if b != byte(i+1) {
			t.Fatalf("key[%d] = 0x%02x, want 0x%02x", i, b, i+1)
		}
	}
}

func TestParsePIN(t *testing.T) {
	accept := []string{"0000", "9999", "1234", "0420"}
	reject := []string{"", "123", "12345", "12a4", "abcd", " 123", "12.4", "١٢٣٤"}

	for _, pin := range accept {
		if _, err := ParsePIN(pin); err != nil {
			t.Errorf("ParsePIN(%q) error = %v, want nil", pin, err)
		}
	}
	for _, pin := range reject {
		_, err := ParsePIN(pin)
		if err == nil {
			t.Errorf("ParsePIN(%q) should fail", pin)
			continue
		}
		if !errors.Is(err, ErrConfig) {
			t.Errorf("ParsePIN(%q) error %v should wrap ErrConfig", pin, err)
		}
	}
}

func TestNewCredentials(t *testing.T) {
	const key = "00112233445566778899aabbccddeeff"

	c, err := NewCredentials(key, "1234")
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	if !c.HasKey || !c.HasPIN || c.ReadOnly() {
		t.Errorf("credentials = %v, want key and pin", c)
	}

	c, err = NewCredentials(key, "")
	if err != nil {
		t.Fatalf("NewCredentials() without PIN error = %v", err)
	}
	if !c.ReadOnly() {
		t.Error("credentials without PIN should be read-only")
	}

	if _, err := NewCredentials("", "1234"); !errors.Is(err, ErrConfig) {
		t.Errorf("missing secret key error = %v, want ErrConfig", err)
	}
	if _, err := NewCredentials(key, "12a4"); !errors.Is(err, ErrConfig) {
		t.Errorf("bad PIN error = %v, want ErrConfig", err)
	}
}

func TestCredentialsStringHidesSecrets(t *testing.T) {
	c, err := NewCredentials("00112233445566778899aabbccddeeff", "4321")
	if err != nil {
		t.Fatal(err)
	}
	s := c.String()
	if strings.Contains(s, "4321") || strings.Contains(s, "aabb") {
		t.Errorf("String() = %q leaks credentials", s)
	}
}
