package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func dialTestLink(t *testing.T, device *fakeThermostat) *Link {
	t.Helper()
	link, err := Dial(context.Background(), newFakeAdapter(device), testAddress, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = link.Close() })
	if err := link.Discover(DefaultLayout()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	return link
}

func TestAuthenticateSucceeds(t *testing.T) {
	device := newFakeThermostat(t)
	link := dialTestLink(t, device)
	a := NewAuthenticator(device.block, testPIN, 200*time.Millisecond, zaptest.NewLogger(t))

	if err := a.Authenticate(context.Background(), link); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if a.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated", a.State())
	}
	if a.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", a.Attempts())
	}
}

func TestAuthenticateFailsAfterThreeRejections(t *testing.T) {
	tests := []struct {
		name   string
		pin    string
		reject bool
	}{
		{"device rejects", testPIN, true},
		{"wrong pin", "4321", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeThermostat(t)
			device.rejectHandshake = tt.reject
			link := dialTestLink(t, device)
			a := NewAuthenticator(device.block, tt.pin, 200*time.Millisecond, zaptest.NewLogger(t))

			err := a.Authenticate(context.Background(), link)
			if !errors.Is(err, ErrAuth) {
				t.Fatalf("Authenticate() error = %v, want ErrAuth", err)
			}
			if a.State() != AuthFailed {
				t.Errorf("State() = %v, want failed", a.State())
			}
			if _, hs := device.counts(); hs != MaxHandshakeAttempts {
				t.Errorf("handshakes = %d, want %d", hs, MaxHandshakeAttempts)
			}

			a.Reset()
			if a.State() != Unauthenticated || a.Attempts() != 0 {
				t.Errorf("after Reset: state %v attempts %d", a.State(), a.Attempts())
			}
		})
	}
}

func TestAuthenticateAbortsOnLinkLoss(t *testing.T) {
	device := newFakeThermostat(t)
	link := dialTestLink(t, device)
	device.latestConnection().SimulateDisconnect()
	a := NewAuthenticator(device.block, testPIN, 200*time.Millisecond, zaptest.NewLogger(t))

	err := a.Authenticate(context.Background(), link)
	if !errors.Is(err, ErrLinkLost) {
		t.Fatalf("Authenticate() error = %v, want ErrLinkLost", err)
	}
	if errors.Is(err, ErrAuth) {
		t.Error("link loss must not count as an authentication failure")
	}
	if a.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", a.Attempts())
	}
}

func TestAuthenticateTimesOut(t *testing.T) {
	device := newFakeThermostat(t)
	link := dialTestLink(t, device)
	// The device cannot decode requests under a different key and stays silent.
	wrongKey := mustBlock(t, "ffeeddccbbaa99887766554433221100")
	a := NewAuthenticator(wrongKey, testPIN, 20*time.Millisecond, zaptest.NewLogger(t))

	err := a.Authenticate(context.Background(), link)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Authenticate() error = %v, want ErrAuth", err)
	}
}

func TestAuthStateString(t *testing.T) {
	if got := ChallengeSent.String(); got != "challenge_sent" {
		t.Errorf("String() = %q", got)
	}
}
