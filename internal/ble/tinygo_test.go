package ble

import (
	"errors"
	"testing"
)

func TestTinyGoAdapterRoutesDisconnectCaseInsensitively(t *testing.T) {
	a := NewTinyGoAdapter()
	conn := &tinyGoConnection{}
	fired := 0
	conn.OnDisconnect(func() { fired++ })

	a.track("00:04:2f:aa:bb:cc", conn)
	a.dropped("00:04:2F:AA:BB:CC")
	if fired != 1 {
		t.Fatalf("disconnect callback fired %d times, want 1", fired)
	}

	a.dropped("00:04:2F:AA:BB:CC")
	if fired != 1 {
		t.Errorf("callback fired again after the connection was forgotten")
	}
}

func TestTinyGoAdapterIgnoresUnknownDisconnect(t *testing.T) {
	a := NewTinyGoAdapter()
	conn := &tinyGoConnection{}
	fired := false
	conn.OnDisconnect(func() { fired = true })

	a.track("00:04:2F:AA:BB:CC", conn)
	a.dropped("00:04:2F:00:00:01")
	if fired {
		t.Error("disconnect of another device must not fire the callback")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Operation already in progress", ErrBusy},
		{"connection timed out", ErrTimeout},
		{"characteristic not found", ErrNotFound},
		{"Software caused connection abort", ErrLinkLost},
	}
	for _, tt := range tests {
		if got := mapError(errors.New(tt.msg)); !errors.Is(got, tt.want) {
			t.Errorf("mapError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
	if got := mapError(ErrTimeout); got != ErrTimeout {
		t.Errorf("mapError(ErrTimeout) = %v, want unchanged", got)
	}
}
