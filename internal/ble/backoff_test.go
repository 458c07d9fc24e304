package ble

import (
	"context"
	"testing"
	"time"
)

func TestReconnectBackoff(t *testing.T) {
	b := newReconnectBackoff(time.Second, 30*time.Second)
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		if got := b.Next(); got != want {
			t.Errorf("Next() #%d = %v, want %v", i, got, want)
		}
	}

	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after Reset = %v, want 1s", got)
	}
}

func TestRadioSlotsLimitConcurrency(t *testing.T) {
	r := NewRadioSlots(1)
	ctx, cancelCtx := context.WithCancel(context.Background())
	t.Cleanup(cancelCtx)
	if err := r.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := r.Acquire(blocked); err == nil {
		t.Fatal("second Acquire() should block until the slot is released")
	}

	r.Release()
	if err := r.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() after Release error = %v", err)
	}
	r.Release()
}
