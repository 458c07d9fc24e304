package ble

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// RadioSlots bounds how many sessions may hold a connection on the shared
// adapter at once. Sessions acquire a slot before connecting and release it
// after disconnecting.
type RadioSlots struct {
	sem *semaphore.Weighted
}

// NewRadioSlots allows n concurrent connections; n < 1 means 1.
func NewRadioSlots(n int) *RadioSlots {
	if n < 1 {
		n = 1
	}
	return &RadioSlots{sem: semaphore.NewWeighted(int64(n))}
}

// Acquire blocks until a slot is free or ctx is done.
func (r *RadioSlots) Acquire(ctx context.Context) error {
	return r.sem.Acquire(ctx, 1)
}

// Release returns a slot.
func (r *RadioSlots) Release() {
	r.sem.Release(1)
}
