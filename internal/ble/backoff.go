package ble

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectBackoff yields exponentially growing reconnect delays capped at a
// ceiling. Randomization is disabled so consecutive delays strictly increase
// until the cap.
type reconnectBackoff struct {
	b *backoff.ExponentialBackOff
}

func newReconnectBackoff(initial, ceiling time.Duration) *reconnectBackoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &reconnectBackoff{b: b}
}

// Next returns the delay before the next attempt.
func (r *reconnectBackoff) Next() time.Duration {
	d := r.b.NextBackOff()
	if d == backoff.Stop || d > r.b.MaxInterval {
		return r.b.MaxInterval
	}
	return d
}

// Reset starts over from the initial delay.
func (r *reconnectBackoff) Reset() {
	r.b.Reset()
}
