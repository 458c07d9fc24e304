package ble

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/ecotherm/internal/ble/protocol"
)

// ErrAuth is returned when the device refuses every handshake attempt of one
// connection.
var ErrAuth = errors.New("ble: authentication failed")

// MaxHandshakeAttempts is the number of consecutive handshake failures that
// fail one connection attempt.
const MaxHandshakeAttempts = 3

// AuthState is the handshake progress of the current connection.
type AuthState int

const (
	Unauthenticated AuthState = iota
	ChallengeSent
	Authenticated
	AuthFailed
)

func (s AuthState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case ChallengeSent:
		return "challenge_sent"
	case Authenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	}
	return fmt.Sprintf("auth_state(%d)", int(s))
}

// Authenticator proves knowledge of the PIN to the device. It holds no
// connection; state is only meaningful for the link it last authenticated.
type Authenticator struct {
	block   cipher.Block
	pin     string
	timeout time.Duration
	log     *zap.Logger

	state    AuthState
	attempts int
}

// NewAuthenticator creates an Authenticator for pin under block.
func NewAuthenticator(block cipher.Block, pin string, timeout time.Duration, log *zap.Logger) *Authenticator {
	return &Authenticator{block: block, pin: pin, timeout: timeout, log: log}
}

// State returns the handshake state.
func (a *Authenticator) State() AuthState { return a.state }

// Attempts returns the handshakes tried on the current connection.
func (a *Authenticator) Attempts() int { return a.attempts }

// Reset forgets any previous authentication; called on every disconnect.
func (a *Authenticator) Reset() {
	a.state = Unauthenticated
	a.attempts = 0
}

// Authenticate runs up to MaxHandshakeAttempts handshakes on link. A lost
// link aborts immediately with the transport error; rejected or unanswered
// handshakes count as failures and the third one returns ErrAuth.
func (a *Authenticator) Authenticate(ctx context.Context, link *Link) error {
	a.Reset()
	var lastErr error
	for a.attempts < MaxHandshakeAttempts {
		a.attempts++
		err := a.handshake(ctx, link)
		if err == nil {
			a.state = Authenticated
			a.log.Debug("authenticated", zap.Int("attempt", a.attempts))
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrLinkLost) {
			a.state = Unauthenticated
			return err
		}
		a.state = Unauthenticated
		lastErr = err
		a.log.Warn("handshake failed", zap.Int("attempt", a.attempts), zap.Error(err))
	}
	a.state = AuthFailed
	return fmt.Errorf("%w after %d attempts: %v", ErrAuth, a.attempts, lastErr)
}

func (a *Authenticator) handshake(ctx context.Context, link *Link) error {
	nonce, err := link.ReadNonce()
	if err != nil {
		return err
	}
	req, err := protocol.HandshakeFrame(a.pin, nonce)
	if err != nil {
		return err
	}
	a.state = ChallengeSent
	resp, err := link.Exchange(ctx, a.block, req, a.timeout, func(f protocol.Frame) bool {
		return f.Op == protocol.OpHandshakeAck || f.Op == protocol.OpHandshakeReject
	})
	if err != nil {
		return err
	}
	return protocol.CheckHandshakeAck(resp, nonce)
}
