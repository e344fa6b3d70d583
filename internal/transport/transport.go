// Package transport defines the interface relay backends implement to submit
// one message. Implementations classify their failures with package mailerr
// so the relay pool can decide whether a relay stays in rotation.
package transport

import (
	"context"

	"github.com/shineum/mail-dispatch/internal/email"
)

// Transport submits messages through a single relay.
type Transport interface {
	// Submit delivers msg and returns the provider's response (usually a
	// message id). Errors should be classified with mailerr.Auth,
	// mailerr.Connection or mailerr.Transient.
	Submit(ctx context.Context, msg *email.Email) (string, error)

	// Name returns the human-readable name of this transport.
	Name() string
}

// Verifier is implemented by transports that can check credentials and
// reachability without sending a message.
type Verifier interface {
	Verify(ctx context.Context) error
}
