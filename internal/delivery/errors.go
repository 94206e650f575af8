package delivery

import (
	"errors"
	"fmt"

	"contestbot/internal/transport"
)

var (
	// ErrTerminal is returned once the channel reached ClosedTerminal.
	ErrTerminal = errors.New("delivery: channel closed permanently")
	// ErrNotOpen is returned by sends attempted while the channel is not Open.
	ErrNotOpen             = errors.New("delivery: channel not open")
	ErrAllRecipientsFailed = errors.New("delivery: no recipient received the message")
	ErrMaxAttempts         = errors.New("delivery: reconnect attempts exhausted")
)

// ConnectionError ends Run.
type ConnectionError struct {
	Terminal bool
	Reason   transport.CloseReason
	Err      error
}

func (e *ConnectionError) Error() string {
	kind := "retryable"
	if e.Terminal {
		kind = "terminal"
	}
	if e.Err == nil {
		return fmt.Sprintf("connection closed (%s): %s", kind, e.Reason)
	}
	return fmt.Sprintf("connection closed (%s): %s: %v", kind, e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DeliveryError is one recipient's failed send.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
