// Package transport defines the messaging session the delivery channel
// drives. Concrete sessions live in subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventClose
	EventCredentialsUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventCredentialsUpdated:
		return "credentials_updated"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// CloseReason says why a connection ended. Only LoggedOut and Unauthorized
// are terminal.
type CloseReason string

const (
	LoggedOut          CloseReason = "logged_out"
	Unauthorized       CloseReason = "unauthorized"
	ConnectionClosed   CloseReason = "connection_closed"
	ConnectionLost     CloseReason = "connection_lost"
	ConnectionReplaced CloseReason = "connection_replaced"
	RestartRequired    CloseReason = "restart_required"
	TimedOut           CloseReason = "timed_out"
	Unknown            CloseReason = "unknown"
)

func (r CloseReason) Terminal() bool { return r == LoggedOut || r == Unauthorized }

// Event is a connection lifecycle signal. Credentials is set only for
// EventCredentialsUpdated and its shape belongs to the session.
type Event struct {
	Kind        EventKind
	Reason      CloseReason
	Err         error
	Credentials any
}

type GroupInfo struct {
	ID    string
	Title string
	Kind  string
}

// Session is one logical messaging account.
//
// Connect starts a connection and returns its event stream. The stream
// delivers EventOpen once the handshake succeeds and ends with exactly one
// EventClose, after which it is closed. Connect may be called again after
// the stream is closed.
type Session interface {
	Connect(ctx context.Context) (<-chan Event, error)
	Send(ctx context.Context, recipient, text string) error
	GroupMetadata(ctx context.Context, recipient string) (GroupInfo, error)
	Close() error
}

// CloseError carries the reason a connection attempt or send failed.
type CloseError struct {
	Reason CloseReason
	Err    error
}

func (e *CloseError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *CloseError) Unwrap() error { return e.Err }

// ReasonOf classifies err. Errors that carry no reason map to Unknown.
func ReasonOf(err error) CloseReason {
	if err == nil {
		return ConnectionClosed
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return TimedOut
		}
		return ConnectionLost
	}
	return Unknown
}
