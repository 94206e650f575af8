package delivery

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"contestbot/internal/transport"
)

type State int

const (
	Connecting State = iota
	Open
	ClosedRetryable
	ClosedTerminal
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedRetryable:
		return "closed_retryable"
	case ClosedTerminal:
		return "closed_terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Classify maps a close reason to the state the channel enters.
func Classify(reason transport.CloseReason) State {
	if reason.Terminal() {
		return ClosedTerminal
	}
	return ClosedRetryable
}

const (
	DefaultThrottle      = 3 * time.Second
	DefaultGroupCacheTTL = 5 * time.Minute
	DefaultBackoffBase   = time.Second
	DefaultBackoffMax    = time.Minute
)

// DefaultGroupPattern matches WhatsApp-style group JIDs and Telegram
// supergroup ids.
var DefaultGroupPattern = regexp.MustCompile(`@g\.us$|^-100\d+$`)

type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// MaxAttempts caps consecutive failed connects; 0 is unbounded.
	MaxAttempts int
}

type Config struct {
	Recipients []string
	Operator   string

	GroupPattern  *regexp.Regexp
	GroupCacheTTL time.Duration

	// Throttle is the minimum spacing between any two sends. 0 disables it.
	Throttle  time.Duration
	Reconnect Backoff
}

func (c Config) withDefaults() Config {
	if c.GroupPattern == nil {
		c.GroupPattern = DefaultGroupPattern
	}
	if c.GroupCacheTTL <= 0 {
		c.GroupCacheTTL = DefaultGroupCacheTTL
	}
	if c.Throttle < 0 {
		c.Throttle = 0
	}
	if c.Reconnect.Base <= 0 {
		c.Reconnect.Base = DefaultBackoffBase
	}
	if c.Reconnect.Max <= 0 {
		c.Reconnect.Max = DefaultBackoffMax
	}
	if c.Reconnect.Max < c.Reconnect.Base {
		c.Reconnect.Max = c.Reconnect.Base
	}
	c.Recipients = append([]string(nil), c.Recipients...)
	return c
}

type Outcome struct {
	Recipient string
	Success   bool
	Err       error
}

type Summary struct {
	Outcomes     []Outcome
	SuccessCount int
	TotalCount   int
}

// AllFailed reports the zero-success case. An empty broadcast is not a failure.
func (s Summary) AllFailed() bool { return s.TotalCount > 0 && s.SuccessCount == 0 }

// CredentialsSaver persists session credentials announced by the transport.
type CredentialsSaver interface {
	SaveCredentials(ctx context.Context, creds any) error
}

type Snapshot struct {
	State        string    `json:"state"`
	Attempts     int       `json:"attempts"`
	LastReason   string    `json:"last_reason,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	OpenSince    time.Time `json:"open_since,omitempty"`
	CachedGroups int       `json:"cached_groups"`
	Recipients   int       `json:"recipients"`
}
