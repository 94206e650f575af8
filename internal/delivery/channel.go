// Package delivery keeps one messaging session alive and delivers text to
// recipients through it.
//
// Channel is a state machine (Connecting, Open, ClosedRetryable,
// ClosedTerminal) driven by Run. Every close except a logged-out session
// leads to a reconnect after capped exponential backoff.
package delivery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"contestbot/internal/eventbus"
	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
)

type Option func(*Channel)

func WithClock(now func() time.Time) Option { return func(c *Channel) { c.now = now } }

func WithCredentialsSaver(s CredentialsSaver) Option { return func(c *Channel) { c.saver = s } }

type Channel struct {
	session transport.Session
	log     logx.Logger
	bus     eventbus.Bus
	saver   CredentialsSaver
	now     func() time.Time
	limiter *rate.Limiter

	mu         sync.Mutex
	cfg        Config
	state      State
	changed    chan struct{} // closed and replaced on every state change
	attempts   int
	lastReason transport.CloseReason
	lastErr    error
	openSince  time.Time

	gmu    sync.Mutex
	groups map[string]groupEntry
}

type groupEntry struct {
	info    transport.GroupInfo
	fetched time.Time
}

func New(cfg Config, session transport.Session, log logx.Logger, bus eventbus.Bus, opts ...Option) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	c := &Channel{
		session: session,
		log:     log,
		bus:     bus,
		now:     time.Now,
		limiter: rate.NewLimiter(throttleLimit(cfg.Throttle), 1),
		cfg:     cfg,
		state:   Connecting,
		changed: make(chan struct{}),
		groups:  map[string]groupEntry{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func throttleLimit(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Apply swaps recipients, throttle, group settings and backoff. The
// connection itself is untouched.
func (c *Channel) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	ttlChanged := cfg.GroupCacheTTL != c.cfg.GroupCacheTTL
	c.cfg = cfg
	c.mu.Unlock()
	c.limiter.SetLimit(throttleLimit(cfg.Throttle))
	if ttlChanged {
		c.gmu.Lock()
		c.groups = map[string]groupEntry{}
		c.gmu.Unlock()
	}
}

func (c *Channel) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:      c.state.String(),
		Attempts:   c.attempts,
		LastReason: string(c.lastReason),
		OpenSince:  c.openSince,
		Recipients: len(c.cfg.Recipients),
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()
	c.gmu.Lock()
	snap.CachedGroups = len(c.groups)
	c.gmu.Unlock()
	return snap
}

func (c *Channel) setState(s State, reason transport.CloseReason, err error) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	if s == Open {
		c.openSince = c.now()
	} else {
		c.openSince = time.Time{}
	}
	if reason != "" {
		c.lastReason = reason
		c.lastErr = err
	}
	close(c.changed)
	c.changed = make(chan struct{})
	attempts := c.attempts
	c.mu.Unlock()

	if prev == s {
		return
	}
	fields := []logx.Field{logx.String("from", prev.String()), logx.String("to", s.String()), logx.Int("attempts", attempts)}
	if reason != "" {
		fields = append(fields, logx.String("reason", string(reason)))
	}
	if err != nil {
		fields = append(fields, logx.Err(err))
	}
	c.log.Debug("state changed", fields...)
	eventbus.Emit(c.bus, eventbus.ConnectionState, map[string]any{"from": prev.String(), "to": s.String(), "reason": string(reason)})
}

// WaitOpen blocks until the channel is Open. It fails fast with ErrTerminal
// once the channel is ClosedTerminal.
func (c *Channel) WaitOpen(ctx context.Context) error {
	for {
		c.mu.Lock()
		st := c.state
		ch := c.changed
		c.mu.Unlock()
		switch st {
		case Open:
			return nil
		case ClosedTerminal:
			return ErrTerminal
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Run connects and reconnects until ctx ends or the session is closed for
// good. It returns ctx.Err() on shutdown and a *ConnectionError otherwise.
func (c *Channel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.State() != Connecting {
			c.setState(Connecting, "", nil)
		}

		reason, stayed, err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			c.setState(ClosedRetryable, transport.ConnectionClosed, nil)
			return ctx.Err()
		}

		next := Classify(reason)
		if next == ClosedTerminal {
			c.setState(ClosedTerminal, reason, err)
			c.log.Error("session logged out; not reconnecting", logx.String("reason", string(reason)), logx.Err(err))
			return &ConnectionError{Terminal: true, Reason: reason, Err: err}
		}

		cfg := c.config()
		c.mu.Lock()
		if stayed >= cfg.Reconnect.Max {
			c.attempts = 0
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()
		c.setState(ClosedRetryable, reason, err)

		if cfg.Reconnect.MaxAttempts > 0 && attempt > cfg.Reconnect.MaxAttempts {
			c.setState(ClosedTerminal, reason, err)
			c.log.Error("reconnect attempts exhausted", logx.Int("attempts", attempt-1), logx.String("reason", string(reason)))
			return &ConnectionError{Terminal: true, Reason: reason, Err: errors.Join(ErrMaxAttempts, err)}
		}

		wait := backoffDelay(cfg.Reconnect, attempt)
		c.log.Warn("connection closed; reconnecting", logx.String("reason", string(reason)), logx.Int("attempt", attempt), logx.Duration("backoff", wait), logx.Err(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// connectOnce runs one connection to its end and reports why it closed and
// how long it stayed open.
func (c *Channel) connectOnce(ctx context.Context) (transport.CloseReason, time.Duration, error) {
	events, err := c.session.Connect(ctx)
	if err != nil {
		return transport.ReasonOf(err), 0, err
	}
	var opened time.Time
	stayed := func() time.Duration {
		if opened.IsZero() {
			return 0
		}
		return c.now().Sub(opened)
	}
	done := ctx.Done()
	for {
		select {
		case <-done:
			_ = c.session.Close()
			// keep draining until the session reports the close
			done = nil
		case e, ok := <-events:
			if !ok {
				return transport.ConnectionClosed, stayed(), nil
			}
			switch e.Kind {
			case transport.EventOpen:
				opened = c.now()
				c.setState(Open, "", nil)
				c.log.Info("connection open")
			case transport.EventCredentialsUpdated:
				c.saveCredentials(ctx, e.Credentials)
			case transport.EventClose:
				reason := e.Reason
				if reason == "" {
					reason = transport.Unknown
				}
				return reason, stayed(), e.Err
			}
		}
	}
}

func (c *Channel) saveCredentials(ctx context.Context, creds any) {
	if c.saver == nil {
		c.log.Debug("credentials updated; no saver configured")
		return
	}
	if err := c.saver.SaveCredentials(ctx, creds); err != nil {
		c.log.Warn("save credentials failed", logx.Err(err))
		return
	}
	c.log.Debug("credentials saved")
}

// backoffDelay is base*2^(attempt-1) capped at max, minus up to 20% jitter.
func backoffDelay(b Backoff, attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	if j := int64(d / 5); j > 0 {
		d -= time.Duration(rand.Int63n(j))
	}
	return d
}
