package delivery

import (
	"context"
	"errors"

	"contestbot/internal/eventbus"
	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
)

// Broadcast sends text to recipients one at a time, each send paced by the
// shared throttle. A failed recipient is recorded and the rest are still
// attempted. Broadcast never changes the connection state.
func (c *Channel) Broadcast(ctx context.Context, recipients []string, text string) Summary {
	sum := Summary{TotalCount: len(recipients), Outcomes: make([]Outcome, 0, len(recipients))}
	for _, r := range recipients {
		err := c.send(ctx, r, text)
		if err != nil {
			c.log.Warn("send failed", logx.String("recipient", r), logx.Err(err))
			eventbus.Emit(c.bus, eventbus.DeliveryFailed, map[string]any{"recipient": r, "err": err.Error()})
			sum.Outcomes = append(sum.Outcomes, Outcome{Recipient: r, Err: err})
			continue
		}
		sum.SuccessCount++
		eventbus.Emit(c.bus, eventbus.DeliverySent, map[string]any{"recipient": r})
		sum.Outcomes = append(sum.Outcomes, Outcome{Recipient: r, Success: true})
	}
	if sum.AllFailed() {
		c.log.Error("broadcast reached no recipient", logx.Int("total", sum.TotalCount))
		eventbus.Emit(c.bus, eventbus.DeliveryAllFailed, map[string]any{"total": sum.TotalCount})
		if err := c.NotifyOperator(ctx, "Delivery failed: no recipient received the message."); err != nil {
			c.log.Debug("operator notice failed", logx.Err(err))
		}
	}
	return sum
}

// Deliver waits for the channel to open and broadcasts text to the
// configured recipients.
func (c *Channel) Deliver(ctx context.Context, text string) (Summary, error) {
	recipients := c.config().Recipients
	if err := c.WaitOpen(ctx); err != nil {
		return Summary{TotalCount: len(recipients)}, err
	}
	sum := c.Broadcast(ctx, recipients, text)
	if sum.AllFailed() {
		return sum, ErrAllRecipientsFailed
	}
	return sum, nil
}

// NotifyOperator sends text to the operator recipient, best-effort. It does
// not wait for the channel to open.
func (c *Channel) NotifyOperator(ctx context.Context, text string) error {
	op := c.config().Operator
	if op == "" {
		return nil
	}
	return c.send(ctx, op, text)
}

func (c *Channel) send(ctx context.Context, recipient, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &DeliveryError{Recipient: recipient, Err: err}
	}
	switch c.State() {
	case Open:
	case ClosedTerminal:
		return &DeliveryError{Recipient: recipient, Err: ErrTerminal}
	default:
		return &DeliveryError{Recipient: recipient, Err: ErrNotOpen}
	}
	if c.isGroup(recipient) {
		if _, err := c.groupInfo(ctx, recipient); err != nil {
			return &DeliveryError{Recipient: recipient, Err: err}
		}
	}
	if err := c.session.Send(ctx, recipient, text); err != nil {
		if transport.ReasonOf(err).Terminal() {
			err = errors.Join(ErrTerminal, err)
		}
		return &DeliveryError{Recipient: recipient, Err: err}
	}
	return nil
}

func (c *Channel) isGroup(recipient string) bool {
	p := c.config().GroupPattern
	return p != nil && p.MatchString(recipient)
}

// groupInfo returns cached group metadata, fetching it when missing or
// older than the TTL. Entries are never refreshed proactively.
func (c *Channel) groupInfo(ctx context.Context, recipient string) (transport.GroupInfo, error) {
	ttl := c.config().GroupCacheTTL
	now := c.now()
	c.gmu.Lock()
	e, ok := c.groups[recipient]
	c.gmu.Unlock()
	if ok && now.Sub(e.fetched) < ttl {
		return e.info, nil
	}

	info, err := c.session.GroupMetadata(ctx, recipient)
	if err != nil {
		return transport.GroupInfo{}, err
	}
	c.gmu.Lock()
	c.groups[recipient] = groupEntry{info: info, fetched: now}
	c.gmu.Unlock()
	c.log.Debug("group metadata cached", logx.String("recipient", recipient), logx.String("title", info.Title))
	return info, nil
}
