// Package reminder schedules one-shot per-contest reminders.
package reminder

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"contestbot/internal/contest"
	"contestbot/internal/delivery"
	"contestbot/internal/eventbus"
	"contestbot/internal/scheduler"
	logx "contestbot/pkg/logx"
)

const DefaultTimeout = 2 * time.Minute

// Timers is the part of scheduler.Service reminders need.
type Timers interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job scheduler.Job) (string, error)
	Pending() []scheduler.OnceInfo
}

// Deliverer sends text to every configured recipient.
type Deliverer interface {
	Deliver(ctx context.Context, text string) (delivery.Summary, error)
}

// Job is a registered reminder.
type Job struct {
	Name    string
	Payload string
	FireAt  time.Time
}

type Config struct {
	// Lead fires reminders this long before the contest starts.
	Lead    time.Duration
	Timeout time.Duration
}

// Scheduler owns the pending reminder payloads for the process lifetime.
type Scheduler struct {
	timers Timers
	out    Deliverer
	log    logx.Logger
	bus    eventbus.Bus

	mu   sync.Mutex
	cfg  Config
	jobs map[string]Job
}

func New(cfg Config, timers Timers, out Deliverer, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Scheduler{
		timers: timers,
		out:    out,
		log:    log,
		bus:    bus,
		cfg:    cfg,
		jobs:   map[string]Job{},
	}
}

func (s *Scheduler) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Schedule registers payload to be delivered at fireAt. Past times fire as
// soon as possible. The returned name identifies the job.
func (s *Scheduler) Schedule(payload string, fireAt time.Time) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(payload))
	name := fmt.Sprintf("reminder:%x@%d", h.Sum64(), fireAt.UnixMilli())
	return s.schedule(name, payload, fireAt)
}

// ScheduleContest registers a reminder for c at its start minus the
// configured lead. Scheduling the same contest again replaces the pending
// reminder instead of adding a second one.
func (s *Scheduler) ScheduleContest(c contest.Contest, payload string) string {
	s.mu.Lock()
	lead := s.cfg.Lead
	s.mu.Unlock()
	return s.schedule("reminder:"+c.Key(), payload, c.Start.Add(-lead))
}

func (s *Scheduler) schedule(name, payload string, fireAt time.Time) string {
	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.jobs[name] = Job{Name: name, Payload: payload, FireAt: fireAt}
	s.mu.Unlock()

	_, err := s.timers.AddOnce(name, fireAt, timeout, func(ctx context.Context) error {
		s.fire(ctx, name)
		return nil
	})
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, name)
		s.mu.Unlock()
		s.log.Warn("reminder not scheduled", logx.String("name", name), logx.Err(err))
		eventbus.Emit(s.bus, eventbus.ReminderFailed, map[string]any{"name": name, "err": err.Error()})
		return name
	}
	s.log.Debug("reminder scheduled", logx.String("name", name), logx.Time("fire_at", fireAt))
	eventbus.Emit(s.bus, eventbus.ReminderScheduled, map[string]any{"name": name, "fire_at": fireAt})
	return name
}

// fire delivers one reminder. Failures are logged and never returned.
func (s *Scheduler) fire(ctx context.Context, name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	delete(s.jobs, name)
	s.mu.Unlock()
	if !ok {
		return
	}

	sum, err := s.out.Deliver(ctx, job.Payload)
	if err != nil {
		s.log.Warn("reminder delivery failed", logx.String("name", name), logx.Int("sent", sum.SuccessCount), logx.Int("total", sum.TotalCount), logx.Err(err))
		eventbus.Emit(s.bus, eventbus.ReminderFailed, map[string]any{"name": name, "err": err.Error()})
		return
	}
	s.log.Info("reminder sent", logx.String("name", name), logx.Int("sent", sum.SuccessCount), logx.Int("total", sum.TotalCount))
	eventbus.Emit(s.bus, eventbus.ReminderFired, map[string]any{"name": name, "sent": sum.SuccessCount})
}

// Pending lists reminders that have not fired yet, earliest first.
func (s *Scheduler) Pending() []Job {
	pending := s.timers.Pending()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(pending))
	for _, p := range pending {
		if j, ok := s.jobs[p.Name]; ok {
			out = append(out, j)
		}
	}
	return out
}
