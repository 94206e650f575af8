// Package pipeline runs one aggregation, scheduling and delivery pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"contestbot/internal/contest"
	"contestbot/internal/delivery"
	"contestbot/internal/eventbus"
	"contestbot/internal/marker"
	"contestbot/internal/sources"
	"contestbot/internal/storage"
	logx "contestbot/pkg/logx"
)

const DefaultOpenTimeout = 2 * time.Minute

type Aggregator interface {
	Aggregate(ctx context.Context) ([]contest.Contest, []sources.Failure)
}

type Formatter interface {
	Format(contests []contest.Contest) string
	FormatBlock(c contest.Contest) string
}

type Reminders interface {
	ScheduleContest(c contest.Contest, payload string) string
}

// Channel is the part of *delivery.Channel a run needs.
type Channel interface {
	WaitOpen(ctx context.Context) error
	Deliver(ctx context.Context, text string) (delivery.Summary, error)
	NotifyOperator(ctx context.Context, text string) error
}

type Recorder interface {
	ObserveRun(result string, took time.Duration, selected int)
}

type Config struct {
	Window      time.Duration
	OpenTimeout time.Duration
	// SendEmpty delivers the empty-digest message when nothing is in the window.
	SendEmpty        bool
	MarkerPath       string
	RemindersEnabled bool
}

type Deps struct {
	Sources   Aggregator
	Formatter Formatter
	Reminders Reminders
	Channel   Channel
	Store     storage.Store
	Metrics   Recorder
	Bus       eventbus.Bus
	Log       logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Report describes a finished run.
type Report struct {
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Selected   []contest.Contest
	Failures   []sources.Failure
	Reminders  int
	Digest     string
	Delivered  bool
	Summary    delivery.Summary
}

type Pipeline struct {
	deps    Deps
	log     logx.Logger
	running atomic.Bool

	mu     sync.Mutex
	cfg    Config
	format Formatter
	last   *Report
}

func New(cfg Config, deps Deps) *Pipeline {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps, log: deps.Log, cfg: withDefaults(cfg), format: deps.Formatter}
}

func withDefaults(cfg Config) Config {
	if cfg.Window <= 0 {
		cfg.Window = contest.DefaultWindow
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	return cfg
}

func (p *Pipeline) Apply(cfg Config) {
	p.mu.Lock()
	p.cfg = withDefaults(cfg)
	p.mu.Unlock()
}

// SetFormatter swaps the digest formatter; the next run picks it up.
func (p *Pipeline) SetFormatter(f Formatter) {
	if f == nil {
		return
	}
	p.mu.Lock()
	p.format = f
	p.mu.Unlock()
}

// Last returns the most recent finished run, if any.
func (p *Pipeline) Last() (Report, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Report{}, false
	}
	return *p.last, true
}

// Running reports whether a run is active.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Run executes one pass. Only one run is active at a time; a concurrent
// call returns ErrRunInProgress immediately. Marker and format failures
// also reach the operator.
func (p *Pipeline) Run(ctx context.Context, trigger string) (Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Info("run skipped; previous run still active", logx.String("trigger", trigger))
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveRun("skipped", 0, 0)
		}
		return Report{Trigger: trigger}, ErrRunInProgress
	}
	defer p.running.Store(false)

	p.mu.Lock()
	cfg, f := p.cfg, p.format
	p.mu.Unlock()

	rep := Report{Trigger: trigger, StartedAt: p.deps.Now()}
	log := p.log.With(logx.String("trigger", trigger))
	log.Info("run started")
	eventbus.Emit(p.deps.Bus, eventbus.PipelineStarted, map[string]any{"trigger": trigger})

	err := p.run(ctx, cfg, f, &rep, log)
	rep.FinishedAt = p.deps.Now()
	p.finish(ctx, rep, err, log)
	return rep, err
}

func (p *Pipeline) run(ctx context.Context, cfg Config, f Formatter, rep *Report, log logx.Logger) error {
	// an uncleared marker aborts the run
	if err := marker.Clear(cfg.MarkerPath); err != nil {
		p.notify(ctx, "Failed to clear reminder file", log)
		return err
	}

	all, failures := p.deps.Sources.Aggregate(ctx)
	rep.Fetched = len(all)
	rep.Failures = failures
	if len(failures) > 0 {
		log.Warn("some sources failed", logx.Int("failed", len(failures)), logx.Int("fetched", len(all)))
	}
	rep.Selected = contest.Select(all, p.deps.Now(), cfg.Window)

	text, err := render(f, rep.Selected)
	if err != nil {
		p.notify(ctx, "Contest fetch error: "+err.Error(), log)
		return err
	}
	rep.Digest = text

	if cfg.RemindersEnabled && p.deps.Reminders != nil {
		for _, c := range rep.Selected {
			p.deps.Reminders.ScheduleContest(c, f.FormatBlock(c))
			rep.Reminders++
		}
	}

	if len(rep.Selected) == 0 && !cfg.SendEmpty {
		log.Info("no contests in window; nothing sent")
		return nil
	}

	openCtx, cancel := context.WithTimeout(ctx, cfg.OpenTimeout)
	err = p.deps.Channel.WaitOpen(openCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("wait for channel: %w", err)
	}

	sum, err := p.deps.Channel.Deliver(ctx, text)
	rep.Summary = sum
	rep.Delivered = sum.SuccessCount > 0
	if err != nil {
		// the channel already told the operator when nobody got the digest
		return err
	}
	log.Info("digest delivered", logx.Int("sent", sum.SuccessCount), logx.Int("total", sum.TotalCount))
	return nil
}

// render turns a formatter panic into a FormatError.
func render(f Formatter, cs []contest.Contest) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FormatError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	text = f.Format(cs)
	if text == "" {
		return "", &FormatError{Err: errors.New("empty digest")}
	}
	return text, nil
}

func (p *Pipeline) notify(ctx context.Context, text string, log logx.Logger) {
	if p.deps.Channel == nil {
		return
	}
	if err := p.deps.Channel.NotifyOperator(ctx, text); err != nil {
		log.Warn("operator notice failed", logx.Err(err))
	}
}

func (p *Pipeline) finish(ctx context.Context, rep Report, err error, log logx.Logger) {
	took := rep.FinishedAt.Sub(rep.StartedAt)
	result := "ok"
	if err != nil {
		result = "failed"
	}

	p.mu.Lock()
	p.last = &rep
	p.mu.Unlock()

	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveRun(result, took, len(rep.Selected))
	}

	if p.deps.Store != nil {
		rec := storage.RunRecord{
			StartedAt:  rep.StartedAt,
			FinishedAt: rep.FinishedAt,
			Trigger:    rep.Trigger,
			Fetched:    rep.Fetched,
			Selected:   len(rep.Selected),
			Reminders:  rep.Reminders,
			Delivered:  rep.Summary.SuccessCount,
			Recipients: rep.Summary.TotalCount,
		}
		for _, f := range rep.Failures {
			rec.SourceFailures = append(rec.SourceFailures, f.Source)
		}
		if err != nil {
			rec.Error = err.Error()
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if serr := p.deps.Store.AppendRun(sctx, rec); serr != nil {
			log.Warn("run history write failed", logx.Err(serr))
		}
		cancel()
	}

	data := map[string]any{
		"trigger":  rep.Trigger,
		"selected": len(rep.Selected),
		"sent":     rep.Summary.SuccessCount,
		"took":     took,
	}
	if err != nil {
		data["err"] = err.Error()
		eventbus.Emit(p.deps.Bus, eventbus.PipelineFailed, data)
		log.Error("run failed", logx.Duration("took", took), logx.Err(err))
		return
	}
	eventbus.Emit(p.deps.Bus, eventbus.PipelineFinished, data)
	log.Info("run finished", logx.Duration("took", took), logx.Int("selected", len(rep.Selected)), logx.Int("sent", rep.Summary.SuccessCount))
}
