// Package app builds every component once and owns their lifetimes.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"contestbot/internal/config"
	"contestbot/internal/delivery"
	"contestbot/internal/digest"
	"contestbot/internal/eventbus"
	"contestbot/internal/httpapi"
	"contestbot/internal/metrics"
	"contestbot/internal/pipeline"
	"contestbot/internal/reminder"
	"contestbot/internal/runtime/supervisor"
	"contestbot/internal/scheduler"
	"contestbot/internal/sources"
	"contestbot/internal/storage"
	"contestbot/internal/transport/telegram"
	logx "contestbot/pkg/logx"
	"contestbot/pkg/systemd"
)

// digestJob is the scheduler name of the timed pipeline trigger.
const digestJob = "pipeline.digest"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	reg     *prometheus.Registry
	metrics *metrics.Collector

	session   *telegram.Session
	channel   *delivery.Channel
	sched     *scheduler.Service
	reminders *reminder.Scheduler
	pipeline  *pipeline.Pipeline
	http      *httpapi.Server

	mu       sync.Mutex
	settings pipelineSettings
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateForApp(cfg); err != nil {
		return nil, err
	}

	// The operator sink has no target until the channel exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	loc, err := location(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollector(reg)

	sessCfg, err := mapSessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	if sessCfg.Token == "" {
		return nil, fmt.Errorf("channel.token is empty (set it in config or %s)", tokenEnv)
	}
	session, err := telegram.New(sessCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	chCfg, err := mapChannelConfig(cfg)
	if err != nil {
		return nil, err
	}
	channel := delivery.New(chCfg, session, log.With(logx.String("comp", "delivery")), bus)
	logSvc.SetSender(channel)

	adapters, err := buildAdapters(cfg, loc, log.With(logx.String("comp", "sources")))
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		log.Warn("no sources enabled; digests will always be empty")
	}
	agg := sources.NewAggregator(log.With(logx.String("comp", "sources")), col, bus, adapters...)

	ps, err := mapPipelineConfig(cfg)
	if err != nil {
		return nil, err
	}
	remCfg, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		reg:      reg,
		metrics:  col,
		session:  session,
		channel:  channel,
		settings: ps,
	}
	// a is the scheduler's runner; jobs only dispatch after Start.
	a.sched = scheduler.New(scheduler.Config{Timezone: ps.zone}, a, log.With(logx.String("comp", "scheduler")), bus)
	a.reminders = reminder.New(remCfg, a.sched, channel, log.With(logx.String("comp", "reminder")), bus)
	a.pipeline = pipeline.New(ps.pipeline, pipeline.Deps{
		Sources:   agg,
		Formatter: digest.New(mapDigestConfig(cfg, loc)),
		Reminders: a.reminders,
		Channel:   channel,
		Store:     store,
		Metrics:   col,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "pipeline")),
	})

	log.Info("app ready",
		logx.Int("recipients", len(chCfg.Recipients)),
		logx.Any("sources", agg.Sources()),
		logx.String("timezone", loc.String()),
		logx.String("schedule", ps.schedule),
	)
	return a, nil
}

// Go runs fn under the app supervisor.
func (a *App) Go(name string, fn func(ctx context.Context) error) {
	a.sup.Go(name, fn)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the long-lived service: channel, timed trigger, ops endpoint
// and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateForApp(cfg) })

	a.sup.Go("delivery.channel", a.runChannel)
	a.sup.Go0("metrics.watch", func(c context.Context) { a.metrics.Watch(c, a.bus) })

	a.mu.Lock()
	ps := a.settings
	a.mu.Unlock()
	if err := a.applySchedule(ps); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.http = httpapi.New(mapHTTPConfig(a.cfgm.Get()), httpapi.Deps{
		Pipeline:   manualTrigger{a: a},
		Spawn:      a.sup.Go0,
		Channel:    a.channel,
		Runs:       a.store,
		Metrics:    metrics.Handler(a.reg),
		Supervisor: a.sup,
		Scheduler:  a.sched,
	}, a.log.With(logx.String("comp", "http")))
	a.http.Start(a.sup.Context())

	if ps.runOnStart {
		a.sup.Go0("pipeline.on_start", func(c context.Context) { _ = a.runPipeline(c, "start") })
	}

	// Debug-level event trace; components subscribe on their own.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, iv, func() bool { return a.channel.State() != delivery.ClosedTerminal })
		})
	}

	a.log.Info("app started")
	return nil
}

// RunOnce connects, runs one pass, then waits for the reminders it queued.
func (a *App) RunOnce(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sup.Go("delivery.channel", a.runChannel)
	a.sched.Start(a.sup.Context())

	if err := a.runPipeline(a.sup.Context(), "once"); err != nil {
		return err
	}
	return a.waitReminders(a.sup.Context())
}

// runChannel keeps the session up. A terminal close leaves the process
// running with the channel reported unhealthy.
func (a *App) runChannel(ctx context.Context) error {
	err := a.channel.Run(ctx)
	var ce *delivery.ConnectionError
	if errors.As(err, &ce) && ce.Terminal {
		a.log.Error("delivery channel stopped; re-link the session and restart", logx.String("reason", string(ce.Reason)))
		return nil
	}
	return err
}

func (a *App) runPipeline(ctx context.Context, trigger string) error {
	_, err := a.run(ctx, trigger)
	return err
}

// run bounds one pipeline pass by the configured run timeout. Every trigger
// goes through here.
func (a *App) run(ctx context.Context, trigger string) (pipeline.Report, error) {
	a.mu.Lock()
	timeout := a.settings.runTimeout
	a.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.pipeline.Run(ctx, trigger)
}

// manualTrigger is what the ops endpoint sees of the pipeline.
type manualTrigger struct{ a *App }

func (m manualTrigger) Run(ctx context.Context, trigger string) (pipeline.Report, error) {
	return m.a.run(ctx, trigger)
}

func (m manualTrigger) Running() bool { return m.a.pipeline.Running() }

func (m manualTrigger) Last() (pipeline.Report, bool) { return m.a.pipeline.Last() }

func (a *App) waitReminders(ctx context.Context) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		pending := a.reminders.Pending()
		if len(pending) == 0 && a.remindersInFlight() == 0 {
			return nil
		}
		if len(pending) > 0 {
			a.log.Debug("waiting for reminders", logx.Int("pending", len(pending)), logx.Time("next", pending[0].FireAt))
		}
		select {
		case <-ctx.Done():
			a.log.Warn("exiting with reminders still queued", logx.Int("pending", len(pending)))
			return nil
		case <-t.C:
		}
	}
}

// remindersInFlight counts reminder jobs that fired but are still sending.
func (a *App) remindersInFlight() int {
	n := 0
	for _, g := range a.sup.Snapshot().Goroutines {
		if strings.HasPrefix(g.Name, "job:reminder:") {
			n += int(g.Active)
		}
	}
	return n
}

// applySchedule registers, replaces or removes the timed trigger.
func (a *App) applySchedule(ps pipelineSettings) error {
	if ps.schedule == "" {
		if a.sched.Remove(digestJob) {
			a.log.Info("timed trigger removed")
		}
		return nil
	}
	job := func(c context.Context) error {
		// the pipeline logs and reports its own failures
		_ = a.runPipeline(c, "schedule")
		return nil
	}
	// the run timeout is enforced by runPipeline
	if _, err := a.sched.AddSchedule(digestJob, ps.schedule, 0, job); err != nil {
		return fmt.Errorf("pipeline.schedule: %w", err)
	}
	return nil
}

// validateForApp rejects configs the components could not apply.
func validateForApp(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := location(cfg); err != nil {
		return err
	}
	if _, err := mapSessionConfig(cfg); err != nil {
		return err
	}
	if _, err := mapChannelConfig(cfg); err != nil {
		return err
	}
	ps, err := mapPipelineConfig(cfg)
	if err != nil {
		return err
	}
	if ps.schedule != "" {
		if _, err := scheduler.ParseSchedule(ps.schedule); err != nil {
			return fmt.Errorf("pipeline.schedule: %w", err)
		}
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Sources.Timeout) != "" {
		if _, err := config.ParseDurationField("sources.timeout", cfg.Sources.Timeout); err != nil {
			return err
		}
	}
	return nil
}
