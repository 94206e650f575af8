package app

import (
	"context"
	"strings"

	"contestbot/internal/config"
	"contestbot/internal/digest"
	"contestbot/internal/scheduler"
	logx "contestbot/pkg/logx"
)

// startReload fans config updates out to the running components.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: keep only the latest config
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if chCfg, err := mapChannelConfig(newCfg); err != nil {
		a.log.Warn("invalid channel config; keeping previous", logx.Err(err))
	} else {
		a.channel.Apply(chCfg)
	}

	if loc, err := location(newCfg); err != nil {
		a.log.Warn("invalid timezone; keeping previous digest format", logx.Err(err))
	} else {
		a.pipeline.SetFormatter(digest.New(mapDigestConfig(newCfg, loc)))
	}

	if remCfg, err := mapReminderConfig(newCfg); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		a.reminders.Apply(remCfg)
	}

	if ps, err := mapPipelineConfig(newCfg); err != nil {
		a.log.Warn("invalid pipeline config; keeping previous", logx.Err(err))
	} else {
		a.mu.Lock()
		prev := a.settings
		a.settings = ps
		a.mu.Unlock()

		a.pipeline.Apply(ps.pipeline)
		if prev.zone != ps.zone {
			a.sched.Apply(scheduler.Config{Timezone: ps.zone})
		}
		if prev.schedule != ps.schedule {
			if err := a.applySchedule(ps); err != nil {
				a.log.Warn("invalid schedule; timed trigger unchanged", logx.Err(err))
			}
		}
	}

	if a.http != nil {
		a.http.Reconfigure(ctx, mapHTTPConfig(newCfg))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
