package app

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"contestbot/internal/config"
	"contestbot/internal/contest"
	"contestbot/internal/delivery"
	"contestbot/internal/digest"
	"contestbot/internal/httpapi"
	"contestbot/internal/pipeline"
	"contestbot/internal/reminder"
	"contestbot/internal/sources"
	"contestbot/internal/transport/telegram"
	logx "contestbot/pkg/logx"
)

const (
	DefaultRunTimeout = 5 * time.Minute
	tokenEnv          = "CONTESTBOT_TOKEN"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Operator.Enabled,
			MinLevel:   cfg.Logging.Operator.MinLevel,
			RatePerSec: cfg.Logging.Operator.RatePerSec,
		},
	}
}

// location is the reference zone. A configured name replaces the raw
// offset as the zone label.
func location(cfg *config.Config) (*time.Location, error) {
	loc, err := config.ParseOffset(cfg.Timezone.Offset)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(cfg.Timezone.Name); name != "" && loc != time.UTC {
		_, off := time.Now().In(loc).Zone()
		loc = time.FixedZone(name, off)
	}
	return loc, nil
}

func mapSessionConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("channel.poll_timeout", cfg.Channel.PollTimeout, telegram.DefaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Channel.Token), PollTimeout: poll}, nil
}

func mapChannelConfig(cfg *config.Config) (delivery.Config, error) {
	ch := cfg.Channel
	out := delivery.Config{
		Operator:   strings.TrimSpace(ch.Operator),
		Recipients: make([]string, 0, len(ch.Recipients)),
	}
	for _, r := range ch.Recipients {
		out.Recipients = append(out.Recipients, strings.TrimSpace(r))
	}
	if p := strings.TrimSpace(ch.GroupPattern); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return delivery.Config{}, err
		}
		out.GroupPattern = re
	}

	var err error
	if out.GroupCacheTTL, err = config.ParseDurationOrDefault("channel.group_cache_ttl", ch.GroupCacheTTL, delivery.DefaultGroupCacheTTL); err != nil {
		return delivery.Config{}, err
	}
	// an explicit "0s" disables pacing
	out.Throttle = delivery.DefaultThrottle
	if strings.TrimSpace(ch.Throttle) != "" {
		if out.Throttle, err = config.ParseDurationField("channel.throttle", ch.Throttle); err != nil {
			return delivery.Config{}, err
		}
	}
	if out.Reconnect.Base, err = config.ParseDurationOrDefault("channel.reconnect.base", ch.Reconnect.Base, delivery.DefaultBackoffBase); err != nil {
		return delivery.Config{}, err
	}
	if out.Reconnect.Max, err = config.ParseDurationOrDefault("channel.reconnect.max", ch.Reconnect.Max, delivery.DefaultBackoffMax); err != nil {
		return delivery.Config{}, err
	}
	out.Reconnect.MaxAttempts = ch.Reconnect.MaxAttempts
	return out, nil
}

func mapDigestConfig(cfg *config.Config, loc *time.Location) digest.Config {
	d := cfg.Digest
	out := digest.Config{
		Header:        d.Header,
		EmptyMessage:  d.EmptyMessage,
		TimeLayout:    d.TimeLayout,
		TimeLabel:     d.TimeLabel,
		DurationLabel: d.DurationLabel,
		DefaultIcon:   d.DefaultIcon,
		Location:      loc,
	}
	if len(d.Icons) > 0 {
		out.Icons = make(map[contest.Host]string, len(d.Icons))
		for host, icon := range d.Icons {
			out.Icons[contest.Host(strings.ToLower(strings.TrimSpace(host)))] = icon
		}
	}
	return out
}

type pipelineSettings struct {
	pipeline   pipeline.Config
	schedule   string
	zone       string
	runTimeout time.Duration
	runOnStart bool
}

func mapPipelineConfig(cfg *config.Config) (pipelineSettings, error) {
	p := cfg.Pipeline
	window, err := config.ParseDurationOrDefault("pipeline.window", p.Window, contest.DefaultWindow)
	if err != nil {
		return pipelineSettings{}, err
	}
	open, err := config.ParseDurationOrDefault("pipeline.open_timeout", p.OpenTimeout, pipeline.DefaultOpenTimeout)
	if err != nil {
		return pipelineSettings{}, err
	}
	run, err := config.ParseDurationOrDefault("pipeline.run_timeout", p.RunTimeout, DefaultRunTimeout)
	if err != nil {
		return pipelineSettings{}, err
	}
	return pipelineSettings{
		pipeline: pipeline.Config{
			Window:           window,
			OpenTimeout:      open,
			SendEmpty:        p.SendEmpty,
			MarkerPath:       strings.TrimSpace(p.MarkerPath),
			RemindersEnabled: cfg.Reminders.Enabled,
		},
		schedule:   strings.TrimSpace(p.Schedule),
		zone:       strings.TrimSpace(p.ScheduleZone),
		runTimeout: run,
		runOnStart: p.RunOnStart,
	}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	lead, err := config.ParseDurationOrDefault("reminders.lead", cfg.Reminders.Lead, 0)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{Lead: lead}, nil
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	if cfg.HTTP == nil {
		return httpapi.Config{}
	}
	return httpapi.Config{
		Enabled:      cfg.HTTP.Enabled,
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		Token:        strings.TrimSpace(cfg.HTTP.Token),
		Pprof:        cfg.HTTP.Pprof,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// buildAdapters returns the enabled source adapters in a fixed order.
func buildAdapters(cfg *config.Config, loc *time.Location, log logx.Logger) ([]sources.Adapter, error) {
	sc := cfg.Sources
	timeout, err := config.ParseDurationOrDefault("sources.timeout", sc.Timeout, sources.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: timeout}
	opts := func(url string) sources.Options {
		return sources.Options{
			URL:       strings.TrimSpace(url),
			Client:    client,
			UserAgent: sc.UserAgent,
			Location:  loc,
			Log:       log,
		}
	}

	var out []sources.Adapter
	if sc.Codeforces.Enabled {
		out = append(out, sources.NewCodeforces(opts(sc.Codeforces.URL)))
	}
	if sc.LeetCode.Enabled {
		out = append(out, sources.NewLeetCode(opts(sc.LeetCode.URL)))
	}
	if sc.AtCoder.Enabled {
		out = append(out, sources.NewAtCoder(opts(sc.AtCoder.URL)))
	}
	if sc.CodeChef.Enabled {
		mode := sources.CodeChefHTML
		if strings.EqualFold(strings.TrimSpace(sc.CodeChef.Mode), "rss") {
			mode = sources.CodeChefRSS
		}
		out = append(out, sources.NewCodeChef(opts(sc.CodeChef.URL), mode))
	}
	return out, nil
}
