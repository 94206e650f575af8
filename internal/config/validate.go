package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Validate rejects configs that would fail at runtime. It never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Channel.Driver)) {
	case "", "telegram":
	default:
		return fmt.Errorf("channel.driver: unsupported %q", cfg.Channel.Driver)
	}
	for _, f := range []struct{ path, raw string }{
		{"channel.poll_timeout", cfg.Channel.PollTimeout},
		{"channel.group_cache_ttl", cfg.Channel.GroupCacheTTL},
		{"channel.throttle", cfg.Channel.Throttle},
		{"channel.reconnect.base", cfg.Channel.Reconnect.Base},
		{"channel.reconnect.max", cfg.Channel.Reconnect.Max},
		{"sources.timeout", cfg.Sources.Timeout},
		{"pipeline.window", cfg.Pipeline.Window},
		{"pipeline.open_timeout", cfg.Pipeline.OpenTimeout},
		{"pipeline.run_timeout", cfg.Pipeline.RunTimeout},
		{"reminders.lead", cfg.Reminders.Lead},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Channel.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("channel.reconnect.max_attempts must be >= 0")
	}
	if p := strings.TrimSpace(cfg.Channel.GroupPattern); p != "" {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("channel.group_pattern: %w", err)
		}
	}
	for i, r := range cfg.Channel.Recipients {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("channel.recipients[%d]: empty recipient", i)
		}
	}

	if _, err := ParseOffset(cfg.Timezone.Offset); err != nil {
		return fmt.Errorf("timezone.offset: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Pipeline.ScheduleZone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("pipeline.schedule_timezone: invalid %q: %w", tz, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Sources.CodeChef.Mode)) {
	case "", "html", "rss":
	default:
		return fmt.Errorf("sources.codechef.mode: want html or rss, got %q", cfg.Sources.CodeChef.Mode)
	}

	if cfg.Logging.Operator.RatePerSec < 0 {
		return fmt.Errorf("logging.operator.rate_per_sec must be >= 0")
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// ParseOffset parses a fixed UTC offset ("+05:30", "-0700", "Z", "UTC+9")
// into a zone. An empty value means UTC.
func ParseOffset(raw string) (*time.Location, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "Z") || strings.EqualFold(s, "UTC") {
		return time.UTC, nil
	}
	label := s
	s = strings.TrimPrefix(strings.TrimPrefix(s, "UTC"), "GMT")
	if s == "" {
		return time.UTC, nil
	}
	sign := 1
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("invalid offset %q (want +HH:MM)", raw)
	}
	body := strings.ReplaceAll(s[1:], ":", "")
	var hh, mm int
	var err error
	switch len(body) {
	case 1, 2:
		hh, err = strconv.Atoi(body)
	case 4:
		hh, err = strconv.Atoi(body[:2])
		if err == nil {
			mm, err = strconv.Atoi(body[2:])
		}
	default:
		return nil, fmt.Errorf("invalid offset %q (want +HH:MM)", raw)
	}
	if err != nil || hh > 14 || mm > 59 {
		return nil, fmt.Errorf("invalid offset %q (want +HH:MM)", raw)
	}
	return time.FixedZone(label, sign*(hh*3600+mm*60)), nil
}
