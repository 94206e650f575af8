package config

import (
	"reflect"
	"strings"

	logx "contestbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (tokens) never appear in attrs.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	oc, nc := oldCfg.Channel, newCfg.Channel
	oc.Token, nc.Token = "", ""
	if !reflect.DeepEqual(oc, nc) {
		changed = append(changed, "channel")
		attrs = append(attrs,
			logx.Int("channel.recipients", len(nc.Recipients)),
			logx.Bool("channel.operator_set", strings.TrimSpace(nc.Operator) != ""),
			logx.String("channel.throttle", strings.TrimSpace(nc.Throttle)),
		)
	}
	if oldCfg.Channel.Token != newCfg.Channel.Token {
		changed = append(changed, "channel.token")
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.operator_enabled", newCfg.Logging.Operator.Enabled),
		)
	}

	if oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone.offset", newCfg.Timezone.Offset))
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
	}
	if oldCfg.Pipeline != newCfg.Pipeline {
		changed = append(changed, "pipeline")
		attrs = append(attrs, logx.String("pipeline.schedule", newCfg.Pipeline.Schedule))
	}
	if !reflect.DeepEqual(oldCfg.Digest, newCfg.Digest) {
		changed = append(changed, "digest")
	}
	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
	}
	return changed, attrs
}

// RestartRequired reports the sections in changed that only apply at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "channel.token", "storage", "sources":
			out = append(out, s)
		}
	}
	return out
}
