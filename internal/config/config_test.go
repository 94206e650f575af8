package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
channel:
  token: "abc"
  operator: "42"
  recipients: ["-1001", "@contests"]
  throttle: 3s
  reconnect:
    base: 1s
    max: 1m
logging:
  level: info
  console: true
timezone:
  offset: "+05:30"
sources:
  codeforces: { enabled: true }
  codechef: { enabled: true, mode: rss }
pipeline:
  schedule: "0 9 * * *"
  window: 48h
digest:
  icons:
    codeforces.com: "CF"
reminders:
  enabled: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDecodeYAMLAndJSONAgree(t *testing.T) {
	t.Parallel()
	y, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if y.Channel.Recipients[1] != "@contests" || y.Sources.CodeChef.Mode != "rss" {
		t.Fatalf("unexpected yaml decode: %+v", y)
	}
	if y.Digest.Icons["codeforces.com"] != "CF" {
		t.Fatalf("icons not decoded: %+v", y.Digest.Icons)
	}

	j, err := Decode("c.json", []byte(`{"channel":{"recipients":["a"]},"timezone":{"offset":"+05:30"}}`))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if j.Channel.Recipients[0] != "a" {
		t.Fatalf("unexpected json decode: %+v", j.Channel)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"chanel":{}}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParseOffset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		secs int
		ok   bool
	}{
		{"", 0, true},
		{"Z", 0, true},
		{"+05:30", 5*3600 + 30*60, true},
		{"-0700", -7 * 3600, true},
		{"UTC+9", 9 * 3600, true},
		{"+5", 5 * 3600, true},
		{"05:30", 0, false},
		{"+25:00", 0, false},
		{"+05:3", 0, false},
	}
	ref := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		loc, err := ParseOffset(tt.raw)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseOffset(%q) err = %v, want ok=%v", tt.raw, err, tt.ok)
		}
		if !tt.ok {
			continue
		}
		if _, off := ref.In(loc).Zone(); off != tt.secs {
			t.Fatalf("ParseOffset(%q) offset = %d, want %d", tt.raw, off, tt.secs)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Channel:  ChannelConfig{Recipients: []string{"r1"}},
			Timezone: TimezoneConfig{Offset: "+05:30"},
		}
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("Validate(base) = %v", err)
	}

	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"bad throttle", func(c *Config) { c.Channel.Throttle = "soon" }, "channel.throttle"},
		{"negative window", func(c *Config) { c.Pipeline.Window = "-1h" }, "pipeline.window"},
		{"bad pattern", func(c *Config) { c.Channel.GroupPattern = "(" }, "channel.group_pattern"},
		{"blank recipient", func(c *Config) { c.Channel.Recipients = []string{" "} }, "channel.recipients[0]"},
		{"bad offset", func(c *Config) { c.Timezone.Offset = "IST" }, "timezone.offset"},
		{"bad mode", func(c *Config) { c.Sources.CodeChef.Mode = "json" }, "sources.codechef.mode"},
		{"bad driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
		{"bad attempts", func(c *Config) { c.Channel.Reconnect.MaxAttempts = -1 }, "max_attempts"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mut(c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("explicit = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "abc", time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func TestManagerLoadAppliesTokenEnv(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML)
	t.Setenv(TokenEnv, "from-env")

	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel.Token != "from-env" {
		t.Fatalf("token = %q, want env override", cfg.Channel.Token)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("slow subscriber should receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestSummarizeConfigChangeHidesToken(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Channel: ChannelConfig{Token: "a"}}
	newCfg := &Config{Channel: ChannelConfig{Token: "b"}, Logging: LoggingConfig{Level: "debug"}}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "channel.token,logging" {
		t.Fatalf("changed = %v", changed)
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "channel.token" {
		t.Fatalf("RestartRequired = %v", got)
	}
}
