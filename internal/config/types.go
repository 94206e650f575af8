package config

type Config struct {
	Channel  ChannelConfig  `json:"channel"`
	Logging  LoggingConfig  `json:"logging"`
	Timezone TimezoneConfig `json:"timezone"`
	Sources  SourcesConfig  `json:"sources"`
	Pipeline PipelineConfig `json:"pipeline"`
	Digest   DigestConfig   `json:"digest"`

	Reminders RemindersConfig `json:"reminders"`

	Storage *StorageConfig `json:"storage,omitempty"`
	HTTP    *HTTPConfig    `json:"http,omitempty"`
}

// ChannelConfig controls the long-lived messaging session and delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - driver: "telegram"
//   - poll_timeout: "10s"
//   - throttle: "3s"
//   - group_cache_ttl: "5m"
//   - reconnect.base: "1s", reconnect.max: "1m", reconnect.max_attempts: 0 (unbounded)
type ChannelConfig struct {
	Driver string `json:"driver,omitempty"`
	// Token may be left empty and supplied via CONTESTBOT_TOKEN.
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`

	// Operator receives failure notices (the "help" recipient).
	Operator   string   `json:"operator,omitempty"`
	Recipients []string `json:"recipients"`

	// GroupPattern is a regular expression; matching recipients are treated as
	// groups and get their metadata fetched (and cached) before each send.
	GroupPattern  string `json:"group_pattern,omitempty"`
	GroupCacheTTL string `json:"group_cache_ttl,omitempty"`

	Throttle  string          `json:"throttle,omitempty"`
	Reconnect ReconnectConfig `json:"reconnect"`
}

type ReconnectConfig struct {
	Base        string `json:"base,omitempty"`
	Max         string `json:"max,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Operator LoggingOperator `json:"operator"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingOperator struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TimezoneConfig is the single reference offset every start time is
// normalized to and rendered in. Offsets never observe DST.
//
// Example:
//
//	"timezone": { "offset": "+05:30", "name": "IST" }
type TimezoneConfig struct {
	Offset string `json:"offset"`
	Name   string `json:"name,omitempty"`
}

type SourcesConfig struct {
	// Timeout bounds each adapter's HTTP exchange. Default "15s".
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	Codeforces SourceConfig   `json:"codeforces"`
	LeetCode   SourceConfig   `json:"leetcode"`
	AtCoder    SourceConfig   `json:"atcoder"`
	CodeChef   CodeChefConfig `json:"codechef"`
}

// SourceConfig toggles one adapter. An empty URL keeps the public endpoint.
type SourceConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
}

type CodeChefConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	// Mode is "html" (contest table scrape, default) or "rss" (events feed).
	Mode string `json:"mode,omitempty"`
}

// PipelineConfig controls when and how the digest runs.
//
// Defaults (when fields are omitted/zero):
//   - window: "48h"
//   - open_timeout: "2m"
//   - run_timeout: "5m"
type PipelineConfig struct {
	// Schedule accepts cron ("0 9 * * *", "@daily") or an interval ("12h", "06:00").
	// Empty disables the timed trigger; manual triggers still work.
	Schedule     string `json:"schedule,omitempty"`
	Window       string `json:"window,omitempty"`
	OpenTimeout  string `json:"open_timeout,omitempty"`
	RunTimeout   string `json:"run_timeout,omitempty"`
	SendEmpty    bool   `json:"send_empty"`
	RunOnStart   bool   `json:"run_on_start,omitempty"`
	MarkerPath   string `json:"marker_path,omitempty"`
	ScheduleZone string `json:"schedule_timezone,omitempty"` // IANA TZ for cron triggers
}

type DigestConfig struct {
	Header        string            `json:"header,omitempty"`
	EmptyMessage  string            `json:"empty_message,omitempty"`
	TimeLayout    string            `json:"time_layout,omitempty"`
	TimeLabel     string            `json:"time_label,omitempty"`
	DurationLabel string            `json:"duration_label,omitempty"`
	Icons         map[string]string `json:"icons,omitempty"`
	DefaultIcon   string            `json:"default_icon,omitempty"`
}

type RemindersConfig struct {
	Enabled bool `json:"enabled"`
	// Lead moves the reminder earlier than the start time. Default "0s".
	Lead string `json:"lead,omitempty"`
}

// StorageConfig controls the optional run history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/contestbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HTTPConfig controls the ops endpoint (health, metrics, manual trigger).
//
// Prefer binding to localhost (e.g. "127.0.0.1:8090").
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Token guards POST /run and /debug/pprof when set (do not log).
	Token string `json:"token,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}
