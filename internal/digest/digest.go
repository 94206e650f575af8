// Package digest renders contests into the plain-text digest and reminder blocks.
package digest

import (
	"fmt"
	"strings"
	"time"

	"contestbot/internal/contest"
)

const (
	DefaultTimeLayout    = "15:04"
	DefaultIcon          = "🏁"
	DefaultEmptyMessage  = "No contests in the next 48 hours."
	DefaultTimeLabel     = "🕒"
	DefaultDurationLabel = "⏳"
)

// DefaultIcons maps the built-in hosts to their icons.
var DefaultIcons = map[contest.Host]string{
	contest.Codeforces: "🟦",
	contest.LeetCode:   "🟧",
	contest.AtCoder:    "⬜",
	contest.CodeChef:   "🟫",
}

type Config struct {
	Header        string
	EmptyMessage  string
	TimeLayout    string
	TimeLabel     string
	DurationLabel string
	Icons         map[contest.Host]string
	DefaultIcon   string
	// Location renders start times. Nil keeps each contest's own zone.
	Location *time.Location
}

// Formatter is immutable; build a new one to change its config.
type Formatter struct {
	cfg Config
}

func New(cfg Config) *Formatter {
	if cfg.TimeLayout == "" {
		cfg.TimeLayout = DefaultTimeLayout
	}
	if cfg.EmptyMessage == "" {
		cfg.EmptyMessage = DefaultEmptyMessage
	}
	if cfg.DefaultIcon == "" {
		cfg.DefaultIcon = DefaultIcon
	}
	if cfg.TimeLabel == "" {
		cfg.TimeLabel = DefaultTimeLabel
	}
	if cfg.DurationLabel == "" {
		cfg.DurationLabel = DefaultDurationLabel
	}
	icons := make(map[contest.Host]string, len(DefaultIcons)+len(cfg.Icons))
	for h, i := range DefaultIcons {
		icons[h] = i
	}
	for h, i := range cfg.Icons {
		icons[h] = i
	}
	cfg.Icons = icons
	return &Formatter{cfg: cfg}
}

// Icon is total: unknown hosts get the default icon.
func (f *Formatter) Icon(h contest.Host) string {
	if icon, ok := f.cfg.Icons[h]; ok && icon != "" {
		return icon
	}
	return f.cfg.DefaultIcon
}

// Format renders one block per contest, in input order, separated by a blank
// line. An empty input yields the empty message.
func (f *Formatter) Format(contests []contest.Contest) string {
	if len(contests) == 0 {
		return f.cfg.EmptyMessage
	}
	blocks := make([]string, 0, len(contests)+1)
	if h := strings.TrimSpace(f.cfg.Header); h != "" {
		blocks = append(blocks, h)
	}
	for _, c := range contests {
		blocks = append(blocks, f.FormatBlock(c))
	}
	return strings.Join(blocks, "\n\n")
}

// IsEmpty reports whether text is the empty-digest message.
func (f *Formatter) IsEmpty(text string) bool { return text == f.cfg.EmptyMessage }

// FormatBlock renders the four lines for one contest: icon and name, start
// time, duration, URL.
func (f *Formatter) FormatBlock(c contest.Contest) string {
	start := c.Start
	if f.cfg.Location != nil {
		start = start.In(f.cfg.Location)
	}
	return strings.Join([]string{
		f.Icon(c.Host) + " " + c.Name,
		f.cfg.TimeLabel + " " + start.Format(f.cfg.TimeLayout),
		f.cfg.DurationLabel + " " + FormatDuration(c.Duration),
		c.URL,
	}, "\n")
}

// FormatDuration renders "{h}h {m}m" when there is at least one hour and
// "{m}m" otherwise. Seconds are truncated.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int64(d / time.Hour)
	m := int64((d % time.Hour) / time.Minute)
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
