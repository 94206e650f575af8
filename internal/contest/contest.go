// Package contest holds the normalized contest record and the time-window
// selection applied to every aggregated batch.
package contest

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Host identifies the platform a contest comes from. The set is open:
// unknown hosts are valid and only fall back to the default icon.
type Host string

const (
	Codeforces Host = "codeforces.com"
	LeetCode   Host = "leetcode.com"
	AtCoder    Host = "atcoder.jp"
	CodeChef   Host = "codechef.com"
)

// DefaultWindow is how far ahead contests are announced.
const DefaultWindow = 48 * time.Hour

// Contest is one upcoming event. Values are never mutated after New.
type Contest struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	URL      string
	Host     Host
}

var (
	ErrNoName       = errors.New("contest name is empty")
	ErrNoStart      = errors.New("contest start is zero")
	ErrNegativeSpan = errors.New("contest duration is negative")
)

// New validates and builds a Contest, normalizing Start into loc.
func New(name string, start time.Time, d time.Duration, url string, host Host, loc *time.Location) (Contest, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return Contest{}, ErrNoName
	case start.IsZero():
		return Contest{}, ErrNoStart
	case d < 0:
		return Contest{}, ErrNegativeSpan
	}
	return Contest{
		Name:     name,
		Start:    Normalize(start, loc),
		Duration: d,
		URL:      strings.TrimSpace(url),
		Host:     host,
	}, nil
}

// Normalize expresses t in the reference zone. The instant is unchanged.
func Normalize(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc)
}

// StartEpochMs is the start instant in Unix milliseconds.
func (c Contest) StartEpochMs() int64 { return c.Start.UnixMilli() }

// Key identifies a contest across runs of the same process.
func (c Contest) Key() string {
	return string(c.Host) + "|" + c.URL + "|" + c.Start.UTC().Format(time.RFC3339)
}

// Select keeps contests with now <= Start <= now+window and sorts them by
// Start ascending. Equal starts keep their input order. The input slice is
// not modified.
func Select(contests []Contest, now time.Time, window time.Duration) []Contest {
	end := now.Add(window)
	out := make([]Contest, 0, len(contests))
	for _, c := range contests {
		if c.Start.Before(now) || c.Start.After(end) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
