package contest

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

func at(now time.Time, d time.Duration, name string) Contest {
	return Contest{Name: name, Start: now.Add(d), Host: Codeforces}
}

func names(cs []Contest) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func TestSelectWindowBounds(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []Contest{
		at(now, -time.Minute, "past"),
		at(now, 0, "now"),
		at(now, DefaultWindow, "edge"),
		at(now, DefaultWindow+time.Second, "late"),
		at(now, time.Hour, "soon"),
	}
	got := names(Select(in, now, DefaultWindow))
	want := []string{"now", "soon", "edge"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Select = %v, want %v", got, want)
	}
}

func TestSelectStableAndIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []Contest{
		at(now, 2*time.Hour, "b1"),
		at(now, time.Hour, "a"),
		at(now, 2*time.Hour, "b2"),
		at(now, 2*time.Hour, "b3"),
	}
	orig := append([]Contest(nil), in...)

	once := Select(in, now, DefaultWindow)
	if got, want := names(once), []string{"a", "b1", "b2", "b3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Select = %v, want %v", got, want)
	}
	twice := Select(once, now, DefaultWindow)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("Select not idempotent: %v vs %v", names(once), names(twice))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatal("Select modified its input")
	}
}

func TestSelectEmpty(t *testing.T) {
	t.Parallel()
	if got := Select(nil, time.Now(), DefaultWindow); len(got) != 0 {
		t.Fatalf("Select(nil) = %v", got)
	}
}

func TestNewValidatesAndNormalizes(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 1, 14, 35, 0, 0, time.UTC)
	c, err := New(" Round 1 ", start, 2*time.Hour, "https://codeforces.com/contests/1", Codeforces, ist)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Name != "Round 1" {
		t.Fatalf("Name = %q", c.Name)
	}
	if !c.Start.Equal(start) || c.Start.Location() != ist {
		t.Fatalf("Start = %v, want %v in IST", c.Start, start)
	}
	if c.Start.Hour() != 20 || c.Start.Minute() != 5 {
		t.Fatalf("IST wall clock = %s", c.Start.Format("15:04"))
	}
	if c.StartEpochMs() != start.UnixMilli() {
		t.Fatalf("StartEpochMs = %d", c.StartEpochMs())
	}

	tests := []struct {
		name  string
		cname string
		start time.Time
		d     time.Duration
		want  error
	}{
		{"no name", "", start, 0, ErrNoName},
		{"zero start", "x", time.Time{}, 0, ErrNoStart},
		{"negative", "x", start, -time.Second, ErrNegativeSpan},
	}
	for _, tt := range tests {
		if _, err := New(tt.cname, tt.start, tt.d, "", Codeforces, ist); !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestKeyIgnoresZone(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 1, 14, 35, 0, 0, time.UTC)
	a := Contest{Host: AtCoder, URL: "u", Start: start}
	b := Contest{Host: AtCoder, URL: "u", Start: start.In(ist)}
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
	}
}
