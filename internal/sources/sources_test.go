package sources

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contestbot/internal/contest"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func text(body, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	}
}

func TestCodeforcesFiltersPhase(t *testing.T) {
	t.Parallel()
	srv := serve(t, text(`{"status":"OK","result":[
		{"id":1930,"name":"Codeforces Round 930","phase":"BEFORE","durationSeconds":7200,"startTimeSeconds":1709130900},
		{"id":1929,"name":"Old Round","phase":"FINISHED","durationSeconds":7200,"startTimeSeconds":1700000000},
		{"id":1931,"name":"Broken","phase":"BEFORE","durationSeconds":7200}
	]}`, "application/json"))

	got, err := NewCodeforces(Options{URL: srv.URL, Location: ist}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d contests, want 1: %+v", len(got), got)
	}
	c := got[0]
	if c.Name != "Codeforces Round 930" || c.URL != "https://codeforces.com/contests/1930" || c.Host != contest.Codeforces {
		t.Fatalf("unexpected contest %+v", c)
	}
	if c.Duration != 2*time.Hour || c.Start.Unix() != 1709130900 || c.Start.Location() != ist {
		t.Fatalf("unexpected start/duration %v %v", c.Start, c.Duration)
	}
}

func TestCodeforcesStatusFailed(t *testing.T) {
	t.Parallel()
	srv := serve(t, text(`{"status":"FAILED","comment":"limit exceeded"}`, "application/json"))
	_, err := NewCodeforces(Options{URL: srv.URL}).Fetch(context.Background())
	var fe *SourceFetchError
	if !errors.As(err, &fe) || fe.Source != "codeforces" {
		t.Fatalf("err = %v, want SourceFetchError", err)
	}
}

func TestHTTPStatusIsFetchError(t *testing.T) {
	t.Parallel()
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	_, err := NewAtCoder(Options{URL: srv.URL}).Fetch(context.Background())
	var fe *SourceFetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusBadGateway {
		t.Fatalf("err = %v, want status 502 fetch error", err)
	}
}

func TestLeetCodePostsGraphQL(t *testing.T) {
	t.Parallel()
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !strings.Contains(req["query"], "contestUpcomingContests") {
			t.Errorf("query = %q", req["query"])
		}
		_, _ = io.WriteString(w, `{"data":{"contestUpcomingContests":[
			{"title":"Weekly Contest 387","startTime":1709433000,"duration":5400,"titleSlug":"weekly-contest-387"},
			{"title":"No slug","startTime":1709433000,"duration":5400,"titleSlug":""}
		]}}`)
	})

	got, err := NewLeetCode(Options{URL: srv.URL, Location: ist}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d contests, want 1", len(got))
	}
	if got[0].URL != "https://leetcode.com/contest/weekly-contest-387" || got[0].Duration != 90*time.Minute {
		t.Fatalf("unexpected contest %+v", got[0])
	}
}

func TestLeetCodeShapeError(t *testing.T) {
	t.Parallel()
	srv := serve(t, text(`{"data":{}}`, "application/json"))
	_, err := NewLeetCode(Options{URL: srv.URL}).Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "contestUpcomingContests") {
		t.Fatalf("err = %v, want shape error", err)
	}
}

const atcoderPage = `<html><body>
<div id="contest-table-upcoming"><table><thead><tr><th>Start</th><th>Name</th><th>Duration</th></tr></thead><tbody>
<tr>
  <td><a href="http://www.timeanddate.com/worldclock/fixedtime.html?iso=20240302T2100&p1=248"><time class="fixtime">2024-03-02 21:00:00+0900</time></a></td>
  <td><span>&#9398;</span> <a href="/contests/abc343">AtCoder Beginner Contest 343</a></td>
  <td>01:40</td>
  <td> - 1999</td>
</tr>
<tr>
  <td><a href="http://www.timeanddate.com/worldclock/fixedtime.html?iso=20240303T2100&p1=248">soon</a></td>
  <td><a href="/contests/arc172">AtCoder Regular Contest 172</a></td>
  <td>02:00</td>
</tr>
<tr>
  <td><time>2024-03-09 21:00:00+0900</time></td>
  <td><a href="/contests/abc344">Bad duration</a></td>
  <td>two hours</td>
</tr>
<tr><td>only one cell</td></tr>
</tbody></table></div>
</body></html>`

func TestAtCoderScrape(t *testing.T) {
	t.Parallel()
	srv := serve(t, text(atcoderPage, "text/html"))

	got, err := NewAtCoder(Options{URL: srv.URL + "/contests/", Location: ist}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d contests, want 2 (bad rows skipped): %+v", len(got), got)
	}

	abc := got[0]
	if abc.Name != "AtCoder Beginner Contest 343" {
		t.Fatalf("Name = %q", abc.Name)
	}
	if abc.URL != srv.URL+"/contests/abc343" {
		t.Fatalf("URL = %q", abc.URL)
	}
	want := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	if !abc.Start.Equal(want) || abc.Duration != 100*time.Minute {
		t.Fatalf("start/duration = %v/%v", abc.Start, abc.Duration)
	}
	if abc.Start.Format("15:04") != "17:30" {
		t.Fatalf("IST wall clock = %s", abc.Start.Format("15:04"))
	}

	arc := got[1]
	if !arc.Start.Equal(time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("iso fallback start = %v", arc.Start)
	}
}

func TestAtCoderMissingTable(t *testing.T) {
	t.Parallel()
	srv := serve(t, text(`<html><body><p>maintenance</p></body></html>`, "text/html"))
	if _, err := NewAtCoder(Options{URL: srv.URL}).Fetch(context.Background()); err == nil {
		t.Fatal("expected shape error")
	}
}

const codechefPage = `<html><body>
<table id="future-contests-data">
<tr><th>Code</th><th>Name</th><th>Start</th><th>End</th></tr>
<tr>
  <td>START125</td>
  <td><a href="/START125">Starters 125</a></td>
  <td data-starttime="2024-03-06T14:30:00Z">06 Mar 2024 20:00</td>
  <td data-endtime="2024-03-06T16:30:00Z">06 Mar 2024 22:00</td>
</tr>
<tr>
  <td>BROKEN</td>
  <td><a href="/BROKEN">No times</a></td>
  <td></td>
  <td></td>
</tr>
</table>
</body></html>`

func TestCodeChefTable(t *testing.T) {
	t.Parallel()
	srv := serve(t, text(codechefPage, "text/html"))

	got, err := NewCodeChef(Options{URL: srv.URL + "/contests", Location: ist}, CodeChefHTML).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d contests, want 1", len(got))
	}
	c := got[0]
	if c.Name != "Starters 125" || c.URL != srv.URL+"/START125" || c.Duration != 2*time.Hour {
		t.Fatalf("unexpected contest %+v", c)
	}
	if c.Start.Format("15:04") != "20:00" {
		t.Fatalf("IST wall clock = %s", c.Start.Format("15:04"))
	}
}

const codechefFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>CodeChef Events</title>
<item><title>Starters 126</title><link>https://www.codechef.com/START126</link><pubDate>Wed, 13 Mar 2024 14:30:00 +0000</pubDate></item>
<item><title>Undated</title><link>https://www.codechef.com/X</link></item>
</channel></rss>`

func TestCodeChefFeed(t *testing.T) {
	t.Parallel()
	srv := serve(t, text(codechefFeed, "application/rss+xml"))

	got, err := NewCodeChef(Options{URL: srv.URL, Location: ist}, CodeChefRSS).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d contests, want 1", len(got))
	}
	if got[0].Duration != CodeChefFeedDuration || got[0].Host != contest.CodeChef {
		t.Fatalf("unexpected contest %+v", got[0])
	}
	if !got[0].Start.Equal(time.Date(2024, 3, 13, 14, 30, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", got[0].Start)
	}
}

func TestParseHourMinute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"01:40", 100 * time.Minute, true},
		{" 2:00 ", 2 * time.Hour, true},
		{"240:00", 240 * time.Hour, true},
		{"0:05", 5 * time.Minute, true},
		{"1:75", 0, false},
		{"1h30", 0, false},
		{"1:2:3", 0, false},
		{":30", 0, false},
		{"-1:00", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseHourMinute(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseHourMinute(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("ParseHourMinute(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
