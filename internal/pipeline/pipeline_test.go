package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"contestbot/internal/contest"
	"contestbot/internal/delivery"
	"contestbot/internal/digest"
	"contestbot/internal/eventbus"
	"contestbot/internal/marker"
	"contestbot/internal/sources"
	"contestbot/internal/storage"
	logx "contestbot/pkg/logx"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSources struct {
	out      []contest.Contest
	failures []sources.Failure
	block    chan struct{}
}

func (f *fakeSources) Aggregate(ctx context.Context) ([]contest.Contest, []sources.Failure) {
	if f.block != nil {
		<-f.block
	}
	return f.out, f.failures
}

type fakeChannel struct {
	mu       sync.Mutex
	openErr  error
	sendErr  error
	sum      delivery.Summary
	sent     []string
	operator []string
}

func (f *fakeChannel) WaitOpen(ctx context.Context) error {
	if f.openErr != nil {
		<-ctx.Done()
		return f.openErr
	}
	return nil
}

func (f *fakeChannel) Deliver(ctx context.Context, text string) (delivery.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.sum, f.sendErr
}

func (f *fakeChannel) NotifyOperator(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operator = append(f.operator, text)
	return nil
}

type fakeReminders struct{ names []string }

func (f *fakeReminders) ScheduleContest(c contest.Contest, payload string) string {
	name := "reminder:" + c.Key()
	f.names = append(f.names, name)
	return name
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []string
}

func (f *fakeRecorder) ObserveRun(result string, took time.Duration, selected int) {
	f.mu.Lock()
	f.results = append(f.results, result)
	f.mu.Unlock()
}

type panicFormatter struct{}

func (panicFormatter) Format([]contest.Contest) string { panic("template broke") }
func (panicFormatter) FormatBlock(contest.Contest) string { return "" }

func upcoming() []contest.Contest {
	return []contest.Contest{
		{Name: "Later", Start: now.Add(5 * time.Hour), Duration: time.Hour, Host: contest.AtCoder, URL: "https://atcoder.jp/contests/abc1"},
		{Name: "Soon", Start: now.Add(time.Hour), Duration: 2 * time.Hour, Host: contest.Codeforces, URL: "https://codeforces.com/contests/1"},
		{Name: "Past", Start: now.Add(-time.Hour), Host: contest.LeetCode},
		{Name: "Far", Start: now.Add(72 * time.Hour), Host: contest.CodeChef},
	}
}

func newPipeline(t *testing.T, cfg Config, deps Deps) *Pipeline {
	t.Helper()
	if deps.Formatter == nil {
		deps.Formatter = digest.New(digest.Config{Header: "Upcoming", Location: time.UTC})
	}
	deps.Now = func() time.Time { return now }
	return New(cfg, deps)
}

func TestRunDeliversSelectedDigest(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{sum: delivery.Summary{SuccessCount: 2, TotalCount: 2}}
	rem := &fakeReminders{}
	rec := &fakeRecorder{}
	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	p := newPipeline(t, Config{RemindersEnabled: true}, Deps{
		Sources:   &fakeSources{out: upcoming(), failures: []sources.Failure{{Source: "leetcode", Err: errors.New("down")}}},
		Reminders: rem,
		Channel:   ch,
		Store:     store,
		Metrics:   rec,
		Bus:       bus,
	})

	rep, err := p.Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Fetched != 4 || len(rep.Selected) != 2 || rep.Selected[0].Name != "Soon" {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(ch.sent) != 1 || !strings.HasPrefix(ch.sent[0], "Upcoming") {
		t.Fatalf("sent = %q", ch.sent)
	}
	if strings.Index(ch.sent[0], "Soon") > strings.Index(ch.sent[0], "Later") {
		t.Fatal("digest not ordered by start")
	}
	if len(rem.names) != 2 || rep.Reminders != 2 {
		t.Fatalf("reminders = %v", rem.names)
	}
	if len(ch.operator) != 0 {
		t.Fatalf("unexpected operator notices %v", ch.operator)
	}
	if len(rec.results) != 1 || rec.results[0] != "ok" {
		t.Fatalf("metrics = %v", rec.results)
	}

	runs, err := store.ListRuns(context.Background(), 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns = %v, %v", runs, err)
	}
	if runs[0].Selected != 2 || runs[0].Delivered != 2 || len(runs[0].SourceFailures) != 1 {
		t.Fatalf("run record = %+v", runs[0])
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) != 2 || types[0] != eventbus.PipelineStarted || types[1] != eventbus.PipelineFinished {
		t.Fatalf("events = %v", types)
	}
	if last, ok := p.Last(); !ok || last.Trigger != "test" {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
}

func TestRunSkipsEmptyDigest(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	p := newPipeline(t, Config{}, Deps{Sources: &fakeSources{}, Channel: ch})
	rep, err := p.Run(context.Background(), "cron")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ch.sent) != 0 || rep.Delivered {
		t.Fatalf("sent = %q", ch.sent)
	}
	if rep.Digest != digest.DefaultEmptyMessage {
		t.Fatalf("Digest = %q", rep.Digest)
	}
}

func TestRunSendsEmptyWhenConfigured(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{sum: delivery.Summary{SuccessCount: 1, TotalCount: 1}}
	p := newPipeline(t, Config{SendEmpty: true}, Deps{Sources: &fakeSources{}, Channel: ch})
	if _, err := p.Run(context.Background(), "cron"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ch.sent) != 1 || ch.sent[0] != digest.DefaultEmptyMessage {
		t.Fatalf("sent = %q", ch.sent)
	}
}

func TestRunMarkerFailureAborts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// a non-empty directory cannot be removed as a file
	path := filepath.Join(dir, "marker")
	if err := os.MkdirAll(filepath.Join(path, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	src := &fakeSources{out: upcoming()}
	ch := &fakeChannel{}
	rec := &fakeRecorder{}
	p := newPipeline(t, Config{MarkerPath: path}, Deps{Sources: src, Channel: ch, Metrics: rec})

	_, err := p.Run(context.Background(), "cron")
	var me *marker.MarkerFileError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want MarkerFileError", err)
	}
	if len(ch.sent) != 0 {
		t.Fatal("digest sent after marker failure")
	}
	if len(ch.operator) != 1 || ch.operator[0] != "Failed to clear reminder file" {
		t.Fatalf("operator = %v", ch.operator)
	}
	if rec.results[0] != "failed" {
		t.Fatalf("metrics = %v", rec.results)
	}
}

func TestRunFormatPanicIsFormatError(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	p := newPipeline(t, Config{}, Deps{Sources: &fakeSources{out: upcoming()}, Formatter: panicFormatter{}, Channel: ch})

	_, err := p.Run(context.Background(), "cron")
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FormatError", err)
	}
	if len(ch.operator) != 1 || !strings.HasPrefix(ch.operator[0], "Contest fetch error: ") {
		t.Fatalf("operator = %v", ch.operator)
	}

	// the next run is unaffected
	p.SetFormatter(digest.New(digest.Config{Location: time.UTC}))
	if _, err := p.Run(context.Background(), "cron"); err != nil {
		t.Fatalf("second Run: %v", err)
	}
}

func TestRunAllRecipientsFailed(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{
		sum:     delivery.Summary{TotalCount: 2},
		sendErr: delivery.ErrAllRecipientsFailed,
	}
	p := newPipeline(t, Config{}, Deps{Sources: &fakeSources{out: upcoming()}, Channel: ch})
	_, err := p.Run(context.Background(), "cron")
	if !errors.Is(err, ErrAllRecipientsFailed) {
		t.Fatalf("err = %v", err)
	}
	if len(ch.operator) != 0 {
		t.Fatalf("pipeline duplicated the channel's operator notice: %v", ch.operator)
	}
}

func TestRunOpenTimeout(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{openErr: delivery.ErrNotOpen}
	p := newPipeline(t, Config{OpenTimeout: 20 * time.Millisecond}, Deps{Sources: &fakeSources{out: upcoming()}, Channel: ch})
	_, err := p.Run(context.Background(), "cron")
	if !errors.Is(err, delivery.ErrNotOpen) {
		t.Fatalf("err = %v", err)
	}
	if len(ch.sent) != 0 {
		t.Fatal("sent without an open channel")
	}
}

func TestRunRefusesOverlap(t *testing.T) {
	t.Parallel()
	src := &fakeSources{block: make(chan struct{})}
	rec := &fakeRecorder{}
	p := newPipeline(t, Config{}, Deps{Sources: src, Channel: &fakeChannel{}, Metrics: rec})

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), "first")
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !p.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := p.Run(context.Background(), "second"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
	close(src.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.results) != 2 || rec.results[0] != "skipped" {
		t.Fatalf("metrics = %v", rec.results)
	}
}
