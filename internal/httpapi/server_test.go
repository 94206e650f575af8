package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"contestbot/internal/delivery"
	"contestbot/internal/pipeline"
	"contestbot/internal/storage"
	logx "contestbot/pkg/logx"
)

type fakePipeline struct {
	mu      sync.Mutex
	running atomic.Bool
	calls   []string
	err     error
	last    *pipeline.Report
}

func (f *fakePipeline) Run(ctx context.Context, trigger string) (pipeline.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, trigger)
	f.mu.Unlock()
	rep := pipeline.Report{Trigger: trigger, Fetched: 3, Summary: delivery.Summary{SuccessCount: 1, TotalCount: 2}}
	return rep, f.err
}

func (f *fakePipeline) Running() bool { return f.running.Load() }

func (f *fakePipeline) Last() (pipeline.Report, bool) {
	if f.last == nil {
		return pipeline.Report{}, false
	}
	return *f.last, true
}

func (f *fakePipeline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeChannel struct{ state delivery.State }

func (f fakeChannel) Snapshot() delivery.Snapshot {
	return delivery.Snapshot{State: f.state.String(), Recipients: 2}
}

type fakeRuns struct{ runs []storage.RunRecord }

func (f fakeRuns) ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func newServer(cfg Config, deps Deps) http.Handler {
	if deps.Channel == nil {
		deps.Channel = fakeChannel{state: delivery.Open}
	}
	return New(cfg, deps, logx.Nop()).Handler(context.Background())
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{last: &pipeline.Report{Trigger: "cron"}}
	tests := []struct {
		name  string
		state delivery.State
		code  int
	}{
		{"open", delivery.Open, http.StatusOK},
		{"reconnecting", delivery.ClosedRetryable, http.StatusOK},
		{"logged out", delivery.ClosedTerminal, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		h := newServer(Config{}, Deps{Pipeline: p, Channel: fakeChannel{state: tt.state}})
		rec := do(t, h, http.MethodGet, "/healthz", nil)
		if rec.Code != tt.code {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.code)
		}
		var body health
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if body.Channel.State != tt.state.String() || body.LastRun == nil || body.LastRun.Trigger != "cron" {
			t.Fatalf("%s: body = %+v", tt.name, body)
		}
	}
}

func TestRunRequiresToken(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	h := newServer(Config{Token: "s3cret"}, Deps{Pipeline: p})

	if rec := do(t, h, http.MethodPost, "/run?wait=1", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/run?wait=1&token=nope", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/run?wait=1", map[string]string{"Authorization": "Bearer s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer: status = %d body=%s", rec.Code, rec.Body.String())
	}
	var v runView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Trigger != "http" || v.Delivered != 1 || v.Recipients != 2 {
		t.Fatalf("view = %+v", v)
	}
}

func TestRunConflictAndFailure(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	p.running.Store(true)
	h := newServer(Config{}, Deps{Pipeline: p})
	if rec := do(t, h, http.MethodPost, "/run", nil); rec.Code != http.StatusConflict {
		t.Fatalf("running: status = %d", rec.Code)
	}
	if p.callCount() != 0 {
		t.Fatal("run started while another was active")
	}

	p.running.Store(false)
	p.err = errors.New("boom")
	rec := do(t, h, http.MethodPost, "/run?wait=true", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failure: status = %d", rec.Code)
	}
	var v runView
	_ = json.Unmarshal(rec.Body.Bytes(), &v)
	if v.Error != "boom" {
		t.Fatalf("view = %+v", v)
	}
}

func TestRunAsync(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	h := newServer(Config{}, Deps{Pipeline: p})
	if rec := do(t, h, http.MethodPost, "/run", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background run never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunAsyncUsesSpawn(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	var (
		mu    sync.Mutex
		names []string
	)
	spawn := func(name string, fn func(ctx context.Context)) {
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
		fn(context.Background())
	}
	h := newServer(Config{}, Deps{Pipeline: p, Spawn: spawn})
	if rec := do(t, h, http.MethodPost, "/run", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(names) != 1 || names[0] != "pipeline.http" {
		t.Fatalf("spawned = %v", names)
	}
	if p.callCount() != 1 {
		t.Fatalf("runs = %d, want 1", p.callCount())
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	if rec := do(t, newServer(Config{}, Deps{Pipeline: p}), http.MethodGet, "/runs", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("no store: status = %d", rec.Code)
	}

	h := newServer(Config{}, Deps{Pipeline: p, Runs: fakeRuns{runs: []storage.RunRecord{{Trigger: "b"}, {Trigger: "a"}}}})
	rec := do(t, h, http.MethodGet, "/runs?limit=1", nil)
	var runs []storage.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil || len(runs) != 1 || runs[0].Trigger != "b" {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
	if rec := do(t, h, http.MethodGet, "/runs?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d", rec.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok 1\n")) })
	h := newServer(Config{}, Deps{Pipeline: &fakePipeline{}, Metrics: metrics})
	if rec := do(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok 1\n" {
		t.Fatalf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Pipeline: &fakePipeline{}, Channel: fakeChannel{state: delivery.Open}}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx)
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("server still bound after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8090":          false,
		"0.0.0.0:8090":   false,
		"10.0.0.1:80":    false,
		"nonsense":       false,
	}
	for in, want := range tests {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}
