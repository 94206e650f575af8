package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"contestbot/internal/eventbus"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body, _ := io.ReadAll(w.Result().Body)
	return string(body)
}

func TestCollectorRecords(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveFetch("codeforces", 7, 120*time.Millisecond, nil)
	c.ObserveFetch("atcoder", 0, time.Second, errors.New("502"))
	c.ObserveRun("ok", 4*time.Second, 5)
	c.ObserveRun("skipped", 0, 0)

	body := scrape(t, reg)
	for _, want := range []string{
		`contestbot_source_fetch_total{result="ok",source="codeforces"} 1`,
		`contestbot_source_fetch_total{result="error",source="atcoder"} 1`,
		`contestbot_source_contests{source="codeforces"} 7`,
		`contestbot_runs_total{result="ok"} 1`,
		`contestbot_runs_total{result="skipped"} 1`,
		`contestbot_selected_contests 5`,
		`contestbot_connection_state{state="connecting"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestWatchFollowsBus(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, bus)
		close(done)
	}()

	// Subscribe happens inside Watch; publish until it is observed.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(scrape(t, reg), `contestbot_connection_state{state="open"} 1`) {
		if time.Now().After(deadline) {
			t.Fatal("connection state never observed")
		}
		bus.Publish(eventbus.Event{Type: eventbus.ConnectionState, Data: map[string]any{"to": "open"}})
		time.Sleep(10 * time.Millisecond)
	}
	bus.Publish(eventbus.Event{Type: eventbus.DeliveryFailed})
	deadline = time.Now().Add(2 * time.Second)
	for !strings.Contains(scrape(t, reg), `contestbot_deliveries_total{result="error"} 1`) {
		if time.Now().After(deadline) {
			t.Fatal("delivery failure never observed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if body := scrape(t, reg); !strings.Contains(body, `contestbot_connection_state{state="connecting"} 0`) {
		t.Fatalf("stale state still set:\n%s", body)
	}
}
