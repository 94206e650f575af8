package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	operatorQueue   = 256
	operatorTimeout = 30 * time.Second
	maxNoticeLen    = 3500
	maxValueLen     = 600
	maxStackLen     = 900
)

// Sender delivers a rendered record to the operator. The delivery channel
// implements it.
type Sender interface {
	NotifyOperator(ctx context.Context, text string) error
}

// operatorSink is a zerolog.LevelWriter that queues records for the
// operator. Writes never block: records over the rate or queue are dropped.
type operatorSink struct {
	queue chan string

	mu       sync.Mutex
	sender   Sender
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

func newOperatorSink(sender Sender) *operatorSink {
	return &operatorSink{queue: make(chan string, operatorQueue), sender: sender, minLevel: zerolog.WarnLevel}
}

func (o *operatorSink) setSender(sender Sender) {
	o.mu.Lock()
	o.sender = sender
	o.mu.Unlock()
}

// configure updates the filter and starts the worker on first use.
func (o *operatorSink) configure(lvl zerolog.Level, perSec rate.Limit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.minLevel = lvl
	if o.limiter == nil {
		o.limiter = rate.NewLimiter(perSec, int(perSec))
	} else {
		o.limiter.SetLimit(perSec)
		o.limiter.SetBurst(int(perSec))
	}
	if o.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(ctx, o.done)
}

func (o *operatorSink) stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (o *operatorSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-o.queue:
			o.mu.Lock()
			sender := o.sender
			o.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, operatorTimeout)
			_ = sender.NotifyOperator(sctx, text)
			cancel()
		}
	}
}

func (o *operatorSink) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.NoLevel, p)
}

func (o *operatorSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	ok := o.sender != nil && o.limiter != nil && level != zerolog.NoLevel && level >= o.minLevel && o.limiter.Allow()
	o.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := formatRecord(p); text != "" {
		select {
		case o.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// formatRecord renders a JSON record as "[LEVEL] message" followed by one
// "- key=value" line per field, keys sorted. Non-JSON input is sent as is.
func formatRecord(p []byte) string {
	p = bytes.TrimSpace(p)
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return truncate(string(p), maxNoticeLen)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "stack" {
			fmt.Fprintf(&b, "\n- stack=\n%s", truncate(fmt.Sprint(rec[k]), maxStackLen))
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(rec[k]), maxValueLen))
	}
	return truncate(b.String(), maxNoticeLen)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
