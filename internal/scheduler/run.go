package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	logx "contestbot/pkg/logx"
)

const skipWarnThrottle = 5 * time.Second

// dispatch hands a fired job to the runner. running, when set, makes the
// trigger a no-op while the previous run of the same schedule is in flight.
func (s *Service) dispatch(name string, timeout time.Duration, job Job, running *atomic.Bool) {
	if running != nil && !running.CompareAndSwap(false, true) {
		s.reportSkip(name)
		return
	}
	fn := func(ctx context.Context) error {
		if running != nil {
			defer running.Store(false)
		}
		s.exec(ctx, name, timeout, job)
		return nil
	}
	if s.runner != nil {
		s.runner.Go("job:"+name, fn)
		return
	}
	go func() { _ = fn(context.Background()) }()
}

// exec runs one job. Errors and panics stay local to the job.
func (s *Service) exec(ctx context.Context, name string, timeout time.Duration, job Job) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job(ctx)
	}()
	if err != nil {
		s.log.Warn("job failed", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("name", name), logx.Duration("took", time.Since(start)))
}

func (s *Service) reportSkip(name string) {
	now := time.Now()
	s.skipMu.Lock()
	last := s.lastSkip[name]
	if !last.IsZero() && now.Sub(last) < skipWarnThrottle {
		s.skipMu.Unlock()
		return
	}
	s.lastSkip[name] = now
	s.skipMu.Unlock()
	s.log.Warn("schedule trigger skipped; previous run still active", logx.String("name", name))
}
