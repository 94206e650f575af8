package sources

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"contestbot/internal/contest"
	"contestbot/internal/eventbus"
	logx "contestbot/pkg/logx"
)

// Observer receives one call per adapter fetch.
type Observer interface {
	ObserveFetch(source string, count int, took time.Duration, err error)
}

// Failure describes a failed adapter in a FetchReport.
type Failure struct {
	Source string
	Err    error
}

// Aggregator fans out to every adapter and merges what succeeded.
type Aggregator struct {
	adapters []Adapter
	log      logx.Logger
	obs      Observer
	bus      eventbus.Bus
}

func NewAggregator(log logx.Logger, obs Observer, bus eventbus.Bus, adapters ...Adapter) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{adapters: adapters, log: log, obs: obs, bus: bus}
}

// Sources lists adapter names in registration order.
func (a *Aggregator) Sources() []string {
	out := make([]string, len(a.adapters))
	for i, ad := range a.adapters {
		out[i] = ad.Name()
	}
	return out
}

// Aggregate runs every adapter concurrently and waits for all of them. A
// failing adapter contributes nothing; its error is logged and reported in
// the failures, never returned. Results are concatenated in registration
// order with each adapter's own order preserved.
func (a *Aggregator) Aggregate(ctx context.Context) ([]contest.Contest, []Failure) {
	results := make([][]contest.Contest, len(a.adapters))
	errs := make([]error, len(a.adapters))

	// A plain Group: one adapter's failure must not cancel the others.
	var g errgroup.Group
	for i, ad := range a.adapters {
		i, ad := i, ad
		g.Go(func() error {
			start := time.Now()
			res, err := safeFetch(ctx, ad)
			took := time.Since(start)
			if a.obs != nil {
				a.obs.ObserveFetch(ad.Name(), len(res), took, err)
			}
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = res
			a.log.Debug("source fetched", logx.String("source", ad.Name()), logx.Int("count", len(res)), logx.Duration("took", took))
			return nil
		})
	}
	_ = g.Wait()

	var (
		out      []contest.Contest
		failures []Failure
	)
	for i, ad := range a.adapters {
		if errs[i] != nil {
			a.log.Warn("source failed", logx.String("source", ad.Name()), logx.Err(errs[i]))
			eventbus.Emit(a.bus, eventbus.SourceFailed, map[string]any{"source": ad.Name(), "err": errs[i].Error()})
			failures = append(failures, Failure{Source: ad.Name(), Err: errs[i]})
			continue
		}
		out = append(out, results[i]...)
	}
	return out, failures
}

func safeFetch(ctx context.Context, ad Adapter) (res []contest.Contest, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &SourceFetchError{Source: ad.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return ad.Fetch(ctx)
}
