package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webcanary/webcanary/internal/monitoring/probe"
	"github.com/webcanary/webcanary/internal/registry"
)

// Publisher is satisfied by publish.Publisher.
type Publisher interface {
	Publish(ctx context.Context, target registry.Target, res probe.Result) error
}

// Deps wires one scheduler instance.
type Deps struct {
	Targets   registry.Store
	Prober    probe.Prober
	Publisher Publisher

	Interval       time.Duration
	Workers        int
	PublishRetries int
	PublishBackoff time.Duration
}

// Scheduler drives probe rounds on a fixed tick. Probes for distinct
// targets run concurrently under a bounded worker pool; each probe is
// bounded by its own timeout so a hanging target cannot stall a round.
type Scheduler struct {
	deps Deps

	// sleepFn is overridable in tests
	sleepFn func(context.Context, time.Duration)
}

func New(deps Deps) *Scheduler {
	if deps.Interval <= 0 {
		deps.Interval = 5 * time.Minute
	}
	if deps.Workers < 1 {
		deps.Workers = 1
	}
	if deps.PublishRetries < 1 {
		deps.PublishRetries = 1
	}
	if deps.PublishBackoff <= 0 {
		deps.PublishBackoff = 2 * time.Second
	}
	return &Scheduler{deps: deps, sleepFn: sleepCtx}
}

// Run blocks until ctx is cancelled. A round in progress lets its in-flight
// probes finish or hit their timeouts before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.deps.Interval)
	defer t.Stop()
	// one round immediately on startup
	s.RunRound(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.RunRound(ctx)
		}
	}
}

// RunRound probes every enabled target once. Failures are scoped to one
// target; a degraded round is logged, never fatal.
func (s *Scheduler) RunRound(ctx context.Context) {
	targets, err := s.deps.Targets.ListEnabled(ctx)
	if err != nil {
		log.Error().Err(err).Msg("probe round: listing enabled targets failed")
		return
	}
	if len(targets) == 0 {
		return
	}

	start := time.Now()
	sem := make(chan struct{}, s.deps.Workers)
	var wg sync.WaitGroup
	var degraded int64
	var mu sync.Mutex

	for _, target := range targets {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(t registry.Target) {
			defer wg.Done()
			defer func() { <-sem }()
			if !s.probeAndPublish(ctx, t) {
				mu.Lock()
				degraded++
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	log.Info().
		Int("targets", len(targets)).
		Int64("degraded", degraded).
		Dur("elapsed", time.Since(start)).
		Msg("probe round completed")
}

func (s *Scheduler) probeAndPublish(ctx context.Context, target registry.Target) bool {
	res := s.deps.Prober.Probe(ctx, target)
	log.Debug().
		Str("target", target.Name).
		Str("status", string(res.Status)).
		Float64("latency_ms", res.LatencyMS).
		Msg("probe finished")

	// capped retry with backoff for transient store errors
	backoff := s.deps.PublishBackoff
	var err error
	for attempt := 1; attempt <= s.deps.PublishRetries; attempt++ {
		if err = s.deps.Publisher.Publish(ctx, target, res); err == nil {
			return true
		}
		if attempt == s.deps.PublishRetries || ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Str("target", target.Name).Int("attempt", attempt).Msg("publish failed, retrying")
		s.sleepFn(ctx, backoff)
		backoff *= 2
	}
	log.Error().Err(err).Str("target", target.Name).Msg("publish failed, giving up")
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
