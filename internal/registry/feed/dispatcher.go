package feed

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/webcanary/webcanary/internal/registry"
)

// Handler applies one change feed event. Implementations must be idempotent
// because the feed is at-least-once.
type Handler interface {
	Apply(ctx context.Context, ev registry.TargetChangeEvent) error
}

type envelope struct {
	ev  registry.TargetChangeEvent
	ack func(ctx context.Context)
}

// Dispatcher fans change events out to shard workers. Events for one target
// id always land on the same shard, so per-target delivery order is
// preserved while distinct targets reconcile concurrently. When an apply
// fails, later events for that target are held back until the failed
// sequence is redelivered and applied; advancing past a failed event would
// let a stale redelivery overwrite newer derived state.
type Dispatcher struct {
	handler Handler
	shards  []chan envelope
	wg      sync.WaitGroup

	mu      sync.Mutex
	stalled map[string]int64

	closeOnce sync.Once
}

func NewDispatcher(handler Handler, shards, buffer int) *Dispatcher {
	if shards < 1 {
		shards = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	d := &Dispatcher{handler: handler, stalled: map[string]int64{}}
	d.shards = make([]chan envelope, shards)
	for i := range d.shards {
		d.shards[i] = make(chan envelope, buffer)
	}
	return d
}

// Start launches one worker per shard. Workers drain their shard fully
// before exiting, so events already enqueued are still applied during
// shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := range d.shards {
		d.wg.Add(1)
		go d.worker(ctx, d.shards[i])
	}
}

func (d *Dispatcher) worker(ctx context.Context, ch <-chan envelope) {
	defer d.wg.Done()
	for env := range ch {
		if stalledSeq, ok := d.stalledAt(env.ev.Target.ID); ok && env.ev.Seq > stalledSeq {
			// an earlier event for this target has not applied yet; leave
			// this one unacked so redelivery replays it in order
			log.Warn().
				Str("target", env.ev.Target.ID).
				Int64("seq", env.ev.Seq).
				Int64("stalled_seq", stalledSeq).
				Msg("holding change event behind a failed earlier event")
			continue
		}
		if err := d.handler.Apply(ctx, env.ev); err != nil {
			// left unacked: the feed redelivers and Apply is idempotent
			d.stall(env.ev.Target.ID, env.ev.Seq)
			log.Error().Err(err).
				Str("target", env.ev.Target.ID).
				Int64("seq", env.ev.Seq).
				Msg("reconcile apply failed")
			continue
		}
		d.clearStall(env.ev.Target.ID, env.ev.Seq)
		if env.ack != nil {
			env.ack(ctx)
		}
	}
}

func (d *Dispatcher) stalledAt(targetID string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seq, ok := d.stalled[targetID]
	return seq, ok
}

func (d *Dispatcher) stall(targetID string, seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.stalled[targetID]; !ok || seq < cur {
		d.stalled[targetID] = seq
	}
}

func (d *Dispatcher) clearStall(targetID string, seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.stalled[targetID]; ok && cur <= seq {
		delete(d.stalled, targetID)
	}
}

// Enqueue hands an event to its target's shard, blocking while the shard is
// full. ack runs after the event was applied successfully.
func (d *Dispatcher) Enqueue(ctx context.Context, ev registry.TargetChangeEvent, ack func(ctx context.Context)) error {
	shard := d.shards[shardFor(ev.Target.ID, len(d.shards))]
	select {
	case <-ctx.Done():
		return ctx.Err()
	case shard <- envelope{ev: ev, ack: ack}:
		return nil
	}
}

// Close stops accepting events and waits for the shard workers to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		for _, ch := range d.shards {
			close(ch)
		}
	})
	d.wg.Wait()
}

func shardFor(targetID string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(targetID))
	return int(h.Sum32() % uint32(shards))
}
