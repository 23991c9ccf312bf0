package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webcanary/webcanary/internal/database"
	"github.com/webcanary/webcanary/internal/registry"
)

// Poller reads unconsumed change events from the outbox table in sequence
// order and feeds them to the dispatcher. Events are marked consumed only
// after a successful apply, so a crash or a failed apply leads to
// redelivery, never loss.
type Poller struct {
	DB         *database.DB
	Dispatcher *Dispatcher
	Batch      int
	Interval   time.Duration
}

func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batch := p.Batch
	if batch <= 0 {
		batch = 200
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.runOnce(ctx, batch); err != nil {
				log.Error().Err(err).Msg("change feed poll failed")
			}
		}
	}
}

func (p *Poller) runOnce(ctx context.Context, batch int) error {
	events, err := p.queryPending(ctx, batch)
	if err != nil {
		return err
	}
	for _, ev := range events {
		seq := ev.Seq
		if err := p.Dispatcher.Enqueue(ctx, ev, func(ackCtx context.Context) {
			p.markConsumed(ackCtx, seq)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) queryPending(ctx context.Context, limit int) ([]registry.TargetChangeEvent, error) {
	// only the earliest pending event per target is eligible: a later event
	// must never be dispatched while an earlier one for the same target is
	// still unconsumed, or a failed apply would be redelivered after its
	// successor and resurrect stale derived state
	const q = `SELECT seq, kind, snapshot FROM (
		SELECT DISTINCT ON (target_id) seq, kind, snapshot
		FROM target_change_events
		WHERE consumed_at IS NULL
		ORDER BY target_id, seq ASC
	) pending
	ORDER BY seq ASC
	LIMIT $1`
	rows, err := p.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]registry.TargetChangeEvent, 0, limit)
	for rows.Next() {
		var ev registry.TargetChangeEvent
		var kind, snapshot string
		if err := rows.Scan(&ev.Seq, &kind, &snapshot); err != nil {
			return nil, err
		}
		ev.Kind = registry.ChangeKind(kind)
		if err := json.Unmarshal([]byte(snapshot), &ev.Target); err != nil {
			log.Warn().Err(err).Int64("seq", ev.Seq).Msg("skipping undecodable change event")
			p.markConsumed(ctx, ev.Seq)
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Poller) markConsumed(ctx context.Context, seq int64) {
	const q = `UPDATE target_change_events SET consumed_at = NOW() WHERE seq = $1`
	if _, err := p.DB.ExecContext(ctx, q, seq); err != nil {
		// redelivery on the next poll is safe, apply is idempotent
		log.Warn().Err(err).Int64("seq", seq).Msg("mark change event consumed failed")
	}
}
