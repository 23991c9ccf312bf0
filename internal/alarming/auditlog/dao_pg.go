package auditlog

import (
	"context"
	"fmt"

	"github.com/webcanary/webcanary/internal/database"
)

// PgDAO appends audit entries keyed by their identity; a duplicate identity
// is absorbed by the conflict clause instead of creating a second row.
type PgDAO struct {
	DB *database.DB
}

func NewPgDAO(db *database.DB) *PgDAO { return &PgDAO{DB: db} }

func (d *PgDAO) Insert(ctx context.Context, e *Entry) error {
	const q = `
	INSERT INTO alarm_audit_log (identity, alarm_id, target_id, signal, new_state, changed_at, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	ON CONFLICT (identity) DO NOTHING
	`
	_, err := d.DB.ExecContext(ctx, q,
		e.Identity, e.AlarmID, e.TargetID, string(e.Signal), string(e.NewState), e.ChangedAt, string(e.Payload))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
