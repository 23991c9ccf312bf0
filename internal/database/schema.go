package database

import "context"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS targets (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		url        TEXT NOT NULL,
		enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS target_change_events (
		seq         BIGSERIAL PRIMARY KEY,
		target_id   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		snapshot    JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		consumed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_target_change_events_pending
		ON target_change_events (seq) WHERE consumed_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS alarm_definitions (
		name                TEXT PRIMARY KEY,
		target_id           TEXT NOT NULL,
		target_name         TEXT NOT NULL,
		signal              TEXT NOT NULL,
		namespace           TEXT NOT NULL,
		eval_window         INTERVAL NOT NULL,
		evaluation_periods  INT NOT NULL,
		datapoints_to_alarm INT NOT NULL,
		comparison          JSONB NOT NULL,
		treat_missing       TEXT NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS dashboard_series (
		target_id     TEXT PRIMARY KEY,
		target_name   TEXT NOT NULL,
		dashboard     TEXT NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS alarm_audit_log (
		identity   TEXT PRIMARY KEY,
		alarm_id   TEXT NOT NULL,
		target_id  TEXT NOT NULL,
		signal     TEXT NOT NULL,
		new_state  TEXT NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL,
		payload    JSONB NOT NULL,
		logged_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables this service owns if they do not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
