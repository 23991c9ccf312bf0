package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/webcanary/webcanary/internal/database"
)

// PgAlarmStore persists alarm definitions keyed by their deterministic
// name. Put is an upsert and Delete of an absent row succeeds, which keeps
// reconciliation retryable after a crash.
type PgAlarmStore struct {
	DB *database.DB
}

func NewPgAlarmStore(db *database.DB) *PgAlarmStore { return &PgAlarmStore{DB: db} }

func (s *PgAlarmStore) PutAlarm(ctx context.Context, def *AlarmDefinition) error {
	comparison, err := json.Marshal(def.Comparison)
	if err != nil {
		return fmt.Errorf("marshal comparison: %w", err)
	}
	const q = `
	INSERT INTO alarm_definitions
		(name, target_id, target_name, signal, namespace, eval_window, evaluation_periods, datapoints_to_alarm, comparison, treat_missing)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
	ON CONFLICT (name) DO UPDATE SET
		target_name = EXCLUDED.target_name,
		eval_window = EXCLUDED.eval_window,
		evaluation_periods = EXCLUDED.evaluation_periods,
		datapoints_to_alarm = EXCLUDED.datapoints_to_alarm,
		comparison = EXCLUDED.comparison,
		treat_missing = EXCLUDED.treat_missing,
		updated_at = now()
	`
	_, err = s.DB.ExecContext(ctx, q,
		def.Name, def.TargetID, def.TargetName, string(def.Signal), def.Namespace,
		durationToPgInterval(def.EvalWindow), def.EvaluationPeriods, def.DatapointsToAlarm,
		string(comparison), string(def.TreatMissing))
	if err != nil {
		return fmt.Errorf("put alarm: %w", err)
	}
	return nil
}

func (s *PgAlarmStore) HasAlarm(ctx context.Context, name string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM alarm_definitions WHERE name = $1`, name)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check alarm: %w", err)
	}
	return true, nil
}

func (s *PgAlarmStore) DeleteAlarm(ctx context.Context, name string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM alarm_definitions WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete alarm: %w", err)
	}
	return nil
}

func (s *PgAlarmStore) ListForTarget(ctx context.Context, targetID string) ([]AlarmDefinition, error) {
	const q = `
	SELECT name, target_id, target_name, signal, namespace, eval_window, evaluation_periods, datapoints_to_alarm, comparison, treat_missing
	FROM alarm_definitions WHERE target_id = $1 ORDER BY name
	`
	rows, err := s.DB.QueryContext(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()
	var out []AlarmDefinition
	for rows.Next() {
		var def AlarmDefinition
		var interval pgtype.Interval
		var comparison, signal, missing string
		if err := rows.Scan(&def.Name, &def.TargetID, &def.TargetName, &signal, &def.Namespace,
			&interval, &def.EvaluationPeriods, &def.DatapointsToAlarm, &comparison, &missing); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		def.Signal = Signal(signal)
		def.TreatMissing = MissingDataPolicy(missing)
		if d, err := pgIntervalToDuration(interval); err == nil {
			def.EvalWindow = d
		}
		if err := json.Unmarshal([]byte(comparison), &def.Comparison); err != nil {
			return nil, fmt.Errorf("unmarshal comparison: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// PgDashboard records the per-target series of one named dashboard. Remove
// also drops the target's live series from the metric store when one is
// attached.
type PgDashboard struct {
	DB     *database.DB
	Series SeriesRemover
	Name   string
}

// SeriesRemover detaches a dimension's live series, satisfied by the
// publish metric store.
type SeriesRemover interface {
	RemoveSeries(dimension string)
}

func NewPgDashboard(db *database.DB, series SeriesRemover, name string) *PgDashboard {
	return &PgDashboard{DB: db, Series: series, Name: name}
}

func (d *PgDashboard) RegisterSeries(ctx context.Context, targetID, targetName string) error {
	row := d.DB.QueryRowContext(ctx, `SELECT target_name FROM dashboard_series WHERE target_id = $1`, targetID)
	var current string
	err := row.Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		// first registration
	case err != nil:
		return fmt.Errorf("lookup dashboard series: %w", err)
	case current == targetName:
		return nil
	default:
		// renamed: the live series moves to the new dimension
		if d.Series != nil {
			d.Series.RemoveSeries(current)
		}
	}
	const q = `INSERT INTO dashboard_series (target_id, target_name, dashboard)
	           VALUES ($1, $2, $3)
	           ON CONFLICT (target_id) DO UPDATE SET target_name = EXCLUDED.target_name`
	if _, err := d.DB.ExecContext(ctx, q, targetID, targetName, d.Name); err != nil {
		return fmt.Errorf("register dashboard series: %w", err)
	}
	return nil
}

func (d *PgDashboard) RemoveSeries(ctx context.Context, targetID string) error {
	row := d.DB.QueryRowContext(ctx, `SELECT target_name FROM dashboard_series WHERE target_id = $1`, targetID)
	var name string
	if err := row.Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("lookup dashboard series: %w", err)
	}
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM dashboard_series WHERE target_id = $1`, targetID); err != nil {
		return fmt.Errorf("remove dashboard series: %w", err)
	}
	if d.Series != nil {
		d.Series.RemoveSeries(name)
	}
	return nil
}

// durationToPgInterval converts a duration into the pgtype representation
// used for the eval_window column. Whole days are carried in the Days field.
func durationToPgInterval(d time.Duration) pgtype.Interval {
	days := int32(d / (24 * time.Hour))
	rem := d % (24 * time.Hour)
	return pgtype.Interval{
		Microseconds: rem.Microseconds(),
		Days:         days,
		Valid:        true,
	}
}

func pgIntervalToDuration(iv pgtype.Interval) (time.Duration, error) {
	if !iv.Valid {
		return 0, fmt.Errorf("invalid interval")
	}
	if iv.Months != 0 {
		return 0, fmt.Errorf("interval with months is not representable as a duration")
	}
	return time.Duration(iv.Days)*24*time.Hour + time.Duration(iv.Microseconds)*time.Microsecond, nil
}
