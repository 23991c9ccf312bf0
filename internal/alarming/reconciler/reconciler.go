package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/webcanary/webcanary/internal/registry"
)

// Reconciler converges the alarm definitions and dashboard series derived
// from the target registry. Apply is idempotent: desired state is computed
// from the event's snapshot alone and resources are addressed by
// deterministic names, so duplicate or replayed events converge to the same
// derived set.
type Reconciler struct {
	store     AlarmStore
	dashboard Dashboard
	defaults  Defaults
}

func New(store AlarmStore, dashboard Dashboard, defaults Defaults) *Reconciler {
	return &Reconciler{store: store, dashboard: dashboard, defaults: defaults}
}

// ApplyError reports an event that was only partially applied. The event is
// safe to redeliver; already-converged signals become no-ops.
type ApplyError struct {
	TargetID string
	Signals  map[Signal]error
}

func (e *ApplyError) Error() string {
	parts := make([]string, 0, len(e.Signals))
	for s, err := range e.Signals {
		parts = append(parts, fmt.Sprintf("%s: %v", s, err))
	}
	return fmt.Sprintf("partially applied for target %s: %s", e.TargetID, strings.Join(parts, "; "))
}

func (e *ApplyError) Unwrap() []error {
	errs := make([]error, 0, len(e.Signals))
	for _, err := range e.Signals {
		errs = append(errs, err)
	}
	return errs
}

// Apply reconciles one change feed event. Each signal is attempted
// independently; a partial failure never aborts the remaining signals.
func (r *Reconciler) Apply(ctx context.Context, ev registry.TargetChangeEvent) error {
	target := ev.Target
	wantAlarms := ev.Kind != registry.ChangeDeleted && target.Enabled

	log.Debug().
		Str("target", target.ID).
		Str("kind", string(ev.Kind)).
		Bool("enabled", wantAlarms).
		Int64("seq", ev.Seq).
		Msg("reconciling target")

	if wantAlarms {
		return r.ensureAlarms(ctx, target)
	}
	return r.removeAlarms(ctx, target)
}

func (r *Reconciler) ensureAlarms(ctx context.Context, target registry.Target) error {
	failed := map[Signal]error{}
	for _, signal := range Signals() {
		name := AlarmName(target.ID, signal)
		exists, err := r.store.HasAlarm(ctx, name)
		if err != nil {
			failed[signal] = fmt.Errorf("check alarm %s: %w", name, err)
			continue
		}
		if exists {
			continue
		}
		def := r.defaults.Definition(target, signal)
		if err := r.store.PutAlarm(ctx, &def); err != nil {
			failed[signal] = fmt.Errorf("create alarm %s: %w", name, err)
			continue
		}
		log.Info().Str("alarm", name).Str("target", target.Name).Msg("created alarm definition")
	}
	if err := r.dashboard.RegisterSeries(ctx, target.ID, target.Name); err != nil {
		// dashboard registration shares the availability slot for reporting
		failed[SignalAvailability] = errors.Join(failed[SignalAvailability], fmt.Errorf("register dashboard series: %w", err))
	}
	if len(failed) > 0 {
		return &ApplyError{TargetID: target.ID, Signals: failed}
	}
	return nil
}

func (r *Reconciler) removeAlarms(ctx context.Context, target registry.Target) error {
	failed := map[Signal]error{}
	for _, signal := range Signals() {
		name := AlarmName(target.ID, signal)
		if err := r.store.DeleteAlarm(ctx, name); err != nil {
			failed[signal] = fmt.Errorf("delete alarm %s: %w", name, err)
			continue
		}
	}
	if err := r.dashboard.RemoveSeries(ctx, target.ID); err != nil {
		failed[SignalAvailability] = errors.Join(failed[SignalAvailability], fmt.Errorf("remove dashboard series: %w", err))
	}
	if len(failed) > 0 {
		return &ApplyError{TargetID: target.ID, Signals: failed}
	}
	log.Info().Str("target", target.ID).Msg("alarm definitions removed")
	return nil
}
