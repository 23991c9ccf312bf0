package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/webcanary/webcanary/internal/registry"
)

type memAlarmStore struct {
	mu     sync.Mutex
	alarms map[string]AlarmDefinition

	puts    int
	deletes int
	putErr  error
}

func newMemAlarmStore() *memAlarmStore {
	return &memAlarmStore{alarms: map[string]AlarmDefinition{}}
}

func (m *memAlarmStore) PutAlarm(ctx context.Context, def *AlarmDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.alarms[def.Name] = *def
	return nil
}

func (m *memAlarmStore) HasAlarm(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.alarms[name]
	return ok, nil
}

func (m *memAlarmStore) DeleteAlarm(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.alarms, name)
	return nil
}

func (m *memAlarmStore) ListForTarget(ctx context.Context, targetID string) ([]AlarmDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AlarmDefinition
	for _, def := range m.alarms {
		if def.TargetID == targetID {
			out = append(out, def)
		}
	}
	return out, nil
}

func (m *memAlarmStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alarms)
}

type memDashboard struct {
	mu     sync.Mutex
	series map[string]string
}

func newMemDashboard() *memDashboard {
	return &memDashboard{series: map[string]string{}}
}

func (m *memDashboard) RegisterSeries(ctx context.Context, targetID, targetName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[targetID] = targetName
	return nil
}

func (m *memDashboard) RemoveSeries(ctx context.Context, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.series, targetID)
	return nil
}

func testDefaults() Defaults {
	return Defaults{
		Namespace:             "WebMonitoring/Health",
		EvalWindow:            5 * time.Minute,
		AvailabilityThreshold: 1.0,
		AvailabilityPeriods:   2,
		AvailabilityBreaches:  2,
		AdaptivePeriods:       3,
		AdaptiveBreaches:      2,
		DeviationFactor:       2,
	}
}

func createdEvent(t registry.Target) registry.TargetChangeEvent {
	return registry.TargetChangeEvent{Kind: registry.ChangeCreated, Target: t}
}

func deletedEvent(t registry.Target) registry.TargetChangeEvent {
	return registry.TargetChangeEvent{Kind: registry.ChangeDeleted, Target: t}
}

func TestApplyCreateMakesThreeAlarms(t *testing.T) {
	store := newMemAlarmStore()
	dash := newMemDashboard()
	r := New(store, dash, testDefaults())
	target := registry.Target{ID: "t1", Name: "Example", URL: "https://example.com", Enabled: true}

	if err := r.Apply(context.Background(), createdEvent(target)); err != nil {
		t.Fatal(err)
	}

	for _, signal := range Signals() {
		def, ok := store.alarms[AlarmName("t1", signal)]
		if !ok {
			t.Fatalf("alarm for %s missing", signal)
		}
		if def.Namespace != "WebMonitoring/Health" || def.TargetName != "Example" {
			t.Errorf("%s: bad definition %+v", signal, def)
		}
		switch signal {
		case SignalAvailability:
			if def.Comparison.Kind != CompareStatic || def.Comparison.Op != "<" || def.Comparison.Threshold != 1.0 {
				t.Errorf("availability comparison = %+v", def.Comparison)
			}
			if def.TreatMissing != MissingBreaching || def.EvaluationPeriods != 2 || def.DatapointsToAlarm != 2 {
				t.Errorf("availability policy = %+v", def)
			}
		default:
			if def.Comparison.Kind != CompareAdaptive || def.Comparison.DeviationFactor != 2 {
				t.Errorf("%s comparison = %+v", signal, def.Comparison)
			}
			if def.TreatMissing != MissingNotBreaching || def.EvaluationPeriods != 3 || def.DatapointsToAlarm != 2 {
				t.Errorf("%s policy = %+v", signal, def)
			}
		}
	}
	if dash.series["t1"] != "Example" {
		t.Errorf("dashboard series = %v", dash.series)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	store := newMemAlarmStore()
	r := New(store, newMemDashboard(), testDefaults())
	target := registry.Target{ID: "t1", Name: "Example", Enabled: true}

	ev := createdEvent(target)
	if err := r.Apply(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if store.count() != 3 {
		t.Errorf("alarm count = %d, want 3", store.count())
	}
	if store.puts != 3 {
		t.Errorf("put calls = %d, want 3 (replay must not recreate)", store.puts)
	}
}

func TestApplyDisabledRemovesOnlyOwnAlarms(t *testing.T) {
	store := newMemAlarmStore()
	dash := newMemDashboard()
	r := New(store, dash, testDefaults())
	ctx := context.Background()

	t1 := registry.Target{ID: "t1", Name: "One", Enabled: true}
	t2 := registry.Target{ID: "t2", Name: "Two", Enabled: true}
	if err := r.Apply(ctx, createdEvent(t1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(ctx, createdEvent(t2)); err != nil {
		t.Fatal(err)
	}

	t1.Enabled = false
	if err := r.Apply(ctx, registry.TargetChangeEvent{Kind: registry.ChangeUpdated, Target: t1}); err != nil {
		t.Fatal(err)
	}

	if store.count() != 3 {
		t.Errorf("alarm count = %d, want 3", store.count())
	}
	for _, signal := range Signals() {
		if _, ok := store.alarms[AlarmName("t1", signal)]; ok {
			t.Errorf("alarm %s survived disable", AlarmName("t1", signal))
		}
		if _, ok := store.alarms[AlarmName("t2", signal)]; !ok {
			t.Errorf("alarm %s for the other target was removed", AlarmName("t2", signal))
		}
	}
	if _, ok := dash.series["t1"]; ok {
		t.Error("dashboard series for disabled target survived")
	}
	if _, ok := dash.series["t2"]; !ok {
		t.Error("dashboard series for unrelated target removed")
	}
}

func TestApplyConvergesRegardlessOfDuplicatesPerTarget(t *testing.T) {
	// a created and a deleted event for the same target, each delivered
	// twice: as long as the last event per target is the delete, the
	// derived state ends empty.
	store := newMemAlarmStore()
	dash := newMemDashboard()
	r := New(store, dash, testDefaults())
	ctx := context.Background()
	target := registry.Target{ID: "t1", Name: "Example", Enabled: true}

	events := []registry.TargetChangeEvent{
		createdEvent(target),
		createdEvent(target),
		deletedEvent(target),
		deletedEvent(target),
	}
	for _, ev := range events {
		if err := r.Apply(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	if store.count() != 0 {
		t.Errorf("alarm count = %d, want 0", store.count())
	}
	if len(dash.series) != 0 {
		t.Errorf("dashboard series = %v, want none", dash.series)
	}
}

func TestApplyRenameOnlyIssuesNoAlarmCalls(t *testing.T) {
	store := newMemAlarmStore()
	dash := newMemDashboard()
	r := New(store, dash, testDefaults())
	ctx := context.Background()
	target := registry.Target{ID: "t1", Name: "Old", Enabled: true}

	if err := r.Apply(ctx, createdEvent(target)); err != nil {
		t.Fatal(err)
	}
	putsBefore, deletesBefore := store.puts, store.deletes

	target.Name = "New"
	if err := r.Apply(ctx, registry.TargetChangeEvent{Kind: registry.ChangeUpdated, Target: target}); err != nil {
		t.Fatal(err)
	}

	if store.puts != putsBefore || store.deletes != deletesBefore {
		t.Errorf("rename caused alarm mutations: puts %d->%d deletes %d->%d",
			putsBefore, store.puts, deletesBefore, store.deletes)
	}
	if dash.series["t1"] != "New" {
		t.Errorf("dashboard name after rename = %q, want New", dash.series["t1"])
	}
}

func TestApplyPartialFailureIsReportedAndRetryable(t *testing.T) {
	store := newMemAlarmStore()
	store.putErr = errors.New("store down")
	r := New(store, newMemDashboard(), testDefaults())
	ctx := context.Background()
	ev := createdEvent(registry.Target{ID: "t1", Name: "Example", Enabled: true})

	err := r.Apply(ctx, ev)
	var applyErr *ApplyError
	if !errors.As(err, &applyErr) {
		t.Fatalf("err = %v, want *ApplyError", err)
	}
	if len(applyErr.Signals) != 3 {
		t.Errorf("failed signals = %v", applyErr.Signals)
	}

	// store recovers, redelivery converges
	store.putErr = nil
	if err := r.Apply(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if store.count() != 3 {
		t.Errorf("alarm count after retry = %d, want 3", store.count())
	}
}

func TestAlarmNameRoundTrip(t *testing.T) {
	for _, signal := range Signals() {
		name := AlarmName("550e8400-e29b-41d4-a716-446655440000", signal)
		id, got, err := ParseAlarmName(name)
		if err != nil {
			t.Fatalf("ParseAlarmName(%q): %v", name, err)
		}
		if id != "550e8400-e29b-41d4-a716-446655440000" || got != signal {
			t.Errorf("ParseAlarmName(%q) = (%s, %s)", name, id, got)
		}
	}
	if _, _, err := ParseAlarmName("not-an-alarm"); err == nil {
		t.Error("expected error for malformed name")
	}
}
