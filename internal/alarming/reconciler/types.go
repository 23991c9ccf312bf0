package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/webcanary/webcanary/internal/registry"
)

// Signal is one of the derived health signals a target is alerted on.
type Signal string

const (
	SignalAvailability Signal = "Availability"
	SignalLatency      Signal = "Latency"
	SignalThroughput   Signal = "Throughput"
)

// Signals lists every signal an enabled target must have an alarm for.
func Signals() []Signal {
	return []Signal{SignalAvailability, SignalLatency, SignalThroughput}
}

// CompareKind tags a Comparison variant.
type CompareKind string

const (
	CompareStatic   CompareKind = "Static"
	CompareAdaptive CompareKind = "Adaptive"
)

// Comparison is the tagged threshold mode of an alarm definition: a static
// threshold with an operator, or an adaptive baseline band sized by a
// deviation factor.
type Comparison struct {
	Kind CompareKind `json:"kind"`
	// Static
	Op        string  `json:"op,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	// Adaptive
	DeviationFactor float64 `json:"deviation_factor,omitempty"`
}

// MissingDataPolicy states how the evaluator treats absent datapoints.
type MissingDataPolicy string

const (
	MissingBreaching    MissingDataPolicy = "breaching"
	MissingNotBreaching MissingDataPolicy = "notBreaching"
)

// AlarmDefinition is the persistent rule evaluating one (target, signal)
// series. Name is deterministic from target id and signal so creates and
// deletes are safe to retry.
type AlarmDefinition struct {
	Name              string
	TargetID          string
	TargetName        string
	Signal            Signal
	Namespace         string
	EvalWindow        time.Duration
	EvaluationPeriods int
	DatapointsToAlarm int
	Comparison        Comparison
	TreatMissing      MissingDataPolicy
}

// AlarmStore holds alarm definitions in the external metrics store.
// DeleteAlarm of an absent name is a no-op success.
type AlarmStore interface {
	PutAlarm(ctx context.Context, def *AlarmDefinition) error
	HasAlarm(ctx context.Context, name string) (bool, error)
	DeleteAlarm(ctx context.Context, name string) error
	ListForTarget(ctx context.Context, targetID string) ([]AlarmDefinition, error)
}

// Dashboard manages the shared dashboard's per-target series. Register is
// an idempotent upsert keyed by target id, refreshing the display name on
// rename; Remove of an absent target is a no-op success.
type Dashboard interface {
	RegisterSeries(ctx context.Context, targetID, targetName string) error
	RemoveSeries(ctx context.Context, targetID string) error
}

const alarmNameSuffix = "-Alarm"

// AlarmName derives the deterministic definition name for a target/signal
// pair, e.g. "t1-Availability-Alarm".
func AlarmName(targetID string, signal Signal) string {
	return fmt.Sprintf("%s-%s%s", targetID, signal, alarmNameSuffix)
}

// ParseAlarmName recovers the target id and signal from a definition name.
func ParseAlarmName(name string) (targetID string, signal Signal, err error) {
	base, ok := strings.CutSuffix(name, alarmNameSuffix)
	if !ok {
		return "", "", fmt.Errorf("not an alarm name: %s", name)
	}
	for _, s := range Signals() {
		if id, ok := strings.CutSuffix(base, "-"+string(s)); ok {
			return id, s, nil
		}
	}
	return "", "", fmt.Errorf("no signal in alarm name: %s", name)
}

// Defaults are the per-deployment alarm parameters applied to every target.
type Defaults struct {
	Namespace             string
	EvalWindow            time.Duration
	AvailabilityThreshold float64
	AvailabilityPeriods   int
	AvailabilityBreaches  int
	AdaptivePeriods       int
	AdaptiveBreaches      int
	DeviationFactor       float64
}

// Definition computes the desired alarm for a target/signal pair.
// Availability uses a static less-than threshold with missing data counted
// as breaching; latency and throughput use an adaptive baseline.
func (d Defaults) Definition(t registry.Target, signal Signal) AlarmDefinition {
	def := AlarmDefinition{
		Name:       AlarmName(t.ID, signal),
		TargetID:   t.ID,
		TargetName: t.Name,
		Signal:     signal,
		Namespace:  d.Namespace,
		EvalWindow: d.EvalWindow,
	}
	if signal == SignalAvailability {
		def.EvaluationPeriods = d.AvailabilityPeriods
		def.DatapointsToAlarm = d.AvailabilityBreaches
		def.Comparison = Comparison{Kind: CompareStatic, Op: "<", Threshold: d.AvailabilityThreshold}
		def.TreatMissing = MissingBreaching
		return def
	}
	def.EvaluationPeriods = d.AdaptivePeriods
	def.DatapointsToAlarm = d.AdaptiveBreaches
	def.Comparison = Comparison{Kind: CompareAdaptive, DeviationFactor: d.DeviationFactor}
	def.TreatMissing = MissingNotBreaching
	return def
}
