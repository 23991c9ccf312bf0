package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/webcanary/webcanary/internal/monitoring/probe"
	"github.com/webcanary/webcanary/internal/registry"
)

// Metric names emitted for every probed target.
const (
	MetricAvailability = "Availability"
	MetricLatency      = "Latency"
	MetricThroughput   = "Throughput"
)

// Point is one append-only sample in the metrics store. Dimension is the
// target's display name, so renaming a target moves its series.
type Point struct {
	Namespace string
	Metric    string
	Dimension string
	Value     float64
	Timestamp time.Time
}

// Store accepts metric points. Implementations are shared and safe for
// concurrent writers.
type Store interface {
	Put(ctx context.Context, points []Point) error
}

// Publisher converts probe results into metric points:
// Availability is always written (1 for 2xx, 0 otherwise), Latency only when
// measured, Throughput always (0 when underivable) so alerting stays
// continuous. All points of one result share the probe timestamp.
type Publisher struct {
	store     Store
	namespace string
}

func NewPublisher(store Store, namespace string) *Publisher {
	return &Publisher{store: store, namespace: namespace}
}

func (p *Publisher) Publish(ctx context.Context, target registry.Target, res probe.Result) error {
	points := p.Points(target, res)
	if err := p.store.Put(ctx, points); err != nil {
		return fmt.Errorf("publish metrics for %s: %w", target.Name, err)
	}
	return nil
}

// Points maps a probe result to the metric points that describe it.
func (p *Publisher) Points(target registry.Target, res probe.Result) []Point {
	availability := 0.0
	if res.Status == probe.StatusSuccess {
		availability = 1.0
	}
	points := []Point{
		{Namespace: p.namespace, Metric: MetricAvailability, Dimension: target.Name, Value: availability, Timestamp: res.Timestamp},
	}
	if res.HasLatency {
		points = append(points, Point{Namespace: p.namespace, Metric: MetricLatency, Dimension: target.Name, Value: res.LatencyMS, Timestamp: res.Timestamp})
	}
	points = append(points, Point{Namespace: p.namespace, Metric: MetricThroughput, Dimension: target.Name, Value: res.ThroughputBPS(), Timestamp: res.Timestamp})
	return points
}
