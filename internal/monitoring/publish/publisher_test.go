package publish

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/webcanary/webcanary/internal/monitoring/probe"
	"github.com/webcanary/webcanary/internal/registry"
)

type memStore struct {
	puts [][]Point
	err  error
}

func (m *memStore) Put(ctx context.Context, points []Point) error {
	if m.err != nil {
		return m.err
	}
	m.puts = append(m.puts, points)
	return nil
}

func pointFor(t *testing.T, points []Point, metric string) (Point, bool) {
	t.Helper()
	for _, p := range points {
		if p.Metric == metric {
			return p, true
		}
	}
	return Point{}, false
}

func TestPointsSuccess(t *testing.T) {
	ts := time.Now().UTC()
	pub := NewPublisher(&memStore{}, "WebMonitoring/Health")
	target := registry.Target{ID: "t1", Name: "Example"}
	res := probe.Result{
		TargetID:      "t1",
		Timestamp:     ts,
		Status:        probe.StatusSuccess,
		HTTPCode:      200,
		LatencyMS:     120,
		HasLatency:    true,
		ResponseBytes: 4096,
		HasBytes:      true,
	}

	points := pub.Points(target, res)
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}

	avail, ok := pointFor(t, points, MetricAvailability)
	if !ok || avail.Value != 1 {
		t.Errorf("availability = %v (ok=%v), want 1", avail.Value, ok)
	}
	lat, ok := pointFor(t, points, MetricLatency)
	if !ok || lat.Value != 120 {
		t.Errorf("latency = %v (ok=%v), want 120", lat.Value, ok)
	}
	tp, ok := pointFor(t, points, MetricThroughput)
	if !ok || math.Abs(tp.Value-34133.33) > 0.01 {
		t.Errorf("throughput = %v (ok=%v), want 34133.33", tp.Value, ok)
	}
	for _, p := range points {
		if p.Dimension != "Example" {
			t.Errorf("dimension = %q, want Example", p.Dimension)
		}
		if !p.Timestamp.Equal(ts) {
			t.Errorf("timestamp = %v, want %v", p.Timestamp, ts)
		}
		if p.Namespace != "WebMonitoring/Health" {
			t.Errorf("namespace = %q", p.Namespace)
		}
	}
}

func TestPointsHTTPErrorAvailabilityZero(t *testing.T) {
	pub := NewPublisher(&memStore{}, "WebMonitoring/Health")
	res := probe.Result{
		Status:        probe.StatusHTTPError,
		HTTPCode:      500,
		LatencyMS:     80,
		HasLatency:    true,
		ResponseBytes: 512,
		HasBytes:      true,
	}

	points := pub.Points(registry.Target{Name: "Example"}, res)
	avail, _ := pointFor(t, points, MetricAvailability)
	if avail.Value != 0 {
		t.Errorf("availability = %v, want 0", avail.Value)
	}
	if _, ok := pointFor(t, points, MetricLatency); !ok {
		t.Error("latency point missing for a completed response")
	}
}

func TestPointsTimeoutOmitsLatency(t *testing.T) {
	pub := NewPublisher(&memStore{}, "WebMonitoring/Health")
	res := probe.Result{Status: probe.StatusTimeout}

	points := pub.Points(registry.Target{Name: "Example"}, res)
	avail, _ := pointFor(t, points, MetricAvailability)
	if avail.Value != 0 {
		t.Errorf("availability = %v, want 0", avail.Value)
	}
	if _, ok := pointFor(t, points, MetricLatency); ok {
		t.Error("latency point present for a timed out probe")
	}
	tp, ok := pointFor(t, points, MetricThroughput)
	if !ok || tp.Value != 0 {
		t.Errorf("throughput = %v (ok=%v), want 0", tp.Value, ok)
	}
}

func TestPublishWritesToStore(t *testing.T) {
	store := &memStore{}
	pub := NewPublisher(store, "WebMonitoring/Health")
	res := probe.Result{Status: probe.StatusSuccess, LatencyMS: 10, HasLatency: true, ResponseBytes: 100, HasBytes: true}

	if err := pub.Publish(context.Background(), registry.Target{Name: "Example"}, res); err != nil {
		t.Fatal(err)
	}
	if len(store.puts) != 1 || len(store.puts[0]) != 3 {
		t.Fatalf("store received %v puts", store.puts)
	}
}
