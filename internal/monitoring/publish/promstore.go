package publish

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promModel "github.com/prometheus/common/model"
)

const dimensionLabel = "website"

// PromStore exposes published points as Prometheus gauges on a private
// registry, one gauge per metric name with the target dimension as a label.
// The external store evaluates alert thresholds against these series.
type PromStore struct {
	namespace string
	registry  *prometheus.Registry

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec
}

func NewPromStore(namespace string) *PromStore {
	return &PromStore{
		namespace: sanitizeMetricName(namespace),
		registry:  prometheus.NewRegistry(),
		gauges:    map[string]*prometheus.GaugeVec{},
	}
}

func (s *PromStore) Put(ctx context.Context, points []Point) error {
	for _, p := range points {
		g, err := s.gauge(p.Metric)
		if err != nil {
			return err
		}
		g.WithLabelValues(p.Dimension).Set(p.Value)
	}
	return nil
}

// RemoveSeries drops every series carrying the given dimension. Called when
// a target is disabled or deleted so stale series stop being scraped.
func (s *PromStore) RemoveSeries(dimension string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.gauges {
		g.DeleteLabelValues(dimension)
	}
}

// Handler serves the store's registry for scraping.
func (s *PromStore) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *PromStore) gauge(metric string) (*prometheus.GaugeVec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[metric]; ok {
		return g, nil
	}
	name := sanitizeMetricName(metric)
	if !promModel.IsValidMetricName(promModel.LabelValue(s.namespace + "_" + name)) {
		return nil, fmt.Errorf("invalid metric name %q", metric)
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: s.namespace,
		Name:      name,
		Help:      "web canary health metric " + metric,
	}, []string{dimensionLabel})
	if err := s.registry.Register(g); err != nil {
		return nil, fmt.Errorf("register gauge %s: %w", metric, err)
	}
	s.gauges[metric] = g
	return g, nil
}

// sanitizeMetricName lowercases and rewrites characters Prometheus does not
// accept, e.g. "WebMonitoring/Health" becomes "webmonitoring_health".
func sanitizeMetricName(in string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(in) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
