package engine

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Autosave metrics. Registered on the default registry; the host process
// decides whether to expose them.
var (
	savesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldsave_saves_total",
		Help: "Save calls accepted by the engine",
	})

	// coalescedTotal counts saves that replaced a not-yet-written candidate.
	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldsave_saves_coalesced_total",
		Help: "Save calls that superseded a pending candidate within the debounce window",
	})

	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsave_writes_total",
			Help: "Physical record writes by result",
		},
		[]string{"result"},
	)

	writeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldsave_write_duration_seconds",
		Help:    "Duration of physical record writes in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	readFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsave_read_failures_total",
			Help: "Stored records treated as absent, by error code",
		},
		[]string{"code"},
	)

	sweepRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsave_removed_total",
			Help: "Records deleted by cleanup or completion, by reason",
		},
		[]string{"reason"},
	)

	pendingWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fieldsave_pending_writes",
		Help: "Keys with a queued, unwritten candidate",
	})
)

// MetricPrefix starts the name of every autosave metric.
const MetricPrefix = "fieldsave_"

// MetricSample is one autosave time series read back from a registry.
// Histograms yield a _count and a _sum sample.
type MetricSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// GatherMetrics reads the autosave families from g, in the registry's
// name and label order. Pass prometheus.DefaultGatherer for the engine's
// own metrics.
func GatherMetrics(g prometheus.Gatherer) ([]MetricSample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	samples := []MetricSample{}
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, MetricPrefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := metricLabels(m)
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				samples = append(samples, MetricSample{Name: name, Labels: labels, Value: m.GetCounter().GetValue()})
			case dto.MetricType_GAUGE:
				samples = append(samples, MetricSample{Name: name, Labels: labels, Value: m.GetGauge().GetValue()})
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				samples = append(samples,
					MetricSample{Name: name + "_count", Labels: labels, Value: float64(h.GetSampleCount())},
					MetricSample{Name: name + "_sum", Labels: labels, Value: h.GetSampleSum()},
				)
			}
		}
	}
	return samples, nil
}

func metricLabels(m *dto.Metric) map[string]string {
	if len(m.GetLabel()) == 0 {
		return nil
	}
	labels := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}
