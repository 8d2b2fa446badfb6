package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/azkastekom/massweb/internal/models"
)

// Metrics groups the prometheus collectors of the service layer. All methods
// are no-ops on a nil receiver.
type Metrics struct {
	generatedContents  prometheus.Counter
	generationDuration prometheus.Histogram
	generationFailures prometheus.Counter
	publishedContents  prometheus.Counter
	skippedContents    prometheus.Counter
	jobTransitions     *prometheus.CounterVec
	jobsByStatus       *prometheus.GaugeVec
	contentsByStatus   *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		generatedContents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "massweb",
			Name:      "generated_contents_total",
			Help:      "Content items created by generation runs.",
		}),
		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "massweb",
			Name:      "generation_duration_seconds",
			Help:      "Wall time of generation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		generationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "massweb",
			Name:      "generation_failures_total",
			Help:      "Generation runs that wrote nothing because of an error.",
		}),
		publishedContents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "massweb",
			Name:      "published_contents_total",
			Help:      "Content items flipped to published by publish jobs.",
		}),
		skippedContents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "massweb",
			Name:      "skipped_contents_total",
			Help:      "Content items a publish job found already changed or deleted.",
		}),
		jobTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "massweb",
			Name:      "publish_job_transitions_total",
			Help:      "Publish job status changes by target status.",
		}, []string{"status"}),
		jobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "massweb",
			Name:      "publish_jobs",
			Help:      "Publish jobs per status.",
		}, []string{"status"}),
		contentsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "massweb",
			Name:      "contents",
			Help:      "Content items per publish status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) ObserveGeneration(created int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.generationFailures.Inc()
		return
	}
	m.generatedContents.Add(float64(created))
	m.generationDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ContentPublished() {
	if m == nil {
		return
	}
	m.publishedContents.Inc()
}

func (m *Metrics) ContentSkipped() {
	if m == nil {
		return
	}
	m.skippedContents.Inc()
}

func (m *Metrics) JobTransition(to models.JobStatus) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(string(to)).Inc()
}

// SetSnapshot replaces the gauge values with a fresh count
func (m *Metrics) SetSnapshot(snap *Snapshot) {
	if m == nil || snap == nil {
		return
	}
	m.jobsByStatus.Reset()
	for status, n := range snap.JobsByStatus {
		m.jobsByStatus.WithLabelValues(status).Set(float64(n))
	}
	m.contentsByStatus.Reset()
	for status, n := range snap.ContentsByStatus {
		m.contentsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
