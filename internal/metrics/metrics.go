package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tagstash"

// Metrics exposes Prometheus collectors for ingestion, tagging and remote
// storage activity. All methods are safe on a nil receiver.
type Metrics struct {
	ingestions       *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	taggingFallbacks *prometheus.CounterVec
	remoteCalls      *prometheus.CounterVec
	remoteLatency    *prometheus.HistogramVec
	pendingDeletions prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "attempts_total",
			Help:      "Ingestion attempts by final outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each ingestion stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		taggingFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tagging",
			Name:      "fallbacks_total",
			Help:      "Tagging calls that degraded to notags.",
		}, []string{"reason"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "calls_total",
			Help:      "Remote storage API calls by operation and status.",
		}, []string{"op", "status"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Remote storage API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		pendingDeletions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "deletion",
			Name:      "pending",
			Help:      "Deletion requests awaiting confirmation.",
		}),
	}

	collectors := []prometheus.Collector{
		m.ingestions, m.stageDuration, m.taggingFallbacks,
		m.remoteCalls, m.remoteLatency, m.pendingDeletions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is New that panics on registration errors.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) IngestOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) TaggingFallback(reason string) {
	if m == nil {
		return
	}
	m.taggingFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) RemoteCall(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.remoteCalls.WithLabelValues(op, status).Inc()
	m.remoteLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) DeletionPending(delta int) {
	if m == nil {
		return
	}
	m.pendingDeletions.Add(float64(delta))
}

// Ingestions exposes the ingestion outcome counter for inspection.
func (m *Metrics) Ingestions() *prometheus.CounterVec { return m.ingestions }

// TaggingFallbacks exposes the tagging fallback counter for inspection.
func (m *Metrics) TaggingFallbacks() *prometheus.CounterVec { return m.taggingFallbacks }

// PendingDeletions exposes the pending deletion gauge for inspection.
func (m *Metrics) PendingDeletions() prometheus.Gauge { return m.pendingDeletions }
