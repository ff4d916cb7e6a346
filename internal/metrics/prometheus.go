// Package metrics adapts limiter.MetricsRecorder onto Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder implements limiter.MetricsRecorder on top of two Prometheus
// vectors keyed by metric name. Tag maps are accepted for interface
// compatibility but are not turned into Prometheus labels: this server
// only ever passes a handful of fixed tag shapes, and a dynamic label set
// per call would fight Prometheus's static cardinality model.
type Recorder struct {
	counters   *prometheus.CounterVec
	histograms *prometheus.HistogramVec
}

// NewRecorder registers its vectors on reg and returns a Recorder.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quota_limiter",
			Name:      "events_total",
			Help:      "Count of rate limiter lifecycle events by metric name.",
		}, []string{"metric"}),
		histograms: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quota_limiter",
			Name:      "observations",
			Help:      "Timing and gauge-style observations by metric name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"metric"}),
	}
	reg.MustRegister(r.counters, r.histograms)
	return r
}

func (r *Recorder) Add(name string, value float64, tags map[string]string) {
	r.counters.WithLabelValues(name).Add(value)
}

func (r *Recorder) Observe(name string, value float64, tags map[string]string) {
	r.histograms.WithLabelValues(name).Observe(value)
}
