// Package metrics holds the boundary's process-global Prometheus
// instruments: the egress proxy's per-call counter and latency
// histogram, labeled exactly per the egress proxy's metric shape
// `{adapter, action, outcome, statusClass, denyReason}`, plus a
// latency histogram in milliseconds. These are isolate-local,
// best-effort counters — the Go analogue of the boundary's
// single-process metric model.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "pincer"

// Outcome is the egress proxy's top-level call outcome.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// RegistererGatherer is both a registration target and a readback
// source. *prometheus.Registry satisfies it; so does the package-level
// default registry pair.
type RegistererGatherer interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Metrics holds every Prometheus instrument the boundary registers.
type Metrics struct {
	ProxyRequestsTotal  *prometheus.CounterVec
	ProxyLatencyMs      *prometheus.HistogramVec
	RegistryWritesTotal *prometheus.CounterVec
	LoginAttemptsTotal  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers and returns the boundary's metric instruments against
// the default Prometheus registry.
func New() *Metrics {
	reg, ok := prometheus.DefaultRegisterer.(RegistererGatherer)
	if !ok {
		reg = prometheus.NewRegistry()
	}
	return NewWithRegisterer(reg)
}

// NewWithRegisterer registers the boundary's metric instruments against
// reg instead of the process-global default registry, so tests can use
// a fresh prometheus.NewRegistry() per case without collisions. reg also
// backs Snapshot's readback.
func NewWithRegisterer(reg RegistererGatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Egress proxy calls by adapter, action, outcome, status class, and deny reason.",
		}, []string{"adapter", "action", "outcome", "status_class", "deny_reason"}),

		ProxyLatencyMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "latency_ms",
			Help:      "Egress proxy call latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"adapter", "action", "outcome"}),

		RegistryWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "writes_total",
			Help:      "Adapter registry mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),

		LoginAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "login_attempts_total",
			Help:      "Admin login attempts by outcome.",
		}, []string{"outcome"}),

		gatherer: reg,
	}
}

// ObserveProxyCall records one egress proxy call's outcome and latency.
func (m *Metrics) ObserveProxyCall(adapter, action string, outcome Outcome, statusClass int, denyReason string, latencyMs float64) {
	statusClassLabel := statusClassBucket(statusClass)
	m.ProxyRequestsTotal.WithLabelValues(adapter, action, string(outcome), statusClassLabel, denyReason).Inc()
	m.ProxyLatencyMs.WithLabelValues(adapter, action, string(outcome)).Observe(latencyMs)
}

// ObserveRegistryWrite records one registry mutation's outcome.
func (m *Metrics) ObserveRegistryWrite(operation, outcome string) {
	m.RegistryWritesTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveLoginAttempt records one admin login attempt's outcome.
func (m *Metrics) ObserveLoginAttempt(outcome string) {
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}

func statusClassBucket(status int) string {
	if status == 0 {
		return "n/a"
	}
	return strconv.Itoa(status/100) + "xx"
}

// CounterSample is one labeled counter reading.
type CounterSample struct {
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

// HistogramSample is one labeled histogram reading, summarized as a
// count and sum rather than the full bucket layout.
type HistogramSample struct {
	Labels      map[string]string `json:"labels"`
	SampleCount uint64            `json:"sampleCount"`
	SampleSum   float64           `json:"sampleSum"`
}

// Snapshot is the isolate-local metric snapshot rendered by the admin
// metrics route: every pincer_* counter and histogram currently held by
// the registry, with no Prometheus exposition-format parsing required
// by the caller.
type Snapshot struct {
	Counters   map[string][]CounterSample   `json:"counters"`
	Histograms map[string][]HistogramSample `json:"histograms"`
}

// Snapshot reads every registered pincer_* instrument back out of the
// underlying registry via Gather, the same path a Prometheus scrape
// would take.
func (m *Metrics) Snapshot() (Snapshot, error) {
	families, err := m.gatherer.Gather()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Counters:   make(map[string][]CounterSample),
		Histograms: make(map[string][]HistogramSample),
	}
	for _, fam := range families {
		name := fam.GetName()
		if !strings.HasPrefix(name, namespace+"_") {
			continue
		}
		switch fam.GetType() {
		case dto.MetricType_COUNTER:
			for _, metric := range fam.GetMetric() {
				snap.Counters[name] = append(snap.Counters[name], CounterSample{
					Labels: labelMap(metric),
					Value:  metric.GetCounter().GetValue(),
				})
			}
		case dto.MetricType_HISTOGRAM:
			for _, metric := range fam.GetMetric() {
				h := metric.GetHistogram()
				snap.Histograms[name] = append(snap.Histograms[name], HistogramSample{
					Labels:      labelMap(metric),
					SampleCount: h.GetSampleCount(),
					SampleSum:   h.GetSampleSum(),
				})
			}
		}
	}
	return snap, nil
}

func labelMap(metric *dto.Metric) map[string]string {
	out := make(map[string]string, len(metric.GetLabel()))
	for _, lp := range metric.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}
