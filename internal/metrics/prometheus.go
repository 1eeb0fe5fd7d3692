package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Prometheus implements core.Metrics using Prometheus client.
type Prometheus struct {
	// Cycle metrics
	triggers      *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec

	// Engine metrics
	verdicts *prometheus.CounterVec

	// Controller metrics
	actionErrors *prometheus.CounterVec

	// Ledger metrics
	userDecisions *prometheus.CounterVec
	knownNetworks prometheus.Gauge

	// Daemon metrics
	lastCycle prometheus.Gauge
}

// NewPrometheus creates a new Prometheus metrics collector.
// All metrics are registered with the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Prometheus{
		triggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apguard",
			Subsystem: "coordinator",
			Name:      "triggers_total",
			Help:      "Scan triggers by outcome (accepted, debounced, in_progress)",
		}, []string{"outcome"}),

		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apguard",
			Subsystem: "coordinator",
			Name:      "cycles_total",
			Help:      "Completed or aborted scan cycles by outcome",
		}, []string{"outcome"}),

		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apguard",
			Subsystem: "coordinator",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one scan cycle",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"outcome"}),

		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apguard",
			Subsystem: "engine",
			Name:      "verdicts_total",
			Help:      "Verdicts by safety and reason",
		}, []string{"safety", "reason"}),

		actionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apguard",
			Subsystem: "wifi",
			Name:      "action_errors_total",
			Help:      "Failed Wi-Fi controller actions by action",
		}, []string{"action"}),

		userDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apguard",
			Subsystem: "ledger",
			Name:      "user_decisions_total",
			Help:      "Applied user trust decisions",
		}, []string{"trust"}),

		knownNetworks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "apguard",
			Subsystem: "ledger",
			Name:      "known_networks",
			Help:      "Networks with at least one allowed or blocked access point",
		}),

		lastCycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "apguard",
			Subsystem: "daemon",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed scan cycle",
		}),
	}
}

// Cycle metrics

func (p *Prometheus) IncTrigger(outcome string) {
	p.triggers.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ObserveCycle(outcome string, duration time.Duration) {
	p.cycles.WithLabelValues(outcome).Inc()
	p.cycleDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Engine metrics

func (p *Prometheus) IncVerdict(safety core.Safety, reason string) {
	p.verdicts.WithLabelValues(safety.String(), reason).Inc()
}

// Controller metrics

func (p *Prometheus) IncActionError(action string) {
	p.actionErrors.WithLabelValues(action).Inc()
}

// Ledger metrics

func (p *Prometheus) IncUserDecision(trust bool) {
	p.userDecisions.WithLabelValues(boolStr(trust)).Inc()
}

func (p *Prometheus) SetKnownNetworks(count int) {
	p.knownNetworks.Set(float64(count))
}

// Daemon metrics

func (p *Prometheus) SetLastCycleTimestamp(t time.Time) {
	p.lastCycle.Set(float64(t.Unix()))
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Ensure Prometheus implements core.Metrics
var _ core.Metrics = (*Prometheus)(nil)
