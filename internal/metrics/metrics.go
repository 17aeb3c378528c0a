// Package metrics exposes phase changes of the simulated lights to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/reconquest/traffic-light/internal/cycler"
	"github.com/reconquest/traffic-light/internal/phase"
)

type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	cycles      *prometheus.HistogramVec
	greens      *prometheus.CounterVec
	phases      *prometheus.GaugeVec
}

func New() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traffic_light",
			Name:      "transitions_total",
			Help:      "Number of phase changes by light and new phase.",
		}, []string{"light", "phase"}),
		cycles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "traffic_light",
			Name:      "cycle_duration_seconds",
			Help:      "How long a phase actually lasted before it changed.",
			Buckets:   prometheus.LinearBuckets(3.5, 0.25, 14),
		}, []string{"light"}),
		greens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traffic_light",
			Name:      "green_waits_total",
			Help:      "Number of waiters released by a green phase.",
		}, []string{"light"}),
		phases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "traffic_light",
			Name:      "phase",
			Help:      "Current phase of the light, 0 is red and 1 is green.",
		}, []string{"light"}),
	}

	metrics.registry.MustRegister(
		metrics.transitions,
		metrics.cycles,
		metrics.greens,
		metrics.phases,
	)

	return metrics
}

func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

// Reporter returns a cycler reporter recording the transitions of one light.
func (metrics *Metrics) Reporter(light string) cycler.Reporter {
	metrics.phases.WithLabelValues(light).Set(float64(phase.Red))

	return &reporter{metrics: metrics, light: light}
}

func (metrics *Metrics) ObserveGreenWait(light string) {
	metrics.greens.WithLabelValues(light).Inc()
}

type reporter struct {
	metrics *Metrics
	light   string
}

func (reporter *reporter) ReportTransition(transition cycler.Transition) {
	reporter.metrics.transitions.
		WithLabelValues(reporter.light, transition.Phase.String()).
		Inc()

	reporter.metrics.cycles.
		WithLabelValues(reporter.light).
		Observe(transition.Elapsed.Seconds())

	reporter.metrics.phases.
		WithLabelValues(reporter.light).
		Set(float64(transition.Phase))
}
