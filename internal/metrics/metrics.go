// Package metrics exposes Prometheus counters for manifest interception.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ManifestsInspected counts intercepted manifests by classification
	ManifestsInspected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qualityfix_manifests_inspected_total",
		Help: "Total number of intercepted manifests by kind",
	}, []string{"kind"})

	// ManifestsRewritten counts master manifests reduced to one variant
	ManifestsRewritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qualityfix_manifests_rewritten_total",
		Help: "Total number of master manifests rewritten to a single variant",
	})

	// VariantsDropped counts variant markers that had no URI line
	VariantsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qualityfix_variants_dropped_total",
		Help: "Total number of variant declarations dropped for lack of a URI line",
	})

	// Selections counts selected variants by quality label
	Selections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qualityfix_selections_total",
		Help: "Total number of selections by quality label",
	}, []string{"quality"})

	// InterceptFailures counts contained failures by pipeline stage
	InterceptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qualityfix_intercept_failures_total",
		Help: "Total number of interception failures by stage",
	}, []string{"stage"})
)

// RecordInspected increments the inspected counter for a manifest kind.
func RecordInspected(kind string) {
	ManifestsInspected.WithLabelValues(kind).Inc()
}

// RecordRewrite records a successful rewrite and its selected label.
func RecordRewrite(label string, dropped int) {
	ManifestsRewritten.Inc()
	Selections.WithLabelValues(label).Inc()
	if dropped > 0 {
		VariantsDropped.Add(float64(dropped))
	}
}

// RecordFailure increments the failure counter for a stage.
func RecordFailure(stage string) {
	InterceptFailures.WithLabelValues(stage).Inc()
}
