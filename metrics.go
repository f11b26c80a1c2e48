package mailproof

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/synqronlabs/mailproof/pattern"
)

var (
	metricVerify = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailproof_verify_total",
			Help: "Verification attempts, label status is verified or the error kind.",
		},
		[]string{
			"status",
		},
	)
	metricVerifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailproof_verify_duration_seconds",
			Help:    "Verification duration including key resolution, label flow is dkim or dkim_pattern.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5},
		},
		[]string{
			"flow",
		},
	)
	metricPatternChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailproof_pattern_checks_total",
			Help: "Pattern checks by region and final state.",
		},
		[]string{
			"region",
			"outcome",
		},
	)
	metricCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailproof_cache_lookups_total",
			Help: "Result cache lookups, label result is hit or miss.",
		},
		[]string{
			"result",
		},
	)
)

func observePatterns(report *pattern.Report) {
	if report == nil {
		return
	}
	for _, c := range report.Checks {
		if c.State == pattern.NotChecked {
			continue
		}
		metricPatternChecks.WithLabelValues(c.Region.String(), c.State.String()).Inc()
	}
}
