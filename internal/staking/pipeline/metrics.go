package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github/chapool/go-staking/internal/staking"
)

type metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	signAttempts  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staking",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by chain and final state",
		}, []string{"chain", "state", "success"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staking",
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Pipeline failures by chain, stage and error kind",
		}, []string{"chain", "stage", "kind"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "staking",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Latency of the blocking pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"chain", "stage"}),
		signAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staking",
			Subsystem: "signer",
			Name:      "attempts_total",
			Help:      "Signing attempts by backend and outcome",
		}, []string{"signer", "chain", "outcome"}),
	}
}

func (m *metrics) observe(chain staking.ChainKind, stage staking.Stage, started time.Time) {
	m.stageDuration.WithLabelValues(string(chain), string(stage)).Observe(time.Since(started).Seconds())
}

func (m *metrics) finish(res *Result) {
	success := "false"
	if res.Success {
		success = "true"
	}
	m.runs.WithLabelValues(string(res.Chain), string(res.State), success).Inc()
}

func (m *metrics) fail(chain staking.ChainKind, err error) {
	stage := "unknown"
	var pe *staking.PipelineError
	if asPipelineError(err, &pe) && pe.Stage != "" {
		stage = string(pe.Stage)
	}
	m.failures.WithLabelValues(string(chain), stage, staking.KindOf(err).String()).Inc()
}
