package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ProcessesClaimed *prometheus.CounterVec
	StepsExecuted    *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		ProcessesClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "issuant_worker_processes_claimed_total",
			Help: "Total number of processes claimed by the worker",
		}, []string{"process_type"}),
		StepsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "issuant_worker_steps_executed_total",
			Help: "Total number of executed process steps, by outcome",
		}, []string{"process_type", "step_type", "outcome"}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "issuant_worker_batch_duration_seconds",
			Help:    "Duration of one claim-and-execute batch",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}
}
