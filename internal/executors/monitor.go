// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"time"

	"github.com/cobaltcore-dev/halcyon/internal/monitoring"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
)

// Collection of Prometheus metrics for executor runs.
type Monitor struct {
	// Histogram of executor run durations, by executor name and result.
	runTimer *prometheus.HistogramVec
	// Counter of compensations run after failed workflows.
	compensations prometheus.Counter
	// Times the workflow task of each executor run.
	tasks tasks.Monitor
}

func NewExecutorMonitor(registry *monitoring.Registry) Monitor {
	runTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "halcyon_executor_run_duration_seconds",
		Help:    "Duration of executor runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"executor", "result"})
	compensations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "halcyon_executor_compensations_total",
		Help: "Number of compensations run after failed workflows.",
	})
	registry.MustRegister(runTimer, compensations)
	return Monitor{
		runTimer:      runTimer,
		compensations: compensations,
		tasks:         tasks.NewTaskMonitor(registry),
	}
}

// Wrap the workflow task so its runs show up in the task metrics.
func (m Monitor) trackTask(t tasks.Task) tasks.Task {
	return m.tasks.Track(t)
}

func (m Monitor) observe(executor string, err error, start time.Time) {
	if m.runTimer == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.runTimer.WithLabelValues(executor, result).
		Observe(time.Since(start).Seconds())
}

func (m Monitor) observeCompensation() {
	if m.compensations != nil {
		m.compensations.Inc()
	}
}
