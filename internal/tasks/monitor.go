// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"time"

	"github.com/cobaltcore-dev/halcyon/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

// Collection of Prometheus metrics for task runs.
type Monitor struct {
	// Histogram of task run durations, by task name and result.
	runTimer *prometheus.HistogramVec
}

func NewTaskMonitor(registry *monitoring.Registry) Monitor {
	runTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "halcyon_task_run_duration_seconds",
		Help:    "Duration of task runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task", "result"})
	registry.MustRegister(runTimer)
	return Monitor{runTimer: runTimer}
}

// Wrap a task so that each run is timed and labeled with its result.
func (m Monitor) Track(t Task) Task {
	return NewTask(t.Name(), func(ctx context.Context) error {
		start := time.Now()
		err := t.Run(ctx)
		result := "success"
		if err != nil {
			result = "failure"
		}
		if m.runTimer != nil {
			m.runTimer.WithLabelValues(t.Name(), result).
				Observe(time.Since(start).Seconds())
		}
		return err
	})
}
