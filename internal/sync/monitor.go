// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"github.com/cobaltcore-dev/halcyon/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	PipelineRunTimer     *prometheus.HistogramVec
	PipelineObjectsGauge *prometheus.GaugeVec
	PipelineErrorCounter *prometheus.CounterVec
}

func NewSyncMonitor(registry *monitoring.Registry) Monitor {
	pipelineRunTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "halcyon_sync_run_duration_seconds",
		Help:    "Duration of sync run",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	pipelineObjectsGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "halcyon_sync_objects",
		Help: "Number of objects synced",
	}, []string{"type"})
	pipelineErrorCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "halcyon_sync_errors_total",
		Help: "Number of failed sync runs",
	}, []string{"type"})
	registry.MustRegister(
		pipelineRunTimer,
		pipelineObjectsGauge,
		pipelineErrorCounter,
	)
	return Monitor{
		PipelineRunTimer:     pipelineRunTimer,
		PipelineObjectsGauge: pipelineObjectsGauge,
		PipelineErrorCounter: pipelineErrorCounter,
	}
}
