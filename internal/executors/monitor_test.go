// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"testing"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/monitoring"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
)

func TestExecute_RecordsTaskMetrics(t *testing.T) {
	registry := monitoring.NewRegistry(conf.MonitoringConfig{})
	monitor := NewExecutorMonitor(registry)

	executor := Executor{
		Name:    "test executor",
		Task:    tasks.NewTask("noop", func(ctx context.Context) error { return nil }),
		Monitor: monitor,
	}
	if err := executor.Execute(t.Context()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, family := range families {
		found[family.GetName()] = true
	}
	if !found["halcyon_executor_run_duration_seconds"] {
		t.Error("expected the executor run to be timed")
	}
	if !found["halcyon_task_run_duration_seconds"] {
		t.Error("expected the workflow task to be timed")
	}
}
