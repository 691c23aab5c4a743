// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package executors drives resource lifecycles against the backend. Each
// operation is an Executor: a task workflow plus settlement hooks that run
// after the workflow finished, marking records ok or compensating failures.
package executors

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
)

type Executor struct {
	// Name of the operation, for logs and metrics.
	Name string
	// The workflow to run.
	Task tasks.Task
	// Called when the workflow finished without error.
	OnSuccess func(ctx context.Context) error
	// Called with the workflow error to settle the records, e.g. by
	// deleting scheduled records and marking started ones as erred.
	OnFailure func(ctx context.Context, taskErr error) error
	// Optional monitor observing the execution.
	Monitor Monitor
}

// Run the workflow and settle the records. Blocking.
func (e Executor) Execute(ctx context.Context) error {
	slog.Info("executing", "executor", e.Name)
	start := time.Now()
	err := e.execute(ctx)
	e.Monitor.observe(e.Name, err, start)
	if err != nil {
		slog.Error("executor failed", "executor", e.Name, "err", err)
		return err
	}
	slog.Info("executor finished", "executor", e.Name)
	return nil
}

func (e Executor) execute(ctx context.Context) error {
	if err := e.Monitor.trackTask(e.Task).Run(ctx); err != nil {
		if e.OnFailure != nil {
			if ferr := e.OnFailure(ctx, err); ferr != nil {
				return errors.Join(err, ferr)
			}
		}
		return err
	}
	if e.OnSuccess != nil {
		return e.OnSuccess(ctx)
	}
	return nil
}

// Run the workflow in the background. Errors are settled by the executor's
// failure hook and logged.
func (e Executor) ExecuteAsync(ctx context.Context) {
	go func() {
		//nolint:errcheck // Settled by the failure hook and logged.
		e.Execute(ctx)
	}()
}

// Task applying a lifecycle transition to a record.
func transitionTask(store *models.Store, res models.Resource, t models.Transition) tasks.Task {
	return tasks.NewTask(t.Name+" "+res.Describe(), func(ctx context.Context) error {
		return store.Transition(res, t)
	})
}

// Failure hook marking the record erred with the workflow error.
func markErred(store *models.Store, res models.Resource) func(context.Context, error) error {
	return func(ctx context.Context, taskErr error) error {
		return store.SetErredWithMessage(res, taskErr.Error())
	}
}

// Poll config with the given initial countdown as default. An explicitly
// configured countdown wins.
func pollAfter(countdownSeconds int, base conf.PollConfig) conf.PollConfig {
	if base.CountdownSeconds == 0 {
		base.CountdownSeconds = countdownSeconds
	}
	return base
}
