// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package tasks provides the building blocks for backend workflows: named
// tasks composed into sequential chains and parallel groups, plus poll tasks
// that wait for the backend to converge.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// A single unit of work in a workflow.
type Task interface {
	// Name of the task, used in logs and error messages.
	Name() string
	// Run the task. Blocking.
	Run(ctx context.Context) error
}

// Task backed by a plain function.
type funcTask struct {
	name string
	run  func(ctx context.Context) error
}

func (t funcTask) Name() string                  { return t.name }
func (t funcTask) Run(ctx context.Context) error { return t.run(ctx) }

// Create a task from a function.
func NewTask(name string, run func(ctx context.Context) error) Task {
	return funcTask{name: name, run: run}
}

// Sequential composition of tasks. The first failing task aborts the chain
// and its error is returned, wrapped with the task name.
type chain struct {
	name  string
	tasks []Task
}

func NewChain(name string, ts ...Task) Task {
	return chain{name: name, tasks: ts}
}

func (c chain) Name() string { return c.name }

func (c chain) Run(ctx context.Context) error {
	for _, t := range c.tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Info("running task", "chain", c.name, "task", t.Name())
		if err := t.Run(ctx); err != nil {
			return fmt.Errorf("%s: %w", t.Name(), err)
		}
	}
	return nil
}

// Parallel composition of tasks. All branches run to completion even when
// siblings fail, so each branch can settle its own records. The errors of
// all failed branches are joined.
type group struct {
	name  string
	tasks []Task
}

func NewGroup(name string, ts ...Task) Task {
	return group{name: name, tasks: ts}
}

func (g group) Name() string { return g.name }

func (g group) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(g.tasks))
	for i, t := range g.tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("running task", "group", g.name, "task", t.Name())
			if err := t.Run(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", t.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
