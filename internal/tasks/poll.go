// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/sapcc/go-bits/jobloop"
)

// Poll the runtime state of a backend resource until it reaches one of the
// success states. Reaching an erred state or exhausting the retries fails
// the task.
type PollRuntimeState struct {
	TaskName string
	Poll     conf.PollConfig
	// Fetch the current runtime state from the backend.
	Fetch func(ctx context.Context) (string, error)
	// States that complete the poll successfully.
	SuccessStates []string
	// States that fail the poll immediately.
	ErredStates []string
	// Called after each fetch with the observed state, e.g. to persist it.
	OnState func(state string) error
}

func (t *PollRuntimeState) Name() string { return t.TaskName }

func (t *PollRuntimeState) Run(ctx context.Context) error {
	if err := sleep(ctx, time.Duration(t.Poll.CountdownSeconds)*time.Second); err != nil {
		return err
	}
	interval := time.Duration(t.Poll.IntervalSeconds) * time.Second
	for retry := range t.Poll.MaxRetries {
		state, err := t.Fetch(ctx)
		if err != nil {
			return err
		}
		if t.OnState != nil {
			if err := t.OnState(state); err != nil {
				return err
			}
		}
		slog.Info("polled runtime state", "task", t.TaskName, "state", state, "retry", retry)
		if slices.Contains(t.SuccessStates, state) {
			return nil
		}
		if slices.Contains(t.ErredStates, state) {
			return fmt.Errorf("backend reported state %q", state)
		}
		if err := sleep(ctx, jobloop.DefaultJitter(interval)); err != nil {
			return err
		}
	}
	return fmt.Errorf("gave up polling after %d retries", t.Poll.MaxRetries)
}

// Poll the backend until a resource is gone, e.g. after a delete request.
// A backend error other than "not found" fails the task, as does exhausting
// the retries.
type PollBackendCheck struct {
	TaskName string
	Poll     conf.PollConfig
	// Check whether the resource is gone from the backend.
	Gone func(ctx context.Context) (bool, error)
}

func (t *PollBackendCheck) Name() string { return t.TaskName }

func (t *PollBackendCheck) Run(ctx context.Context) error {
	if err := sleep(ctx, time.Duration(t.Poll.CountdownSeconds)*time.Second); err != nil {
		return err
	}
	interval := time.Duration(t.Poll.IntervalSeconds) * time.Second
	for retry := range t.Poll.MaxRetries {
		gone, err := t.Gone(ctx)
		if err != nil {
			return err
		}
		if gone {
			return nil
		}
		slog.Info("resource still present", "task", t.TaskName, "retry", retry)
		if err := sleep(ctx, jobloop.DefaultJitter(interval)); err != nil {
			return err
		}
	}
	return fmt.Errorf("resource still present after %d retries", t.Poll.MaxRetries)
}

// Sleep for the given duration, returning early if the context is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
