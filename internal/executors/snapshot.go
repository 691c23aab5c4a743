// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
)

// Backend operations needed by the snapshot executors.
type SnapshotBackend interface {
	CreateSnapshot(ctx context.Context, snap *models.Snapshot, sourceBackendID string, force bool) error
	UpdateSnapshot(ctx context.Context, snap *models.Snapshot) error
	DeleteSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetSnapshotState(ctx context.Context, snap *models.Snapshot) (string, error)
	SnapshotGone(ctx context.Context, snap *models.Snapshot) (bool, error)
	PullSnapshot(ctx context.Context, snap *models.Snapshot) error
}

type SnapshotExecutors struct {
	Store   *models.Store
	Backend SnapshotBackend
	Conf    conf.ExecutorConfig
	Monitor Monitor
}

func (e *SnapshotExecutors) pollSnapshot(snap *models.Snapshot) tasks.Task {
	return &tasks.PollRuntimeState{
		TaskName:      "poll " + snap.Describe(),
		Poll:          pollAfter(snapshotPollCountdownSeconds, e.Conf.Poll),
		Fetch:         func(ctx context.Context) (string, error) { return e.Backend.GetSnapshotState(ctx, snap) },
		SuccessStates: []string{cinderStateAvailable},
		ErredStates:   []string{cinderStateError},
		OnState:       func(state string) error { return e.Store.SetRuntimeState(snap, state) },
	}
}

// Create the snapshot on the backend and wait until it is available. Force
// allows snapshotting volumes that are currently attached.
func (e *SnapshotExecutors) Create(snap *models.Snapshot, force bool) Executor {
	task := tasks.NewChain("create "+snap.Describe(),
		transitionTask(e.Store, snap, models.BeginCreating),
		tasks.NewTask("create snapshot on backend", func(ctx context.Context) error {
			source, err := e.Store.GetVolume(snap.SourceVolumeUUID)
			if err != nil {
				return err
			}
			if err := e.Backend.CreateSnapshot(ctx, snap, source.BackendID, force); err != nil {
				return err
			}
			return e.Store.Save(snap)
		}),
		e.pollSnapshot(snap),
	)
	return Executor{
		Name:      "snapshot create",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(snap, models.SetOK) },
		OnFailure: markErred(e.Store, snap),
		Monitor:   e.Monitor,
	}
}

// Push name and description of the snapshot to the backend.
func (e *SnapshotExecutors) Update(snap *models.Snapshot) Executor {
	task := tasks.NewChain("update "+snap.Describe(),
		transitionTask(e.Store, snap, models.BeginUpdating),
		tasks.NewTask("update snapshot on backend", func(ctx context.Context) error {
			return e.Backend.UpdateSnapshot(ctx, snap)
		}),
	)
	return Executor{
		Name:      "snapshot update",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(snap, models.SetOK) },
		OnFailure: markErred(e.Store, snap),
		Monitor:   e.Monitor,
	}
}

// Delete the snapshot on the backend, wait until it is gone, then drop the
// record. Records without a backend id are dropped directly.
func (e *SnapshotExecutors) Delete(snap *models.Snapshot) Executor {
	var task tasks.Task
	if snap.BackendID == "" {
		task = transitionTask(e.Store, snap, models.BeginDeleting)
	} else {
		task = tasks.NewChain("delete "+snap.Describe(),
			transitionTask(e.Store, snap, models.BeginDeleting),
			tasks.NewTask("delete snapshot on backend", func(ctx context.Context) error {
				return e.Backend.DeleteSnapshot(ctx, snap)
			}),
			&tasks.PollBackendCheck{
				TaskName: "wait for deletion of " + snap.Describe(),
				Poll:     e.Conf.Poll,
				Gone:     func(ctx context.Context) (bool, error) { return e.Backend.SnapshotGone(ctx, snap) },
			},
		)
	}
	return Executor{
		Name:      "snapshot delete",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Delete(snap) },
		OnFailure: markErred(e.Store, snap),
		Monitor:   e.Monitor,
	}
}

// Refresh the record from the backend.
func (e *SnapshotExecutors) Pull(snap *models.Snapshot) Executor {
	task := tasks.NewTask("pull "+snap.Describe(), func(ctx context.Context) error {
		if err := e.Backend.PullSnapshot(ctx, snap); err != nil {
			return err
		}
		return e.Store.Save(snap)
	})
	return Executor{Name: "snapshot pull", Task: task, Monitor: e.Monitor}
}
