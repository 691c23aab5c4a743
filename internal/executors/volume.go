// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
)

// Runtime states reported by cinder for volumes, snapshots and backups.
const (
	cinderStateAvailable = "available"
	cinderStateInUse     = "in-use"
	cinderStateError     = "error"
	// Reported when restoring a backup onto a volume failed.
	cinderStateErrorRestoring = "error_restoring"
)

// How long cinder usually needs before a volume or snapshot operation is
// worth polling for the first time.
const (
	volumePollCountdownSeconds   = 30
	snapshotPollCountdownSeconds = 10
)

// Backend operations needed by the volume executors.
type VolumeBackend interface {
	CreateVolume(ctx context.Context, vol *models.Volume, sourceSnapshotBackendID string) error
	UpdateVolume(ctx context.Context, vol *models.Volume) error
	DeleteVolume(ctx context.Context, vol *models.Volume) error
	GetVolumeState(ctx context.Context, vol *models.Volume) (string, error)
	VolumeGone(ctx context.Context, vol *models.Volume) (bool, error)
	PullVolume(ctx context.Context, vol *models.Volume) error
	ExtendVolume(ctx context.Context, vol *models.Volume, newSizeGiB int) error
	AttachVolume(ctx context.Context, vol *models.Volume, instance *models.Instance) error
	DetachVolume(ctx context.Context, vol *models.Volume, instance *models.Instance) error
}

type VolumeExecutors struct {
	Store   *models.Store
	Backend VolumeBackend
	Conf    conf.ExecutorConfig
	Monitor Monitor
}

// Poll until the volume reaches the given state on the backend, mirroring
// the observed states into the record.
func (e *VolumeExecutors) pollVolume(vol *models.Volume, successStates ...string) tasks.Task {
	return &tasks.PollRuntimeState{
		TaskName:      "poll " + vol.Describe(),
		Poll:          pollAfter(volumePollCountdownSeconds, e.Conf.Poll),
		Fetch:         func(ctx context.Context) (string, error) { return e.Backend.GetVolumeState(ctx, vol) },
		SuccessStates: successStates,
		ErredStates:   []string{cinderStateError},
		OnState:       func(state string) error { return e.Store.SetRuntimeState(vol, state) },
	}
}

// Create the volume on the backend and wait until it is available.
func (e *VolumeExecutors) Create(vol *models.Volume) Executor {
	task := tasks.NewChain("create "+vol.Describe(),
		transitionTask(e.Store, vol, models.BeginCreating),
		tasks.NewTask("create volume on backend", func(ctx context.Context) error {
			var sourceSnapshotBackendID string
			if vol.SourceSnapshotUUID != "" {
				snap, err := e.Store.GetSnapshot(vol.SourceSnapshotUUID)
				if err != nil {
					return err
				}
				sourceSnapshotBackendID = snap.BackendID
			}
			if err := e.Backend.CreateVolume(ctx, vol, sourceSnapshotBackendID); err != nil {
				return err
			}
			return e.Store.Save(vol)
		}),
		e.pollVolume(vol, cinderStateAvailable),
	)
	return Executor{
		Name:      "volume create",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(vol, models.SetOK) },
		OnFailure: markErred(e.Store, vol),
		Monitor:   e.Monitor,
	}
}

// Push name and description of the volume to the backend.
func (e *VolumeExecutors) Update(vol *models.Volume) Executor {
	task := tasks.NewChain("update "+vol.Describe(),
		transitionTask(e.Store, vol, models.BeginUpdating),
		tasks.NewTask("update volume on backend", func(ctx context.Context) error {
			return e.Backend.UpdateVolume(ctx, vol)
		}),
	)
	return Executor{
		Name:      "volume update",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(vol, models.SetOK) },
		OnFailure: markErred(e.Store, vol),
		Monitor:   e.Monitor,
	}
}

// Delete the volume on the backend, wait until it is gone, then drop the
// record. Records without a backend id are dropped directly.
func (e *VolumeExecutors) Delete(vol *models.Volume) Executor {
	var task tasks.Task
	if vol.BackendID == "" {
		task = transitionTask(e.Store, vol, models.BeginDeleting)
	} else {
		task = tasks.NewChain("delete "+vol.Describe(),
			transitionTask(e.Store, vol, models.BeginDeleting),
			tasks.NewTask("delete volume on backend", func(ctx context.Context) error {
				return e.Backend.DeleteVolume(ctx, vol)
			}),
			&tasks.PollBackendCheck{
				TaskName: "wait for deletion of " + vol.Describe(),
				Poll:     e.Conf.Poll,
				Gone:     func(ctx context.Context) (bool, error) { return e.Backend.VolumeGone(ctx, vol) },
			},
		)
	}
	return Executor{
		Name:      "volume delete",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Delete(vol) },
		OnFailure: markErred(e.Store, vol),
		Monitor:   e.Monitor,
	}
}

// Refresh the record from the backend.
func (e *VolumeExecutors) Pull(vol *models.Volume) Executor {
	task := tasks.NewTask("pull "+vol.Describe(), func(ctx context.Context) error {
		if err := e.Backend.PullVolume(ctx, vol); err != nil {
			return err
		}
		return e.Store.Save(vol)
	})
	return Executor{Name: "volume pull", Task: task, Monitor: e.Monitor}
}

// Grow the volume to the given size. Attached volumes are detached first
// and re-attached afterwards, since cinder only extends available volumes.
func (e *VolumeExecutors) Extend(vol *models.Volume, newSizeGiB int) Executor {
	extend := tasks.NewTask("extend volume on backend", func(ctx context.Context) error {
		if err := e.Backend.ExtendVolume(ctx, vol, newSizeGiB); err != nil {
			return err
		}
		vol.SizeGiB = newSizeGiB
		return e.Store.Save(vol)
	})

	var steps []tasks.Task
	steps = append(steps, transitionTask(e.Store, vol, models.BeginUpdating))
	if vol.InstanceUUID != "" {
		instance, err := e.Store.GetInstance(vol.InstanceUUID)
		if err != nil {
			return failedExecutor("volume extend", e.Monitor, err)
		}
		steps = append(steps,
			tasks.NewTask("detach volume", func(ctx context.Context) error {
				return e.Backend.DetachVolume(ctx, vol, instance)
			}),
			e.pollVolume(vol, cinderStateAvailable),
			extend,
			e.pollVolume(vol, cinderStateAvailable),
			tasks.NewTask("re-attach volume", func(ctx context.Context) error {
				if err := e.Backend.AttachVolume(ctx, vol, instance); err != nil {
					return err
				}
				return e.Store.Save(vol)
			}),
			e.pollVolume(vol, cinderStateInUse),
		)
	} else {
		steps = append(steps, extend, e.pollVolume(vol, cinderStateAvailable))
	}

	return Executor{
		Name:      "volume extend",
		Task:      tasks.NewChain("extend "+vol.Describe(), steps...),
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(vol, models.SetOK) },
		OnFailure: markErred(e.Store, vol),
		Monitor:   e.Monitor,
	}
}

// Attach the volume to the instance and wait until it is in use.
func (e *VolumeExecutors) Attach(vol *models.Volume, instance *models.Instance) Executor {
	task := tasks.NewChain("attach "+vol.Describe(),
		transitionTask(e.Store, vol, models.BeginUpdating),
		tasks.NewTask("attach volume on backend", func(ctx context.Context) error {
			if err := e.Backend.AttachVolume(ctx, vol, instance); err != nil {
				return err
			}
			return e.Store.Save(vol)
		}),
		e.pollVolume(vol, cinderStateInUse),
	)
	return Executor{
		Name:      "volume attach",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(vol, models.SetOK) },
		OnFailure: markErred(e.Store, vol),
		Monitor:   e.Monitor,
	}
}

// Detach the volume from its instance and wait until it is available.
func (e *VolumeExecutors) Detach(vol *models.Volume, instance *models.Instance) Executor {
	task := tasks.NewChain("detach "+vol.Describe(),
		transitionTask(e.Store, vol, models.BeginUpdating),
		tasks.NewTask("detach volume on backend", func(ctx context.Context) error {
			if err := e.Backend.DetachVolume(ctx, vol, instance); err != nil {
				return err
			}
			return e.Store.Save(vol)
		}),
		e.pollVolume(vol, cinderStateAvailable),
	)
	return Executor{
		Name:      "volume detach",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(vol, models.SetOK) },
		OnFailure: markErred(e.Store, vol),
		Monitor:   e.Monitor,
	}
}

// Executor that fails immediately with the given error. Used when a
// workflow cannot even be assembled, e.g. because a record is missing.
func failedExecutor(name string, monitor Monitor, err error) Executor {
	return Executor{
		Name:    name,
		Task:    tasks.NewTask(name, func(ctx context.Context) error { return err }),
		Monitor: monitor,
	}
}
