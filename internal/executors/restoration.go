// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
)

type RestorationExecutors struct {
	Store     *models.Store
	Volumes   VolumeBackend
	Backups   VolumeBackupBackend
	Instances InstanceBackend
	Conf      conf.ExecutorConfig
	Monitor   Monitor
}

// Create the records for restoring an instance from a DR backup: the
// restoration itself, the new instance rebuilt from the captured metadata,
// and, per volume backup, a mirrored backup to import from the exported
// record plus the volume to restore onto.
func PrepareDRBackupRestoration(store *models.Store, backup *models.DRBackup, tenant *models.Tenant) (*models.DRBackupRestoration, error) {
	meta, err := backup.GetMetadata()
	if err != nil {
		return nil, err
	}
	restoration := &models.DRBackupRestoration{
		UUID:            uuid.NewString(),
		DRBackupUUID:    backup.UUID,
		TenantUUID:      tenant.UUID,
		FlavorBackendID: meta.FlavorBackendID,
	}
	restoration.State = models.StateCreationScheduled
	instance := &models.Instance{
		UUID:            uuid.NewString(),
		TenantUUID:      tenant.UUID,
		Name:            meta.InstanceName,
		Description:     "Restored from DR backup " + backup.Name,
		FlavorName:      meta.FlavorName,
		FlavorBackendID: meta.FlavorBackendID,
		KeyName:         meta.KeyName,
	}
	instance.State = models.StateCreationScheduled
	restoration.InstanceUUID = instance.UUID
	if err := store.Insert(restoration, instance); err != nil {
		return nil, err
	}

	volBackups, err := store.VolumeBackupsOfDRBackup(backup.UUID)
	if err != nil {
		return nil, err
	}
	if len(volBackups) == 0 {
		return nil, fmt.Errorf("%s has no volume backups to restore", backup.Describe())
	}
	for _, vb := range volBackups {
		if vb.RecordUUID == "" {
			return nil, fmt.Errorf("%s has no exported record", vb.Describe())
		}
		mirrored := &models.VolumeBackup{
			UUID:       uuid.NewString(),
			TenantUUID: tenant.UUID,
			Name:       "Mirror of " + vb.Name,
			SizeGiB:    vb.SizeGiB,
			Bootable:   vb.Bootable,
			RecordUUID: vb.RecordUUID,
		}
		mirrored.State = models.StateCreationScheduled
		vol := &models.Volume{
			UUID:         uuid.NewString(),
			TenantUUID:   tenant.UUID,
			Name:         meta.InstanceName + " restored volume",
			SizeGiB:      vb.SizeGiB,
			Bootable:     vb.Bootable,
			InstanceUUID: instance.UUID,
		}
		vol.State = models.StateCreationScheduled
		link := &models.VolumeBackupRestoration{
			UUID:                     uuid.NewString(),
			TenantUUID:               tenant.UUID,
			DRBackupRestorationUUID:  restoration.UUID,
			VolumeBackupUUID:         vb.UUID,
			MirroredVolumeBackupUUID: mirrored.UUID,
			VolumeUUID:               vol.UUID,
		}
		if err := store.Insert(mirrored, vol, link); err != nil {
			return nil, err
		}
	}
	return restoration, nil
}

// Run a prepared restoration: per volume backup, create a fresh volume,
// import the exported record into a mirrored backend backup, and restore it
// onto the volume, all volumes in parallel. The original backups stay
// untouched. Once all volumes are restored, the instance is booted from
// them and the mirrored backend backups are cleaned up.
func (e *RestorationExecutors) Create(restoration *models.DRBackupRestoration) Executor {
	tenant, err := e.Store.GetTenant(restoration.TenantUUID)
	if err != nil {
		return failedExecutor("dr backup restore", e.Monitor, err)
	}
	instance, err := e.Store.GetInstance(restoration.InstanceUUID)
	if err != nil {
		return failedExecutor("dr backup restore", e.Monitor, err)
	}
	links, err := e.Store.VolumeBackupRestorationsOf(restoration.UUID)
	if err != nil {
		return failedExecutor("dr backup restore", e.Monitor, err)
	}
	branches := make([]tasks.Task, 0, len(links))
	for i := range links {
		branch, err := e.restoreBranch(&links[i])
		if err != nil {
			return failedExecutor("dr backup restore", e.Monitor, err)
		}
		branches = append(branches, branch)
	}

	task := tasks.NewChain("restore "+restoration.Describe(),
		transitionTask(e.Store, restoration, models.BeginCreating),
		tasks.NewGroup("restore volumes of "+restoration.Describe(), branches...),
		// Boot the instance from the restored volumes.
		transitionTask(e.Store, instance, models.BeginCreating),
		tasks.NewTask("create server on backend", func(ctx context.Context) error {
			vols, err := e.Store.VolumesOfInstance(instance.UUID)
			if err != nil {
				return err
			}
			if err := e.Instances.CreateInstance(ctx, tenant, instance, vols, nil); err != nil {
				return err
			}
			return e.Store.Save(instance)
		}),
		&tasks.PollRuntimeState{
			TaskName:      "poll " + instance.Describe(),
			Poll:          pollAfter(instancePollCountdownSeconds, e.Conf.Poll),
			Fetch:         func(ctx context.Context) (string, error) { return e.Instances.GetInstanceState(ctx, instance) },
			SuccessStates: []string{novaStateActive},
			ErredStates:   []string{novaStateError},
			OnState:       func(state string) error { return e.Store.SetRuntimeState(instance, state) },
		},
		transitionTask(e.Store, instance, models.SetOK),
	)
	return Executor{
		Name: "dr backup restore",
		Task: task,
		OnSuccess: func(ctx context.Context) error {
			if err := e.cleanupMirroredBackups(ctx, links); err != nil {
				if serr := e.Store.SetErredWithMessage(restoration, err.Error()); serr != nil {
					return serr
				}
				return err
			}
			return e.Store.Transition(restoration, models.SetOK)
		},
		OnFailure: e.compensate(restoration, instance, links),
		Monitor:   e.Monitor,
	}
}

// Restore one volume: fresh volume, mirrored backup from the record, restore.
func (e *RestorationExecutors) restoreBranch(link *models.VolumeBackupRestoration) (tasks.Task, error) {
	vol, err := e.Store.GetVolume(link.VolumeUUID)
	if err != nil {
		return nil, err
	}
	mirrored, err := e.Store.GetVolumeBackup(link.MirroredVolumeBackupUUID)
	if err != nil {
		return nil, err
	}
	record, err := e.Store.GetVolumeBackupRecord(mirrored.RecordUUID)
	if err != nil {
		return nil, err
	}
	pollVolume := func(erredStates ...string) tasks.Task {
		return &tasks.PollRuntimeState{
			TaskName:      "poll " + vol.Describe(),
			Poll:          pollAfter(volumePollCountdownSeconds, e.Conf.Poll),
			Fetch:         func(ctx context.Context) (string, error) { return e.Volumes.GetVolumeState(ctx, vol) },
			SuccessStates: []string{cinderStateAvailable},
			ErredStates:   erredStates,
			OnState:       func(state string) error { return e.Store.SetRuntimeState(vol, state) },
		}
	}
	return tasks.NewChain("restore "+vol.Describe(),
		transitionTask(e.Store, vol, models.BeginCreating),
		tasks.NewTask("create volume on backend", func(ctx context.Context) error {
			if err := e.Volumes.CreateVolume(ctx, vol, ""); err != nil {
				return err
			}
			return e.Store.Save(vol)
		}),
		pollVolume(cinderStateError),

		transitionTask(e.Store, mirrored, models.BeginCreating),
		tasks.NewTask("import backup record", func(ctx context.Context) error {
			if err := e.Backups.ImportVolumeBackupRecord(ctx, mirrored, record); err != nil {
				return err
			}
			return e.Store.Save(mirrored)
		}),
		&tasks.PollRuntimeState{
			TaskName:      "poll " + mirrored.Describe(),
			Poll:          pollAfter(snapshotPollCountdownSeconds, e.Conf.Poll),
			Fetch:         func(ctx context.Context) (string, error) { return e.Backups.GetVolumeBackupState(ctx, mirrored) },
			SuccessStates: []string{cinderStateAvailable},
			ErredStates:   []string{cinderStateError},
			OnState:       func(state string) error { return e.Store.SetRuntimeState(mirrored, state) },
		},
		transitionTask(e.Store, mirrored, models.SetOK),

		tasks.NewTask("restore backup onto volume", func(ctx context.Context) error {
			return e.Backups.RestoreVolumeBackup(ctx, mirrored, vol)
		}),
		pollVolume(cinderStateError, cinderStateErrorRestoring),
		// Cinder renames restored volumes, so push our name back.
		tasks.NewTask("rename volume on backend", func(ctx context.Context) error {
			return e.Volumes.UpdateVolume(ctx, vol)
		}),
		transitionTask(e.Store, vol, models.SetOK),
	), nil
}

// Delete the mirrored backend backups once the volumes are restored. The
// exported records stay, so the original backups can be restored again.
func (e *RestorationExecutors) cleanupMirroredBackups(ctx context.Context, links []models.VolumeBackupRestoration) error {
	branches := make([]tasks.Task, 0, len(links))
	for _, link := range links {
		mirrored, err := e.Store.GetVolumeBackup(link.MirroredVolumeBackupUUID)
		if err != nil {
			return err
		}
		branches = append(branches, tasks.NewChain("delete "+mirrored.Describe(),
			transitionTask(e.Store, mirrored, models.ScheduleDeleting),
			transitionTask(e.Store, mirrored, models.BeginDeleting),
			tasks.NewTask("delete mirrored backup on backend", func(ctx context.Context) error {
				return e.Backups.DeleteVolumeBackup(ctx, mirrored)
			}),
			&tasks.PollBackendCheck{
				TaskName: "wait for deletion of " + mirrored.Describe(),
				Poll:     e.Conf.Poll,
				Gone:     func(ctx context.Context) (bool, error) { return e.Backups.VolumeBackupGone(ctx, mirrored) },
			},
			tasks.NewTask("drop mirrored backup record", func(ctx context.Context) error {
				return e.Store.Delete(mirrored)
			}),
		))
	}
	return tasks.NewGroup("delete mirrored backups", branches...).Run(ctx)
}

// Settle the records of a failed restoration, like the DR backup
// compensation: drop what was never started, mark the rest erred, keep
// what already finished.
func (e *RestorationExecutors) compensate(restoration *models.DRBackupRestoration, instance *models.Instance, links []models.VolumeBackupRestoration) func(context.Context, error) error {
	return func(ctx context.Context, taskErr error) error {
		e.Monitor.observeCompensation()
		settle := func(res models.Resource) error {
			switch res.GetLifecycle().State {
			case models.StateOK:
				// Finished resources stay usable.
				return nil
			case models.StateCreationScheduled:
				return e.Store.Delete(res)
			}
			return e.Store.SetErredWithMessage(res, "restoration failed: "+taskErr.Error())
		}
		for _, link := range links {
			vol, err := e.Store.GetVolume(link.VolumeUUID)
			if err != nil {
				return err
			}
			if err := settle(vol); err != nil {
				return err
			}
			mirrored, err := e.Store.GetVolumeBackup(link.MirroredVolumeBackupUUID)
			if err != nil {
				return err
			}
			if err := settle(mirrored); err != nil {
				return err
			}
		}
		if err := settle(instance); err != nil {
			return err
		}
		return e.Store.SetErredWithMessage(restoration, taskErr.Error())
	}
}
