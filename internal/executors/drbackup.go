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

// Backend operations needed for cinder backups.
type VolumeBackupBackend interface {
	CreateVolumeBackup(ctx context.Context, backup *models.VolumeBackup, sourceBackendID string) error
	DeleteVolumeBackup(ctx context.Context, backup *models.VolumeBackup) error
	GetVolumeBackupState(ctx context.Context, backup *models.VolumeBackup) (string, error)
	VolumeBackupGone(ctx context.Context, backup *models.VolumeBackup) (bool, error)
	ExportVolumeBackupRecord(ctx context.Context, backup *models.VolumeBackup) (*models.VolumeBackupRecord, error)
	ImportVolumeBackupRecord(ctx context.Context, backup *models.VolumeBackup, record *models.VolumeBackupRecord) error
	RestoreVolumeBackup(ctx context.Context, backup *models.VolumeBackup, vol *models.Volume) error
}

type DRBackupExecutors struct {
	Store     *models.Store
	Snapshots SnapshotBackend
	Volumes   VolumeBackend
	Backups   VolumeBackupBackend
	Conf      conf.ExecutorConfig
	Monitor   Monitor
}

// Create the records for a DR backup of the instance: the backup itself
// plus, per instance volume, a temporary snapshot, a temporary volume, and
// the cinder backup taken from it. All records start out scheduled; the
// create executor works through them.
func PrepareDRBackup(store *models.Store, instance *models.Instance, name, scheduleUUID string) (*models.DRBackup, error) {
	backup := &models.DRBackup{
		UUID:               uuid.NewString(),
		TenantUUID:         instance.TenantUUID,
		Name:               name,
		SourceInstanceUUID: instance.UUID,
		BackupScheduleUUID: scheduleUUID,
	}
	backup.State = models.StateCreationScheduled
	if err := backup.CaptureMetadata(instance); err != nil {
		return nil, err
	}
	if err := store.Insert(backup); err != nil {
		return nil, err
	}
	vols, err := store.VolumesOfInstance(instance.UUID)
	if err != nil {
		return nil, err
	}
	if len(vols) == 0 {
		return nil, fmt.Errorf("%s has no volumes to back up", instance.Describe())
	}
	for _, vol := range vols {
		snap := &models.Snapshot{
			UUID:                uuid.NewString(),
			TenantUUID:          instance.TenantUUID,
			Name:                "Temporary snapshot for DR backup " + backup.Name,
			SizeGiB:             vol.SizeGiB,
			SourceVolumeUUID:    vol.UUID,
			TempForDRBackupUUID: backup.UUID,
		}
		snap.State = models.StateCreationScheduled
		tempVol := &models.Volume{
			UUID:                uuid.NewString(),
			TenantUUID:          instance.TenantUUID,
			Name:                "Temporary volume for DR backup " + backup.Name,
			SizeGiB:             vol.SizeGiB,
			Bootable:            vol.Bootable,
			Type:                vol.Type,
			SourceSnapshotUUID:  snap.UUID,
			TempForDRBackupUUID: backup.UUID,
		}
		tempVol.State = models.StateCreationScheduled
		volBackup := &models.VolumeBackup{
			UUID:             uuid.NewString(),
			TenantUUID:       instance.TenantUUID,
			Name:             "Backup of " + vol.Name,
			SizeGiB:          vol.SizeGiB,
			Bootable:         vol.Bootable,
			SourceVolumeUUID: tempVol.UUID,
			DRBackupUUID:     backup.UUID,
		}
		volBackup.State = models.StateCreationScheduled
		if err := store.Insert(snap, tempVol, volBackup); err != nil {
			return nil, err
		}
	}
	return backup, nil
}

// Run a prepared DR backup: per instance volume, snapshot the volume, clone
// the snapshot into a temporary volume, and take a cinder backup of that
// volume, all volumes in parallel. On success the temporary resources are
// cleaned up; on failure the compensation settles all records and
// deactivates the backup schedule, if any.
func (e *DRBackupExecutors) Create(backup *models.DRBackup) Executor {
	branches, err := e.createBranches(backup)
	if err != nil {
		return failedExecutor("dr backup create", e.Monitor, err)
	}
	task := tasks.NewChain("create "+backup.Describe(),
		transitionTask(e.Store, backup, models.BeginCreating),
		tasks.NewGroup("back up volumes of "+backup.Describe(), branches...),
	)
	return Executor{
		Name: "dr backup create",
		Task: task,
		OnSuccess: func(ctx context.Context) error {
			if err := e.cleanupTemporaryResources(backup).Run(ctx); err != nil {
				if serr := e.Store.SetErredWithMessage(backup, err.Error()); serr != nil {
					return serr
				}
				return err
			}
			return e.Store.Transition(backup, models.SetOK)
		},
		OnFailure: e.compensate(backup),
		Monitor:   e.Monitor,
	}
}

// One branch per instance volume: snapshot, temporary volume, cinder backup.
func (e *DRBackupExecutors) createBranches(backup *models.DRBackup) ([]tasks.Task, error) {
	snaps, err := e.Store.TemporarySnapshotsOfDRBackup(backup.UUID)
	if err != nil {
		return nil, err
	}
	tempVols, err := e.Store.TemporaryVolumesOfDRBackup(backup.UUID)
	if err != nil {
		return nil, err
	}
	volBackups, err := e.Store.VolumeBackupsOfDRBackup(backup.UUID)
	if err != nil {
		return nil, err
	}
	tempVolBySnapshot := make(map[string]*models.Volume, len(tempVols))
	for i := range tempVols {
		tempVolBySnapshot[tempVols[i].SourceSnapshotUUID] = &tempVols[i]
	}
	volBackupBySource := make(map[string]*models.VolumeBackup, len(volBackups))
	for i := range volBackups {
		volBackupBySource[volBackups[i].SourceVolumeUUID] = &volBackups[i]
	}

	branches := make([]tasks.Task, 0, len(snaps))
	for i := range snaps {
		snap := &snaps[i]
		tempVol := tempVolBySnapshot[snap.UUID]
		if tempVol == nil {
			return nil, fmt.Errorf("no temporary volume prepared for %s", snap.Describe())
		}
		volBackup := volBackupBySource[tempVol.UUID]
		if volBackup == nil {
			return nil, fmt.Errorf("no volume backup prepared for %s", tempVol.Describe())
		}
		branches = append(branches, e.createBranch(snap, tempVol, volBackup))
	}
	return branches, nil
}

func (e *DRBackupExecutors) createBranch(snap *models.Snapshot, tempVol *models.Volume, volBackup *models.VolumeBackup) tasks.Task {
	return tasks.NewChain("back up "+snap.SourceVolumeUUID,
		// Snapshot the source volume. Force, since it may be attached.
		transitionTask(e.Store, snap, models.BeginCreating),
		tasks.NewTask("create snapshot on backend", func(ctx context.Context) error {
			source, err := e.Store.GetVolume(snap.SourceVolumeUUID)
			if err != nil {
				return err
			}
			if err := e.Snapshots.CreateSnapshot(ctx, snap, source.BackendID, true); err != nil {
				return err
			}
			return e.Store.Save(snap)
		}),
		&tasks.PollRuntimeState{
			TaskName:      "poll " + snap.Describe(),
			Poll:          pollAfter(snapshotPollCountdownSeconds, e.Conf.Poll),
			Fetch:         func(ctx context.Context) (string, error) { return e.Snapshots.GetSnapshotState(ctx, snap) },
			SuccessStates: []string{cinderStateAvailable},
			ErredStates:   []string{cinderStateError},
			OnState:       func(state string) error { return e.Store.SetRuntimeState(snap, state) },
		},
		transitionTask(e.Store, snap, models.SetOK),

		// Clone the snapshot into a temporary volume.
		transitionTask(e.Store, tempVol, models.BeginCreating),
		tasks.NewTask("create temporary volume on backend", func(ctx context.Context) error {
			if err := e.Volumes.CreateVolume(ctx, tempVol, snap.BackendID); err != nil {
				return err
			}
			return e.Store.Save(tempVol)
		}),
		&tasks.PollRuntimeState{
			TaskName:      "poll " + tempVol.Describe(),
			Poll:          pollAfter(volumePollCountdownSeconds, e.Conf.Poll),
			Fetch:         func(ctx context.Context) (string, error) { return e.Volumes.GetVolumeState(ctx, tempVol) },
			SuccessStates: []string{cinderStateAvailable},
			ErredStates:   []string{cinderStateError},
			OnState:       func(state string) error { return e.Store.SetRuntimeState(tempVol, state) },
		},
		transitionTask(e.Store, tempVol, models.SetOK),

		// Back up the temporary volume and export the locator record.
		transitionTask(e.Store, volBackup, models.BeginCreating),
		tasks.NewTask("create volume backup on backend", func(ctx context.Context) error {
			if err := e.Backups.CreateVolumeBackup(ctx, volBackup, tempVol.BackendID); err != nil {
				return err
			}
			return e.Store.Save(volBackup)
		}),
		&tasks.PollRuntimeState{
			TaskName:      "poll " + volBackup.Describe(),
			Poll:          pollAfter(volumePollCountdownSeconds, e.Conf.Poll),
			Fetch:         func(ctx context.Context) (string, error) { return e.Backups.GetVolumeBackupState(ctx, volBackup) },
			SuccessStates: []string{cinderStateAvailable},
			ErredStates:   []string{cinderStateError},
			OnState:       func(state string) error { return e.Store.SetRuntimeState(volBackup, state) },
		},
		tasks.NewTask("export backup record", func(ctx context.Context) error {
			record, err := e.Backups.ExportVolumeBackupRecord(ctx, volBackup)
			if err != nil {
				return err
			}
			record.UUID = uuid.NewString()
			if err := e.Store.Insert(record); err != nil {
				return err
			}
			volBackup.RecordUUID = record.UUID
			return e.Store.Save(volBackup)
		}),
		transitionTask(e.Store, volBackup, models.SetOK),
	)
}

// Delete the temporary volumes and snapshots once their backups exist.
func (e *DRBackupExecutors) cleanupTemporaryResources(backup *models.DRBackup) tasks.Task {
	return tasks.NewTask("clean up temporary resources of "+backup.Describe(), func(ctx context.Context) error {
		tempVols, err := e.Store.TemporaryVolumesOfDRBackup(backup.UUID)
		if err != nil {
			return err
		}
		branches := make([]tasks.Task, 0, len(tempVols))
		for i := range tempVols {
			tempVol := &tempVols[i]
			branches = append(branches, tasks.NewChain("delete "+tempVol.Describe(),
				transitionTask(e.Store, tempVol, models.ScheduleDeleting),
				transitionTask(e.Store, tempVol, models.BeginDeleting),
				tasks.NewTask("delete temporary volume on backend", func(ctx context.Context) error {
					return e.Volumes.DeleteVolume(ctx, tempVol)
				}),
				&tasks.PollBackendCheck{
					TaskName: "wait for deletion of " + tempVol.Describe(),
					Poll:     e.Conf.Poll,
					Gone:     func(ctx context.Context) (bool, error) { return e.Volumes.VolumeGone(ctx, tempVol) },
				},
				tasks.NewTask("drop volume record", func(ctx context.Context) error {
					return e.Store.Delete(tempVol)
				}),
			))
		}
		if err := tasks.NewGroup("delete temporary volumes", branches...).Run(ctx); err != nil {
			return err
		}

		snaps, err := e.Store.TemporarySnapshotsOfDRBackup(backup.UUID)
		if err != nil {
			return err
		}
		branches = branches[:0]
		for i := range snaps {
			snap := &snaps[i]
			branches = append(branches, tasks.NewChain("delete "+snap.Describe(),
				transitionTask(e.Store, snap, models.ScheduleDeleting),
				transitionTask(e.Store, snap, models.BeginDeleting),
				tasks.NewTask("delete temporary snapshot on backend", func(ctx context.Context) error {
					return e.Snapshots.DeleteSnapshot(ctx, snap)
				}),
				&tasks.PollBackendCheck{
					TaskName: "wait for deletion of " + snap.Describe(),
					Poll:     e.Conf.Poll,
					Gone:     func(ctx context.Context) (bool, error) { return e.Snapshots.SnapshotGone(ctx, snap) },
				},
				tasks.NewTask("drop snapshot record", func(ctx context.Context) error {
					return e.Store.Delete(snap)
				}),
			))
		}
		return tasks.NewGroup("delete temporary snapshots", branches...).Run(ctx)
	})
}

// Settle the records of a failed DR backup: records the workflow never
// reached are dropped, started ones are marked erred, finished ones keep
// their state, and the producing backup schedule is deactivated so it
// stops spawning doomed backups.
func (e *DRBackupExecutors) compensate(backup *models.DRBackup) func(context.Context, error) error {
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
			return e.Store.SetErredWithMessage(res, "DR backup failed: "+taskErr.Error())
		}
		volBackups, err := e.Store.VolumeBackupsOfDRBackup(backup.UUID)
		if err != nil {
			return err
		}
		for i := range volBackups {
			if err := settle(&volBackups[i]); err != nil {
				return err
			}
		}
		tempVols, err := e.Store.TemporaryVolumesOfDRBackup(backup.UUID)
		if err != nil {
			return err
		}
		for i := range tempVols {
			if err := settle(&tempVols[i]); err != nil {
				return err
			}
		}
		snaps, err := e.Store.TemporarySnapshotsOfDRBackup(backup.UUID)
		if err != nil {
			return err
		}
		for i := range snaps {
			if err := settle(&snaps[i]); err != nil {
				return err
			}
		}
		schedule, err := e.Store.BackupScheduleOfDRBackup(backup)
		if err != nil {
			return err
		}
		if schedule != nil && schedule.IsActive {
			schedule.IsActive = false
			schedule.ErrorMessage = "disabled because DR backup " + backup.UUID + " failed"
			if err := e.Store.Save(schedule); err != nil {
				return err
			}
		}
		return e.Store.SetErredWithMessage(backup, taskErr.Error())
	}
}

// Delete the DR backup: remove the cinder backups and any temporary
// volumes and snapshots a failed run left behind from the backend, each
// branch settling its own record. With force, backend failures drop the
// records anyway instead of keeping them erred.
func (e *DRBackupExecutors) Delete(backup *models.DRBackup, force bool) Executor {
	volBackups, err := e.Store.VolumeBackupsOfDRBackup(backup.UUID)
	if err != nil {
		return failedExecutor("dr backup delete", e.Monitor, err)
	}
	tempVols, err := e.Store.TemporaryVolumesOfDRBackup(backup.UUID)
	if err != nil {
		return failedExecutor("dr backup delete", e.Monitor, err)
	}
	snaps, err := e.Store.TemporarySnapshotsOfDRBackup(backup.UUID)
	if err != nil {
		return failedExecutor("dr backup delete", e.Monitor, err)
	}
	branches := make([]tasks.Task, 0, len(volBackups)+len(tempVols)+len(snaps))
	for i := range volBackups {
		vb := &volBackups[i]
		branches = append(branches, e.deleteBranch(vb, vb.BackendID, force,
			func(ctx context.Context) error { return e.Backups.DeleteVolumeBackup(ctx, vb) },
			func(ctx context.Context) (bool, error) { return e.Backups.VolumeBackupGone(ctx, vb) },
		))
	}
	for i := range tempVols {
		vol := &tempVols[i]
		branches = append(branches, e.deleteBranch(vol, vol.BackendID, force,
			func(ctx context.Context) error { return e.Volumes.DeleteVolume(ctx, vol) },
			func(ctx context.Context) (bool, error) { return e.Volumes.VolumeGone(ctx, vol) },
		))
	}
	for i := range snaps {
		snap := &snaps[i]
		branches = append(branches, e.deleteBranch(snap, snap.BackendID, force,
			func(ctx context.Context) error { return e.Snapshots.DeleteSnapshot(ctx, snap) },
			func(ctx context.Context) (bool, error) { return e.Snapshots.SnapshotGone(ctx, snap) },
		))
	}
	task := tasks.NewChain("delete "+backup.Describe(),
		transitionTask(e.Store, backup, models.BeginDeleting),
		tasks.NewGroup("delete resources of "+backup.Describe(), branches...),
	)
	return Executor{
		Name:      "dr backup delete",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Delete(backup) },
		OnFailure: func(ctx context.Context, taskErr error) error {
			return e.Store.SetErredWithMessage(backup, taskErr.Error())
		},
		Monitor: e.Monitor,
	}
}

// Delete one resource of the backup and settle its record: the record is
// dropped once the backend resource is gone, or right away when it never
// had a backend id. A backend failure keeps the record erred, or drops it
// anyway when force is set.
func (e *DRBackupExecutors) deleteBranch(res models.Resource, backendID string, force bool, del func(context.Context) error, gone func(context.Context) (bool, error)) tasks.Task {
	return tasks.NewTask("delete "+res.Describe(), func(ctx context.Context) error {
		err := func() error {
			if err := e.Store.Transition(res, models.ScheduleDeleting); err != nil {
				return err
			}
			if err := e.Store.Transition(res, models.BeginDeleting); err != nil {
				return err
			}
			if backendID == "" {
				return nil
			}
			if err := del(ctx); err != nil {
				return err
			}
			return (&tasks.PollBackendCheck{
				TaskName: "wait for deletion of " + res.Describe(),
				Poll:     e.Conf.Poll,
				Gone:     gone,
			}).Run(ctx)
		}()
		if err == nil {
			return e.Store.Delete(res)
		}
		if force {
			e.Monitor.observeCompensation()
			if derr := e.Store.Delete(res); derr != nil {
				return derr
			}
			return nil
		}
		if serr := e.Store.SetErredWithMessage(res, err.Error()); serr != nil {
			return serr
		}
		return err
	})
}

// Drop the backup and all its records without touching the backend. Last
// resort when the backend resources are unreachable for good.
func (e *DRBackupExecutors) ForceDelete(backup *models.DRBackup) Executor {
	task := tasks.NewTask("force delete "+backup.Describe(), func(ctx context.Context) error {
		e.Monitor.observeCompensation()
		for _, records := range []func(string) ([]models.Resource, error){
			e.volumeBackupRecords, e.temporaryVolumeRecords, e.temporarySnapshotRecords,
		} {
			resources, err := records(backup.UUID)
			if err != nil {
				return err
			}
			for _, res := range resources {
				if err := e.Store.Delete(res); err != nil {
					return err
				}
			}
		}
		return e.Store.Delete(backup)
	})
	return Executor{Name: "dr backup force delete", Task: task, Monitor: e.Monitor}
}

func (e *DRBackupExecutors) volumeBackupRecords(backupUUID string) ([]models.Resource, error) {
	volBackups, err := e.Store.VolumeBackupsOfDRBackup(backupUUID)
	if err != nil {
		return nil, err
	}
	resources := make([]models.Resource, len(volBackups))
	for i := range volBackups {
		resources[i] = &volBackups[i]
	}
	return resources, nil
}

func (e *DRBackupExecutors) temporaryVolumeRecords(backupUUID string) ([]models.Resource, error) {
	tempVols, err := e.Store.TemporaryVolumesOfDRBackup(backupUUID)
	if err != nil {
		return nil, err
	}
	resources := make([]models.Resource, len(tempVols))
	for i := range tempVols {
		resources[i] = &tempVols[i]
	}
	return resources, nil
}

func (e *DRBackupExecutors) temporarySnapshotRecords(backupUUID string) ([]models.Resource, error) {
	snaps, err := e.Store.TemporarySnapshotsOfDRBackup(backupUUID)
	if err != nil {
		return nil, err
	}
	resources := make([]models.Resource, len(snaps))
	for i := range snaps {
		resources[i] = &snaps[i]
	}
	return resources, nil
}
