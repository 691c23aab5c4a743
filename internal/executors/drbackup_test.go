// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"errors"
	"testing"

	"github.com/cobaltcore-dev/halcyon/internal/models"
)

type mockSnapshotBackend struct {
	createErr error
	deleted   []string
}

func (m *mockSnapshotBackend) CreateSnapshot(ctx context.Context, snap *models.Snapshot, sourceBackendID string, force bool) error {
	if m.createErr != nil {
		return m.createErr
	}
	if !force {
		return errors.New("source volume is attached, force required")
	}
	snap.BackendID = "snap-backend-" + snap.UUID
	return nil
}

func (m *mockSnapshotBackend) UpdateSnapshot(ctx context.Context, snap *models.Snapshot) error {
	return nil
}

func (m *mockSnapshotBackend) DeleteSnapshot(ctx context.Context, snap *models.Snapshot) error {
	m.deleted = append(m.deleted, snap.UUID)
	return nil
}

func (m *mockSnapshotBackend) GetSnapshotState(ctx context.Context, snap *models.Snapshot) (string, error) {
	return cinderStateAvailable, nil
}

func (m *mockSnapshotBackend) SnapshotGone(ctx context.Context, snap *models.Snapshot) (bool, error) {
	return true, nil
}

func (m *mockSnapshotBackend) PullSnapshot(ctx context.Context, snap *models.Snapshot) error {
	return nil
}

type mockVolumeBackupBackend struct {
	createErr error
	deleteErr error
	deleted   []string
	imported  []string
	restored  []string
}

func (m *mockVolumeBackupBackend) CreateVolumeBackup(ctx context.Context, backup *models.VolumeBackup, sourceBackendID string) error {
	if m.createErr != nil {
		return m.createErr
	}
	backup.BackendID = "backup-backend-" + backup.UUID
	return nil
}

func (m *mockVolumeBackupBackend) DeleteVolumeBackup(ctx context.Context, backup *models.VolumeBackup) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, backup.UUID)
	return nil
}

func (m *mockVolumeBackupBackend) GetVolumeBackupState(ctx context.Context, backup *models.VolumeBackup) (string, error) {
	return cinderStateAvailable, nil
}

func (m *mockVolumeBackupBackend) VolumeBackupGone(ctx context.Context, backup *models.VolumeBackup) (bool, error) {
	return true, nil
}

func (m *mockVolumeBackupBackend) ExportVolumeBackupRecord(ctx context.Context, backup *models.VolumeBackup) (*models.VolumeBackupRecord, error) {
	return &models.VolumeBackupRecord{
		Service: "cinder.backup.drivers.swift",
		URL:     "encoded-locator-" + backup.UUID,
	}, nil
}

func (m *mockVolumeBackupBackend) ImportVolumeBackupRecord(ctx context.Context, backup *models.VolumeBackup, record *models.VolumeBackupRecord) error {
	m.imported = append(m.imported, record.UUID)
	backup.BackendID = "imported-backend-" + backup.UUID
	return nil
}

func (m *mockVolumeBackupBackend) RestoreVolumeBackup(ctx context.Context, backup *models.VolumeBackup, vol *models.Volume) error {
	m.restored = append(m.restored, vol.UUID)
	return nil
}

// Instance with two OK volumes, the boot volume first.
func newTestInstance(store *models.Store, t *testing.T) *models.Instance {
	instance := &models.Instance{
		UUID:            "instance-1",
		TenantUUID:      "tenant-1",
		Name:            "web-1",
		BackendID:       "server-backend-1",
		FlavorName:      "m1.small",
		FlavorBackendID: "flavor-1",
	}
	instance.State = models.StateOK
	bootVol := &models.Volume{
		UUID: "vol-boot", TenantUUID: "tenant-1", Name: "web-1-boot",
		BackendID: "vol-backend-boot", SizeGiB: 20, Bootable: true,
		InstanceUUID: instance.UUID,
	}
	bootVol.State = models.StateOK
	dataVol := &models.Volume{
		UUID: "vol-data", TenantUUID: "tenant-1", Name: "web-1-data",
		BackendID: "vol-backend-data", SizeGiB: 100,
		InstanceUUID: instance.UUID,
	}
	dataVol.State = models.StateOK
	if err := store.Insert(instance, bootVol, dataVol); err != nil {
		t.Fatal(err)
	}
	return instance
}

func TestPrepareDRBackup(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()
	instance := newTestInstance(store, t)

	backup, err := PrepareDRBackup(store, instance, "nightly", "")
	if err != nil {
		t.Fatal(err)
	}
	if backup.State != models.StateCreationScheduled {
		t.Errorf("expected backup to be scheduled, got %q", backup.State)
	}
	snaps, err := store.TemporarySnapshotsOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 temporary snapshots, got %d", len(snaps))
	}
	tempVols, err := store.TemporaryVolumesOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tempVols) != 2 {
		t.Fatalf("expected 2 temporary volumes, got %d", len(tempVols))
	}
	volBackups, err := store.VolumeBackupsOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(volBackups) != 2 {
		t.Fatalf("expected 2 volume backups, got %d", len(volBackups))
	}
	meta, err := backup.GetMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if meta.InstanceName != "web-1" || meta.FlavorBackendID != "flavor-1" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestDRBackupCreate(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()
	instance := newTestInstance(store, t)

	backup, err := PrepareDRBackup(store, instance, "nightly", "")
	if err != nil {
		t.Fatal(err)
	}

	execs := &DRBackupExecutors{
		Store:     store,
		Snapshots: &mockSnapshotBackend{},
		Volumes:   &mockVolumeBackend{},
		Backups:   &mockVolumeBackupBackend{},
		Conf:      testExecutorConf,
	}
	if err := execs.Create(backup).Execute(t.Context()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	saved, err := store.GetDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateOK {
		t.Errorf("expected backup state ok, got %q", saved.State)
	}

	// The volume backups are kept, with their exported records.
	volBackups, err := store.VolumeBackupsOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(volBackups) != 2 {
		t.Fatalf("expected 2 volume backups, got %d", len(volBackups))
	}
	for _, vb := range volBackups {
		if vb.State != models.StateOK {
			t.Errorf("expected %s to be ok, got %q", vb.Describe(), vb.State)
		}
		if vb.RecordUUID == "" {
			t.Errorf("expected %s to have an exported record", vb.Describe())
		}
		if _, err := store.GetVolumeBackupRecord(vb.RecordUUID); err != nil {
			t.Errorf("expected the record of %s to exist: %v", vb.Describe(), err)
		}
	}

	// The temporary resources are cleaned up.
	tempVols, err := store.TemporaryVolumesOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tempVols) != 0 {
		t.Errorf("expected temporary volumes to be gone, got %d", len(tempVols))
	}
	snaps, err := store.TemporarySnapshotsOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected temporary snapshots to be gone, got %d", len(snaps))
	}

	// The source volumes are untouched.
	vols, err := store.VolumesOfInstance(instance.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(vols) != 2 {
		t.Errorf("expected the instance volumes to be untouched, got %d", len(vols))
	}
}

func TestDRBackupCreate_CompensationOnFailure(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()
	instance := newTestInstance(store, t)

	schedule := &models.BackupSchedule{
		UUID:         "schedule-1",
		InstanceUUID: instance.UUID,
		Schedule:     "0 2 * * *",
		IsActive:     true,
	}
	if err := store.Insert(schedule); err != nil {
		t.Fatal(err)
	}

	backup, err := PrepareDRBackup(store, instance, "nightly", schedule.UUID)
	if err != nil {
		t.Fatal(err)
	}

	// Snapshots succeed, volume creation fails, so per branch the snapshot
	// is started but the volume backup is never reached.
	execs := &DRBackupExecutors{
		Store:     store,
		Snapshots: &mockSnapshotBackend{},
		Volumes:   &mockVolumeBackend{createErr: errors.New("quota exceeded")},
		Backups:   &mockVolumeBackupBackend{},
		Conf:      testExecutorConf,
	}
	if err := execs.Create(backup).Execute(t.Context()); err == nil {
		t.Fatal("expected an error")
	}

	saved, err := store.GetDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateErred {
		t.Errorf("expected backup state erred, got %q", saved.State)
	}
	if saved.ErrorMessage == "" {
		t.Error("expected the error message to be persisted")
	}

	// Volume backups were never started, so their records are dropped.
	volBackups, err := store.VolumeBackupsOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(volBackups) != 0 {
		t.Errorf("expected scheduled volume backups to be dropped, got %d", len(volBackups))
	}

	// Temporary volumes were started and failed, so they are marked erred.
	tempVols, err := store.TemporaryVolumesOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tempVols) != 2 {
		t.Fatalf("expected erred temporary volumes to be kept, got %d", len(tempVols))
	}
	for _, vol := range tempVols {
		if vol.State != models.StateErred {
			t.Errorf("expected %s to be erred, got %q", vol.Describe(), vol.State)
		}
	}

	// The temporary snapshots finished before the failure, so they keep
	// their state instead of being dragged into erred.
	snaps, err := store.TemporarySnapshotsOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 temporary snapshots to be kept, got %d", len(snaps))
	}
	for _, snap := range snaps {
		if snap.State != models.StateOK {
			t.Errorf("expected %s to stay ok, got %q", snap.Describe(), snap.State)
		}
		if snap.ErrorMessage != "" {
			t.Errorf("expected %s to carry no error message, got %q", snap.Describe(), snap.ErrorMessage)
		}
	}

	// The schedule is deactivated so it stops spawning doomed backups.
	savedSchedule, err := store.BackupScheduleOfDRBackup(saved)
	if err != nil {
		t.Fatal(err)
	}
	if savedSchedule.IsActive {
		t.Error("expected the backup schedule to be deactivated")
	}
	if savedSchedule.ErrorMessage == "" {
		t.Error("expected the schedule to record why it was deactivated")
	}
}

func TestDRBackupDelete(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()

	backup := &models.DRBackup{UUID: "backup-1", TenantUUID: "tenant-1", Name: "nightly"}
	backup.State = models.StateDeletionScheduled
	vb := &models.VolumeBackup{UUID: "vb-1", TenantUUID: "tenant-1", Name: "Backup of web-1-boot", BackendID: "backup-backend-1", DRBackupUUID: backup.UUID}
	vb.State = models.StateOK
	// Temporary leftovers of a failed run are cleared along with the backup.
	tempVol := &models.Volume{UUID: "tempvol-1", TenantUUID: "tenant-1", Name: "Temporary volume for DR backup nightly", BackendID: "vol-backend-temp", TempForDRBackupUUID: backup.UUID}
	tempVol.State = models.StateErred
	tempSnap := &models.Snapshot{UUID: "tempsnap-1", TenantUUID: "tenant-1", Name: "Temporary snapshot for DR backup nightly", BackendID: "snap-backend-temp", TempForDRBackupUUID: backup.UUID}
	tempSnap.State = models.StateErred
	if err := store.Insert(backup, vb, tempVol, tempSnap); err != nil {
		t.Fatal(err)
	}

	backups := &mockVolumeBackupBackend{}
	vols := &mockVolumeBackend{}
	snaps := &mockSnapshotBackend{}
	execs := &DRBackupExecutors{
		Store: store, Backups: backups, Volumes: vols, Snapshots: snaps,
		Conf: testExecutorConf,
	}
	if err := execs.Delete(backup, false).Execute(t.Context()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(backups.deleted) != 1 {
		t.Errorf("expected 1 backup backend deletion, got %d", len(backups.deleted))
	}
	if len(vols.deleted) != 1 {
		t.Errorf("expected the temporary volume to be deleted on the backend, got %v", vols.deleted)
	}
	if len(snaps.deleted) != 1 {
		t.Errorf("expected the temporary snapshot to be deleted on the backend, got %v", snaps.deleted)
	}
	if _, err := store.GetDRBackup(backup.UUID); err == nil {
		t.Error("expected the backup record to be gone")
	}
	if _, err := store.GetVolumeBackup(vb.UUID); err == nil {
		t.Error("expected the volume backup record to be gone")
	}
	if _, err := store.GetVolume(tempVol.UUID); err == nil {
		t.Error("expected the temporary volume record to be gone")
	}
	if _, err := store.GetSnapshot(tempSnap.UUID); err == nil {
		t.Error("expected the temporary snapshot record to be gone")
	}
}

func TestDRBackupDelete_KeepsErredRecordsWithoutForce(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()

	backup := &models.DRBackup{UUID: "backup-1", TenantUUID: "tenant-1", Name: "nightly"}
	backup.State = models.StateDeletionScheduled
	vb := &models.VolumeBackup{UUID: "vb-1", TenantUUID: "tenant-1", Name: "Backup of web-1-boot", BackendID: "backup-backend-1", DRBackupUUID: backup.UUID}
	vb.State = models.StateOK
	if err := store.Insert(backup, vb); err != nil {
		t.Fatal(err)
	}

	backups := &mockVolumeBackupBackend{deleteErr: errors.New("cinder is down")}
	execs := &DRBackupExecutors{Store: store, Backups: backups, Conf: testExecutorConf}
	if err := execs.Delete(backup, false).Execute(t.Context()); err == nil {
		t.Fatal("expected an error")
	}

	savedVB, err := store.GetVolumeBackup(vb.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if savedVB.State != models.StateErred || savedVB.ErrorMessage == "" {
		t.Errorf("expected the volume backup to be kept erred, got %+v", savedVB)
	}
	saved, err := store.GetDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateErred {
		t.Errorf("expected the backup to be erred, got %q", saved.State)
	}
}

func TestDRBackupDelete_ForceDropsRecords(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()

	backup := &models.DRBackup{UUID: "backup-1", TenantUUID: "tenant-1", Name: "nightly"}
	backup.State = models.StateDeletionScheduled
	vb := &models.VolumeBackup{UUID: "vb-1", TenantUUID: "tenant-1", Name: "Backup of web-1-boot", BackendID: "backup-backend-1", DRBackupUUID: backup.UUID}
	vb.State = models.StateOK
	if err := store.Insert(backup, vb); err != nil {
		t.Fatal(err)
	}

	backups := &mockVolumeBackupBackend{deleteErr: errors.New("cinder is down")}
	execs := &DRBackupExecutors{Store: store, Backups: backups, Conf: testExecutorConf}
	if err := execs.Delete(backup, true).Execute(t.Context()); err != nil {
		t.Fatalf("expected no error with force, got %v", err)
	}
	if _, err := store.GetVolumeBackup(vb.UUID); err == nil {
		t.Error("expected the volume backup record to be gone")
	}
	if _, err := store.GetDRBackup(backup.UUID); err == nil {
		t.Error("expected the backup record to be gone")
	}
}

func TestDRBackupForceDelete(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()

	backup := &models.DRBackup{UUID: "backup-1", TenantUUID: "tenant-1", Name: "nightly"}
	backup.State = models.StateErred
	vb := &models.VolumeBackup{UUID: "vb-1", TenantUUID: "tenant-1", Name: "Backup of web-1-boot", BackendID: "backup-backend-1", DRBackupUUID: backup.UUID}
	vb.State = models.StateErred
	tempVol := &models.Volume{UUID: "tempvol-1", TenantUUID: "tenant-1", Name: "Temporary volume for DR backup nightly", BackendID: "vol-backend-temp", TempForDRBackupUUID: backup.UUID}
	tempVol.State = models.StateErred
	tempSnap := &models.Snapshot{UUID: "tempsnap-1", TenantUUID: "tenant-1", Name: "Temporary snapshot for DR backup nightly", BackendID: "snap-backend-temp", TempForDRBackupUUID: backup.UUID}
	tempSnap.State = models.StateErred
	if err := store.Insert(backup, vb, tempVol, tempSnap); err != nil {
		t.Fatal(err)
	}

	backups := &mockVolumeBackupBackend{}
	vols := &mockVolumeBackend{}
	snaps := &mockSnapshotBackend{}
	execs := &DRBackupExecutors{
		Store: store, Backups: backups, Volumes: vols, Snapshots: snaps,
		Conf: testExecutorConf,
	}
	if err := execs.ForceDelete(backup).Execute(t.Context()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Only the records go, the backend is never called.
	if len(backups.deleted) != 0 || len(vols.deleted) != 0 || len(snaps.deleted) != 0 {
		t.Error("expected no backend deletions")
	}
	if _, err := store.GetDRBackup(backup.UUID); err == nil {
		t.Error("expected the backup record to be gone")
	}
	if _, err := store.GetVolumeBackup(vb.UUID); err == nil {
		t.Error("expected the volume backup record to be gone")
	}
	if _, err := store.GetVolume(tempVol.UUID); err == nil {
		t.Error("expected the temporary volume record to be gone")
	}
	if _, err := store.GetSnapshot(tempSnap.UUID); err == nil {
		t.Error("expected the temporary snapshot record to be gone")
	}
}

func TestDRBackupRestore(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()
	tenant := newTestTenant(store, t)
	instance := newTestInstance(store, t)

	// Take a backup first, so the restoration has records to work with.
	backup, err := PrepareDRBackup(store, instance, "nightly", "")
	if err != nil {
		t.Fatal(err)
	}
	backups := &mockVolumeBackupBackend{}
	createExecs := &DRBackupExecutors{
		Store:     store,
		Snapshots: &mockSnapshotBackend{},
		Volumes:   &mockVolumeBackend{},
		Backups:   backups,
		Conf:      testExecutorConf,
	}
	if err := createExecs.Create(backup).Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	restoration, err := PrepareDRBackupRestoration(store, backup, tenant)
	if err != nil {
		t.Fatal(err)
	}
	restoreExecs := &RestorationExecutors{
		Store:     store,
		Volumes:   &mockVolumeBackend{},
		Backups:   backups,
		Instances: &mockInstanceBackend{},
		Conf:      testExecutorConf,
	}
	if err := restoreExecs.Create(restoration).Execute(t.Context()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	saved, err := store.GetDRBackupRestoration(restoration.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateOK {
		t.Errorf("expected restoration state ok, got %q", saved.State)
	}
	restored, err := store.GetInstance(restoration.InstanceUUID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.State != models.StateOK {
		t.Errorf("expected restored instance to be ok, got %q", restored.State)
	}
	if restored.Name != "web-1" || restored.FlavorBackendID != "flavor-1" {
		t.Errorf("expected the instance to be rebuilt from metadata, got %+v", restored)
	}
	vols, err := store.VolumesOfInstance(restored.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(vols) != 2 {
		t.Fatalf("expected 2 restored volumes, got %d", len(vols))
	}
	if !vols[0].Bootable {
		t.Error("expected the boot volume to come first")
	}
	if len(backups.imported) != 2 {
		t.Errorf("expected 2 imported records, got %d", len(backups.imported))
	}
	if len(backups.restored) != 2 {
		t.Errorf("expected 2 restores, got %d", len(backups.restored))
	}
	// The original backups stay restorable.
	volBackups, err := store.VolumeBackupsOfDRBackup(backup.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(volBackups) != 2 {
		t.Errorf("expected the original volume backups to be kept, got %d", len(volBackups))
	}
}

type mockInstanceBackend struct {
	createErr error
	started   bool
	stopped   bool
	resized   bool
	confirmed bool
	// Runtime states returned by consecutive GetInstanceState calls. The
	// last state repeats.
	states []string
}

func (m *mockInstanceBackend) state() string {
	if len(m.states) == 0 {
		return novaStateActive
	}
	state := m.states[0]
	if len(m.states) > 1 {
		m.states = m.states[1:]
	}
	return state
}

func (m *mockInstanceBackend) CreateInstance(ctx context.Context, tenant *models.Tenant, instance *models.Instance, vols []models.Volume, securityGroups []string) error {
	if m.createErr != nil {
		return m.createErr
	}
	instance.BackendID = "server-backend-" + instance.UUID
	return nil
}

func (m *mockInstanceBackend) UpdateInstance(ctx context.Context, instance *models.Instance) error {
	return nil
}

func (m *mockInstanceBackend) DeleteInstance(ctx context.Context, instance *models.Instance) error {
	return nil
}

func (m *mockInstanceBackend) GetInstanceState(ctx context.Context, instance *models.Instance) (string, error) {
	return m.state(), nil
}

func (m *mockInstanceBackend) InstanceGone(ctx context.Context, instance *models.Instance) (bool, error) {
	return true, nil
}

func (m *mockInstanceBackend) PullInstance(ctx context.Context, instance *models.Instance) error {
	return nil
}

func (m *mockInstanceBackend) StartInstance(ctx context.Context, instance *models.Instance) error {
	m.started = true
	return nil
}

func (m *mockInstanceBackend) StopInstance(ctx context.Context, instance *models.Instance) error {
	m.stopped = true
	return nil
}

func (m *mockInstanceBackend) RestartInstance(ctx context.Context, instance *models.Instance) error {
	return nil
}

func (m *mockInstanceBackend) ResizeInstance(ctx context.Context, instance *models.Instance, flavorBackendID string) error {
	m.resized = true
	return nil
}

func (m *mockInstanceBackend) ConfirmResizeInstance(ctx context.Context, instance *models.Instance) error {
	m.confirmed = true
	return nil
}

func (m *mockInstanceBackend) SetInstanceSecurityGroups(ctx context.Context, instance *models.Instance, current, wanted []string) error {
	return nil
}

func (m *mockInstanceBackend) AssignFloatingIP(ctx context.Context, fip *models.FloatingIP, instance *models.Instance) error {
	return nil
}

func (m *mockInstanceBackend) DetachVolume(ctx context.Context, vol *models.Volume, instance *models.Instance) error {
	return nil
}

func TestDRBackupRestore_ErrorRestoringState(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()
	tenant := newTestTenant(store, t)
	instance := newTestInstance(store, t)

	backup, err := PrepareDRBackup(store, instance, "nightly", "")
	if err != nil {
		t.Fatal(err)
	}
	backups := &mockVolumeBackupBackend{}
	createExecs := &DRBackupExecutors{
		Store:     store,
		Snapshots: &mockSnapshotBackend{},
		Volumes:   &mockVolumeBackend{},
		Backups:   backups,
		Conf:      testExecutorConf,
	}
	if err := createExecs.Create(backup).Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	restoration, err := PrepareDRBackupRestoration(store, backup, tenant)
	if err != nil {
		t.Fatal(err)
	}
	links, err := store.VolumeBackupRestorationsOf(restoration.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 restoration links, got %d", len(links))
	}

	// The first volume comes up fine but fails while the backup is restored
	// onto it, which cinder reports as error_restoring.
	failing := links[0].VolumeUUID
	restoreExecs := &RestorationExecutors{
		Store: store,
		Volumes: &mockVolumeBackend{states: map[string][]string{
			failing: {cinderStateAvailable, cinderStateErrorRestoring},
		}},
		Backups:   backups,
		Instances: &mockInstanceBackend{},
		Conf:      testExecutorConf,
	}
	if err := restoreExecs.Create(restoration).Execute(t.Context()); err == nil {
		t.Fatal("expected an error")
	}

	vol, err := store.GetVolume(failing)
	if err != nil {
		t.Fatal(err)
	}
	if vol.State != models.StateErred {
		t.Errorf("expected the failing volume to be erred, got %q", vol.State)
	}
	if vol.RuntimeState != cinderStateErrorRestoring {
		t.Errorf("expected runtime state error_restoring, got %q", vol.RuntimeState)
	}
	saved, err := store.GetDRBackupRestoration(restoration.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateErred {
		t.Errorf("expected the restoration to be erred, got %q", saved.State)
	}
	// The instance was never started, so its record is dropped.
	if _, err := store.GetInstance(restoration.InstanceUUID); err == nil {
		t.Error("expected the instance record to be gone")
	}
}

func TestInstanceCreate_ProvisionsVolumes(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()
	tenant := newTestTenant(store, t)

	instance := &models.Instance{
		UUID: "instance-2", TenantUUID: tenant.UUID, Name: "web-2",
		FlavorName: "m1.small", FlavorBackendID: "flavor-1",
	}
	instance.State = models.StateCreationScheduled
	bootVol := &models.Volume{
		UUID: "vol-a", TenantUUID: tenant.UUID, Name: "web-2-boot",
		SizeGiB: 20, Bootable: true, InstanceUUID: instance.UUID,
	}
	bootVol.State = models.StateCreationScheduled
	dataVol := &models.Volume{
		UUID: "vol-b", TenantUUID: tenant.UUID, Name: "web-2-data",
		SizeGiB: 100, InstanceUUID: instance.UUID,
	}
	dataVol.State = models.StateCreationScheduled
	if err := store.Insert(instance, bootVol, dataVol); err != nil {
		t.Fatal(err)
	}

	execs := &InstanceExecutors{
		Store:   store,
		Backend: &mockInstanceBackend{},
		Volumes: &mockVolumeBackend{},
		Conf:    testExecutorConf,
	}
	if err := execs.Create(tenant, instance, nil).Execute(t.Context()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	saved, err := store.GetInstance(instance.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateOK {
		t.Errorf("expected instance state ok, got %q", saved.State)
	}
	if saved.BackendID == "" {
		t.Error("expected the instance backend id to be persisted")
	}
	vols, err := store.VolumesOfInstance(instance.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(vols) != 2 {
		t.Fatalf("expected 2 volumes, got %d", len(vols))
	}
	for _, vol := range vols {
		if vol.State != models.StateOK {
			t.Errorf("expected %s to be ok, got %q", vol.Describe(), vol.State)
		}
		if vol.BackendID == "" {
			t.Errorf("expected %s to have a backend id", vol.Describe())
		}
	}
}

func TestInstanceCreate_FailureSettlesVolumes(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()
	tenant := newTestTenant(store, t)

	instance := &models.Instance{
		UUID: "instance-2", TenantUUID: tenant.UUID, Name: "web-2",
		FlavorName: "m1.small", FlavorBackendID: "flavor-1",
	}
	instance.State = models.StateCreationScheduled
	bootVol := &models.Volume{
		UUID: "vol-a", TenantUUID: tenant.UUID, Name: "web-2-boot",
		SizeGiB: 20, Bootable: true, InstanceUUID: instance.UUID,
	}
	bootVol.State = models.StateCreationScheduled
	dataVol := &models.Volume{
		UUID: "vol-b", TenantUUID: tenant.UUID, Name: "web-2-data",
		SizeGiB: 100, InstanceUUID: instance.UUID,
	}
	dataVol.State = models.StateCreationScheduled
	if err := store.Insert(instance, bootVol, dataVol); err != nil {
		t.Fatal(err)
	}

	// The boot volume comes up, the data volume errs on the backend.
	execs := &InstanceExecutors{
		Store:   store,
		Backend: &mockInstanceBackend{},
		Volumes: &mockVolumeBackend{states: map[string][]string{
			"vol-b": {cinderStateError},
		}},
		Conf: testExecutorConf,
	}
	if err := execs.Create(tenant, instance, nil).Execute(t.Context()); err == nil {
		t.Fatal("expected an error")
	}

	savedBoot, err := store.GetVolume(bootVol.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if savedBoot.State != models.StateOK {
		t.Errorf("expected the finished volume to stay ok, got %q", savedBoot.State)
	}
	savedData, err := store.GetVolume(dataVol.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if savedData.State != models.StateErred || savedData.ErrorMessage == "" {
		t.Errorf("expected the failed volume to be erred, got %+v", savedData)
	}
	saved, err := store.GetInstance(instance.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateErred {
		t.Errorf("expected instance state erred, got %q", saved.State)
	}
}

func TestInstanceChangeFlavor(t *testing.T) {
	store, closeDB := setupStore(t)
	defer closeDB()
	instance := newTestInstance(store, t)
	if err := store.Transition(instance, models.ScheduleUpdating); err != nil {
		t.Fatal(err)
	}

	backend := &mockInstanceBackend{states: []string{novaStateVerifyResize, novaStateActive}}
	execs := &InstanceExecutors{Store: store, Backend: backend, Conf: testExecutorConf}
	if err := execs.ChangeFlavor(instance, "m1.large", "flavor-2").Execute(t.Context()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !backend.resized || !backend.confirmed {
		t.Error("expected resize and confirmation on the backend")
	}
	saved, err := store.GetInstance(instance.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.FlavorName != "m1.large" || saved.FlavorBackendID != "flavor-2" {
		t.Errorf("expected the new flavor to be recorded, got %+v", saved)
	}
	if saved.State != models.StateOK {
		t.Errorf("expected state ok, got %q", saved.State)
	}
}
