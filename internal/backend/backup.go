// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"

	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/backups"

	"github.com/cobaltcore-dev/halcyon/internal/models"
)

// Create a cinder backup of the given volume and remember its backend id.
func (b *Backend) CreateVolumeBackup(ctx context.Context, backup *models.VolumeBackup, sourceBackendID string) error {
	created, err := backups.Create(ctx, b.volume, backups.CreateOpts{
		Name:        backup.Name,
		Description: backup.Description,
		VolumeID:    sourceBackendID,
	}).Extract()
	if err != nil {
		return err
	}
	backup.BackendID = created.ID
	backup.RuntimeState = created.Status
	return nil
}

// Request deletion of the backup. Missing backups are not an error.
func (b *Backend) DeleteVolumeBackup(ctx context.Context, backup *models.VolumeBackup) error {
	err := backups.Delete(ctx, b.volume, backup.BackendID).ExtractErr()
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// The current backend status of the backup.
func (b *Backend) GetVolumeBackupState(ctx context.Context, backup *models.VolumeBackup) (string, error) {
	found, err := backups.Get(ctx, b.volume, backup.BackendID).Extract()
	if err != nil {
		return "", err
	}
	return found.Status, nil
}

// Whether the backup is gone from the backend.
func (b *Backend) VolumeBackupGone(ctx context.Context, backup *models.VolumeBackup) (bool, error) {
	_, err := backups.Get(ctx, b.volume, backup.BackendID).Extract()
	if isNotFound(err) {
		return true, nil
	}
	return false, err
}

// Export the backup's locator record from the backend. The record can later
// be imported to materialize a new backend backup from the backing store.
func (b *Backend) ExportVolumeBackupRecord(ctx context.Context, backup *models.VolumeBackup) (*models.VolumeBackupRecord, error) {
	record, err := backups.Export(ctx, b.volume, backup.BackendID).Extract()
	if err != nil {
		return nil, err
	}
	return &models.VolumeBackupRecord{
		Service: record.BackupService,
		URL:     string(record.BackupURL),
	}, nil
}

// Import a previously exported backup record, materializing a new backend
// backup, and remember the new backup's backend id.
func (b *Backend) ImportVolumeBackupRecord(ctx context.Context, backup *models.VolumeBackup, record *models.VolumeBackupRecord) error {
	imported, err := backups.Import(ctx, b.volume, backups.ImportOpts{
		BackupService: record.Service,
		BackupURL:     []byte(record.URL),
	}).Extract()
	if err != nil {
		return err
	}
	backup.BackendID = imported.ID
	return nil
}

// Restore the backup onto the given volume.
func (b *Backend) RestoreVolumeBackup(ctx context.Context, backup *models.VolumeBackup, vol *models.Volume) error {
	_, err := backups.RestoreFromBackup(ctx, b.volume, backup.BackendID, backups.RestoreOpts{
		VolumeID: vol.BackendID,
	}).Extract()
	return err
}
