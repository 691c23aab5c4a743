// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"

	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"

	"github.com/cobaltcore-dev/halcyon/internal/models"
)

// Create the snapshot on the backend and remember its backend id. Force
// allows snapshotting volumes that are currently attached.
func (b *Backend) CreateSnapshot(ctx context.Context, snap *models.Snapshot, sourceBackendID string, force bool) error {
	created, err := snapshots.Create(ctx, b.volume, snapshots.CreateOpts{
		Name:        snap.Name,
		Description: snap.Description,
		VolumeID:    sourceBackendID,
		Force:       force,
	}).Extract()
	if err != nil {
		return err
	}
	snap.BackendID = created.ID
	snap.RuntimeState = created.Status
	return nil
}

// Update name and description of the snapshot on the backend.
func (b *Backend) UpdateSnapshot(ctx context.Context, snap *models.Snapshot) error {
	_, err := snapshots.Update(ctx, b.volume, snap.BackendID, snapshots.UpdateOpts{
		Name:        &snap.Name,
		Description: &snap.Description,
	}).Extract()
	return err
}

// Request deletion of the snapshot. Missing snapshots are not an error.
func (b *Backend) DeleteSnapshot(ctx context.Context, snap *models.Snapshot) error {
	err := snapshots.Delete(ctx, b.volume, snap.BackendID).ExtractErr()
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// The current backend status of the snapshot.
func (b *Backend) GetSnapshotState(ctx context.Context, snap *models.Snapshot) (string, error) {
	found, err := snapshots.Get(ctx, b.volume, snap.BackendID).Extract()
	if err != nil {
		return "", err
	}
	return found.Status, nil
}

// Whether the snapshot is gone from the backend.
func (b *Backend) SnapshotGone(ctx context.Context, snap *models.Snapshot) (bool, error) {
	_, err := snapshots.Get(ctx, b.volume, snap.BackendID).Extract()
	if isNotFound(err) {
		return true, nil
	}
	return false, err
}

// Pull name, size and status of the snapshot from the backend.
func (b *Backend) PullSnapshot(ctx context.Context, snap *models.Snapshot) error {
	found, err := snapshots.Get(ctx, b.volume, snap.BackendID).Extract()
	if err != nil {
		return err
	}
	snap.Name = found.Name
	snap.Description = found.Description
	snap.SizeGiB = found.Size
	snap.RuntimeState = found.Status
	return nil
}
