// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"

	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/volumeattach"

	"github.com/cobaltcore-dev/halcyon/internal/models"
)

// Create the volume on the backend and remember its backend id. The volume
// can be created empty, from an image, or from the snapshot with the given
// backend id.
func (b *Backend) CreateVolume(ctx context.Context, vol *models.Volume, sourceSnapshotBackendID string) error {
	opts := volumes.CreateOpts{
		Name:        vol.Name,
		Description: vol.Description,
		Size:        vol.SizeGiB,
		VolumeType:  vol.Type,
	}
	if vol.ImageBackendID != "" {
		opts.ImageID = vol.ImageBackendID
	}
	if sourceSnapshotBackendID != "" {
		opts.SnapshotID = sourceSnapshotBackendID
	}
	created, err := volumes.Create(ctx, b.volume, opts, nil).Extract()
	if err != nil {
		return err
	}
	vol.BackendID = created.ID
	vol.RuntimeState = created.Status
	return nil
}

// Update name and description of the volume on the backend.
func (b *Backend) UpdateVolume(ctx context.Context, vol *models.Volume) error {
	_, err := volumes.Update(ctx, b.volume, vol.BackendID, volumes.UpdateOpts{
		Name:        &vol.Name,
		Description: &vol.Description,
	}).Extract()
	return err
}

// Request deletion of the volume. Missing volumes are not an error.
func (b *Backend) DeleteVolume(ctx context.Context, vol *models.Volume) error {
	err := volumes.Delete(ctx, b.volume, vol.BackendID, volumes.DeleteOpts{}).ExtractErr()
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// The current backend status of the volume, e.g. "available" or "error".
func (b *Backend) GetVolumeState(ctx context.Context, vol *models.Volume) (string, error) {
	found, err := volumes.Get(ctx, b.volume, vol.BackendID).Extract()
	if err != nil {
		return "", err
	}
	return found.Status, nil
}

// Whether the volume is gone from the backend.
func (b *Backend) VolumeGone(ctx context.Context, vol *models.Volume) (bool, error) {
	_, err := volumes.Get(ctx, b.volume, vol.BackendID).Extract()
	if isNotFound(err) {
		return true, nil
	}
	return false, err
}

// Pull name, size and status of the volume from the backend into the record.
func (b *Backend) PullVolume(ctx context.Context, vol *models.Volume) error {
	found, err := volumes.Get(ctx, b.volume, vol.BackendID).Extract()
	if err != nil {
		return err
	}
	vol.Name = found.Name
	vol.Description = found.Description
	vol.SizeGiB = found.Size
	vol.Type = found.VolumeType
	vol.RuntimeState = found.Status
	vol.Bootable = found.Bootable == "true"
	return nil
}

// Grow the volume to the given size. Shrinking is not supported by cinder.
func (b *Backend) ExtendVolume(ctx context.Context, vol *models.Volume, newSizeGiB int) error {
	return volumes.ExtendSize(ctx, b.volume, vol.BackendID, volumes.ExtendSizeOpts{
		NewSize: newSizeGiB,
	}).ExtractErr()
}

// Attach the volume to the instance and remember the device path.
func (b *Backend) AttachVolume(ctx context.Context, vol *models.Volume, instance *models.Instance) error {
	attachment, err := volumeattach.Create(ctx, b.compute, instance.BackendID, volumeattach.CreateOpts{
		VolumeID: vol.BackendID,
	}).Extract()
	if err != nil {
		return err
	}
	vol.Device = attachment.Device
	vol.InstanceUUID = instance.UUID
	return nil
}

// Detach the volume from the instance it is attached to.
func (b *Backend) DetachVolume(ctx context.Context, vol *models.Volume, instance *models.Instance) error {
	err := volumeattach.Delete(ctx, b.compute, instance.BackendID, vol.BackendID).ExtractErr()
	if err != nil && !isNotFound(err) {
		return err
	}
	vol.Device = ""
	vol.InstanceUUID = ""
	return nil
}
