// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"

	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/secgroups"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"

	"github.com/cobaltcore-dev/halcyon/internal/models"
)

// Create the server booting from the given volumes. The first volume is the
// boot volume. The server is created on the tenant's internal network.
func (b *Backend) CreateInstance(ctx context.Context, tenant *models.Tenant, instance *models.Instance, vols []models.Volume, securityGroups []string) error {
	blockDevices := make([]servers.BlockDevice, 0, len(vols))
	for i, vol := range vols {
		blockDevices = append(blockDevices, servers.BlockDevice{
			BootIndex:           i,
			UUID:                vol.BackendID,
			SourceType:          servers.SourceVolume,
			DestinationType:     servers.DestinationVolume,
			DeleteOnTermination: false,
		})
	}
	var opts servers.CreateOptsBuilder = servers.CreateOpts{
		Name:             instance.Name,
		FlavorRef:        instance.FlavorBackendID,
		AvailabilityZone: tenant.AvailabilityZone,
		Networks:         []servers.Network{{UUID: tenant.InternalNetworkID}},
		SecurityGroups:   securityGroups,
		BlockDevice:      blockDevices,
	}
	if instance.KeyName != "" {
		opts = keypairs.CreateOptsExt{
			CreateOptsBuilder: opts,
			KeyName:           instance.KeyName,
		}
	}
	created, err := servers.Create(ctx, b.compute, opts, nil).Extract()
	if err != nil {
		return err
	}
	instance.BackendID = created.ID
	return nil
}

// Rename the server on the backend.
func (b *Backend) UpdateInstance(ctx context.Context, instance *models.Instance) error {
	_, err := servers.Update(ctx, b.compute, instance.BackendID, servers.UpdateOpts{
		Name: instance.Name,
	}).Extract()
	return err
}

// Request deletion of the server. Missing servers are not an error.
func (b *Backend) DeleteInstance(ctx context.Context, instance *models.Instance) error {
	err := servers.Delete(ctx, b.compute, instance.BackendID).ExtractErr()
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// The current backend status of the server, e.g. "ACTIVE" or "SHUTOFF".
func (b *Backend) GetInstanceState(ctx context.Context, instance *models.Instance) (string, error) {
	found, err := servers.Get(ctx, b.compute, instance.BackendID).Extract()
	if err != nil {
		return "", err
	}
	return found.Status, nil
}

// Whether the server is gone from the backend.
func (b *Backend) InstanceGone(ctx context.Context, instance *models.Instance) (bool, error) {
	_, err := servers.Get(ctx, b.compute, instance.BackendID).Extract()
	if isNotFound(err) {
		return true, nil
	}
	return false, err
}

// Pull name and status of the server from the backend into the record.
func (b *Backend) PullInstance(ctx context.Context, instance *models.Instance) error {
	found, err := servers.Get(ctx, b.compute, instance.BackendID).Extract()
	if err != nil {
		return err
	}
	instance.Name = found.Name
	instance.RuntimeState = found.Status
	return nil
}

// Power on the server.
func (b *Backend) StartInstance(ctx context.Context, instance *models.Instance) error {
	return servers.Start(ctx, b.compute, instance.BackendID).ExtractErr()
}

// Power off the server.
func (b *Backend) StopInstance(ctx context.Context, instance *models.Instance) error {
	return servers.Stop(ctx, b.compute, instance.BackendID).ExtractErr()
}

// Soft-reboot the server.
func (b *Backend) RestartInstance(ctx context.Context, instance *models.Instance) error {
	return servers.Reboot(ctx, b.compute, instance.BackendID, servers.RebootOpts{
		Type: servers.SoftReboot,
	}).ExtractErr()
}

// Request a resize of the server to the given flavor. The resize has to be
// confirmed once the server reaches the verify-resize state.
func (b *Backend) ResizeInstance(ctx context.Context, instance *models.Instance, flavorBackendID string) error {
	return servers.Resize(ctx, b.compute, instance.BackendID, servers.ResizeOpts{
		FlavorRef: flavorBackendID,
	}).ExtractErr()
}

// Confirm a pending resize of the server.
func (b *Backend) ConfirmResizeInstance(ctx context.Context, instance *models.Instance) error {
	return servers.ConfirmResize(ctx, b.compute, instance.BackendID).ExtractErr()
}

// Replace the security groups applied to the server.
func (b *Backend) SetInstanceSecurityGroups(ctx context.Context, instance *models.Instance, current, wanted []string) error {
	for _, name := range current {
		err := secgroups.RemoveServer(ctx, b.compute, instance.BackendID, name).ExtractErr()
		if err != nil && !isNotFound(err) {
			return err
		}
	}
	for _, name := range wanted {
		err := secgroups.AddServer(ctx, b.compute, instance.BackendID, name).ExtractErr()
		if err != nil {
			return err
		}
	}
	return nil
}
