// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"

	computequotasets "github.com/gophercloud/gophercloud/v2/openstack/compute/v2/quotasets"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"
	networkquotas "github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/quotas"

	volumequotasets "github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/quotasets"

	"github.com/cobaltcore-dev/halcyon/internal/models"
)

// Create the keystone project for the tenant and remember its backend id.
func (b *Backend) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	project, err := projects.Create(ctx, b.identity, projects.CreateOpts{
		Name:        tenant.Name,
		Description: tenant.Description,
		Enabled:     ptr(true),
	}).Extract()
	if err != nil {
		return err
	}
	tenant.BackendID = project.ID
	return nil
}

// Update name and description of the tenant's keystone project.
func (b *Backend) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := projects.Update(ctx, b.identity, tenant.BackendID, projects.UpdateOpts{
		Name:        tenant.Name,
		Description: &tenant.Description,
	}).Extract()
	return err
}

// Delete the tenant's keystone project. Missing projects are not an error.
func (b *Backend) DeleteTenant(ctx context.Context, tenant *models.Tenant) error {
	err := projects.Delete(ctx, b.identity, tenant.BackendID).ExtractErr()
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Grant the cloud admin user we authenticate as the admin role in the
// tenant's project, so provisioning calls can scope to it.
func (b *Backend) AddAdminUser(ctx context.Context, tenant *models.Tenant) error {
	adminName := b.keystoneAPI.Username()
	pages, err := users.List(b.identity, users.ListOpts{Name: adminName}).AllPages(ctx)
	if err != nil {
		return err
	}
	found, err := users.ExtractUsers(pages)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("admin user %q not found", adminName)
	}
	return b.assignRole(ctx, found[0].ID, tenant.BackendID, "admin")
}

// Create the service user inside the tenant and assign it the given role.
func (b *Backend) CreateTenantUser(ctx context.Context, tenant *models.Tenant, roleName string) error {
	user, err := users.Create(ctx, b.identity, users.CreateOpts{
		Name:             tenant.UserUsername,
		Password:         tenant.UserPassword,
		DefaultProjectID: tenant.BackendID,
		Enabled:          ptr(true),
	}).Extract()
	if err != nil {
		return err
	}
	return b.assignRole(ctx, user.ID, tenant.BackendID, roleName)
}

func (b *Backend) assignRole(ctx context.Context, userID, projectID, roleName string) error {
	pages, err := roles.List(b.identity, roles.ListOpts{Name: roleName}).AllPages(ctx)
	if err != nil {
		return err
	}
	found, err := roles.ExtractRoles(pages)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("role %q not found", roleName)
	}
	return roles.Assign(ctx, b.identity, found[0].ID, roles.AssignOpts{
		UserID:    userID,
		ProjectID: projectID,
	}).ExtractErr()
}

// Push the tenant's quota limits to nova, cinder and neutron.
func (b *Backend) PushTenantQuotas(ctx context.Context, tenant *models.Tenant) error {
	_, err := computequotasets.Update(ctx, b.compute, tenant.BackendID, computequotasets.UpdateOpts{
		Cores:     &tenant.QuotaVCPUs,
		RAM:       &tenant.QuotaRAMMiB,
		Instances: &tenant.QuotaInstances,
	}).Extract()
	if err != nil {
		return err
	}
	_, err = volumequotasets.Update(ctx, b.volume, tenant.BackendID, volumequotasets.UpdateOpts{
		Volumes:         &tenant.QuotaVolumes,
		Snapshots:       &tenant.QuotaSnapshots,
		Gigabytes:       &tenant.QuotaStorageGiB,
		BackupGigabytes: &tenant.QuotaBackupGiB,
	}).Extract()
	if err != nil {
		return err
	}
	_, err = networkquotas.Update(ctx, b.network, tenant.BackendID, networkquotas.UpdateOpts{
		SecurityGroup: &tenant.QuotaSecurityGroups,
		FloatingIP:    &tenant.QuotaFloatingIPs,
	}).Extract()
	return err
}

// Pull the quota limits currently set on the backend into the record.
func (b *Backend) PullTenantQuotas(ctx context.Context, tenant *models.Tenant) error {
	computeQuotas, err := computequotasets.Get(ctx, b.compute, tenant.BackendID).Extract()
	if err != nil {
		return err
	}
	tenant.QuotaVCPUs = computeQuotas.Cores
	tenant.QuotaRAMMiB = computeQuotas.RAM
	tenant.QuotaInstances = computeQuotas.Instances

	volumeQuotas, err := volumequotasets.Get(ctx, b.volume, tenant.BackendID).Extract()
	if err != nil {
		return err
	}
	tenant.QuotaVolumes = volumeQuotas.Volumes
	tenant.QuotaSnapshots = volumeQuotas.Snapshots
	tenant.QuotaStorageGiB = volumeQuotas.Gigabytes
	tenant.QuotaBackupGiB = volumeQuotas.BackupGigabytes

	networkQuotas, err := networkquotas.Get(ctx, b.network, tenant.BackendID).Extract()
	if err != nil {
		return err
	}
	tenant.QuotaSecurityGroups = networkQuotas.SecurityGroup
	tenant.QuotaFloatingIPs = networkQuotas.FloatingIP
	return nil
}

func ptr[T any](v T) *T { return &v }
