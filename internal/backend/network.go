// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/routers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"

	"github.com/cobaltcore-dev/halcyon/internal/models"
)

// Create the tenant's internal network and remember its backend id.
func (b *Backend) CreateTenantNetwork(ctx context.Context, tenant *models.Tenant) error {
	network, err := networks.Create(ctx, b.network, networks.CreateOpts{
		Name:         tenant.Name + "-int-net",
		TenantID:     tenant.BackendID,
		AdminStateUp: ptr(true),
	}).Extract()
	if err != nil {
		return err
	}
	tenant.InternalNetworkID = network.ID
	return nil
}

// Create the subnet of the tenant's internal network.
func (b *Backend) CreateTenantSubnet(ctx context.Context, tenant *models.Tenant) error {
	subnet, err := subnets.Create(ctx, b.network, subnets.CreateOpts{
		Name:      tenant.Name + "-int-subnet",
		NetworkID: tenant.InternalNetworkID,
		TenantID:  tenant.BackendID,
		IPVersion: 4,
		CIDR:      "192.168.42.0/24",
	}).Extract()
	if err != nil {
		return err
	}
	tenant.InternalSubnetID = subnet.ID
	return nil
}

// Connect the tenant's internal subnet to the external network via a router.
// A no-op if no external network is configured for the tenant.
func (b *Backend) ConnectTenantToExternalNetwork(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ExternalNetworkID == "" {
		return nil
	}
	router, err := routers.Create(ctx, b.network, routers.CreateOpts{
		Name:     tenant.Name + "-router",
		TenantID: tenant.BackendID,
		GatewayInfo: &routers.GatewayInfo{
			NetworkID: tenant.ExternalNetworkID,
		},
	}).Extract()
	if err != nil {
		return err
	}
	_, err = routers.AddInterface(ctx, b.network, router.ID, routers.AddInterfaceOpts{
		SubnetID: tenant.InternalSubnetID,
	}).Extract()
	return err
}

// Detach the tenant from the external network by deleting its routers.
func (b *Backend) DisconnectTenantFromExternalNetwork(ctx context.Context, tenant *models.Tenant) error {
	pages, err := routers.List(b.network, routers.ListOpts{
		TenantID: tenant.BackendID,
	}).AllPages(ctx)
	if err != nil {
		return err
	}
	found, err := routers.ExtractRouters(pages)
	if err != nil {
		return err
	}
	for _, router := range found {
		_, err := routers.RemoveInterface(ctx, b.network, router.ID, routers.RemoveInterfaceOpts{
			SubnetID: tenant.InternalSubnetID,
		}).Extract()
		if err != nil && !isNotFound(err) {
			return err
		}
		if err := routers.Delete(ctx, b.network, router.ID).ExtractErr(); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

// Allocate a floating ip from the tenant's external network.
func (b *Backend) AllocateFloatingIP(ctx context.Context, tenant *models.Tenant, fip *models.FloatingIP) error {
	created, err := floatingips.Create(ctx, b.network, floatingips.CreateOpts{
		FloatingNetworkID: tenant.ExternalNetworkID,
		TenantID:          tenant.BackendID,
	}).Extract()
	if err != nil {
		return err
	}
	fip.BackendID = created.ID
	fip.Address = created.FloatingIP
	fip.Status = created.Status
	fip.BackendNetworkID = created.FloatingNetworkID
	return nil
}

// Release the floating ip. Missing floating ips are not an error.
func (b *Backend) ReleaseFloatingIP(ctx context.Context, fip *models.FloatingIP) error {
	err := floatingips.Delete(ctx, b.network, fip.BackendID).ExtractErr()
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Attach the floating ip to the instance's first port.
func (b *Backend) AssignFloatingIP(ctx context.Context, fip *models.FloatingIP, instance *models.Instance) error {
	pages, err := ports.List(b.network, ports.ListOpts{
		DeviceID: instance.BackendID,
	}).AllPages(ctx)
	if err != nil {
		return err
	}
	found, err := ports.ExtractPorts(pages)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("no port found for %s", instance.Describe())
	}
	_, err = floatingips.Update(ctx, b.network, fip.BackendID, floatingips.UpdateOpts{
		PortID: &found[0].ID,
	}).Extract()
	return err
}

// All floating ips of the tenant as reported by the backend.
func (b *Backend) ListFloatingIPs(ctx context.Context, tenant *models.Tenant) ([]models.FloatingIP, error) {
	pages, err := floatingips.List(b.network, floatingips.ListOpts{
		TenantID: tenant.BackendID,
	}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	found, err := floatingips.ExtractFloatingIPs(pages)
	if err != nil {
		return nil, err
	}
	fips := make([]models.FloatingIP, 0, len(found))
	for _, f := range found {
		fips = append(fips, models.FloatingIP{
			TenantUUID:       tenant.UUID,
			Address:          f.FloatingIP,
			Status:           f.Status,
			BackendID:        f.ID,
			BackendNetworkID: f.FloatingNetworkID,
		})
	}
	return fips, nil
}
