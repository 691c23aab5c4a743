// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"

	"github.com/google/uuid"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
)

// Backend operations needed by the tenant executors.
type TenantBackend interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
	DeleteTenant(ctx context.Context, tenant *models.Tenant) error
	AddAdminUser(ctx context.Context, tenant *models.Tenant) error
	CreateTenantUser(ctx context.Context, tenant *models.Tenant, roleName string) error
	ListSecurityGroups(ctx context.Context, tenant *models.Tenant) ([]models.SecurityGroup, map[string][]models.SecurityGroupRule, error)
	CreateTenantNetwork(ctx context.Context, tenant *models.Tenant) error
	CreateTenantSubnet(ctx context.Context, tenant *models.Tenant) error
	ConnectTenantToExternalNetwork(ctx context.Context, tenant *models.Tenant) error
	DisconnectTenantFromExternalNetwork(ctx context.Context, tenant *models.Tenant) error
	PushTenantQuotas(ctx context.Context, tenant *models.Tenant) error
	PullTenantQuotas(ctx context.Context, tenant *models.Tenant) error
	AllocateFloatingIP(ctx context.Context, tenant *models.Tenant, fip *models.FloatingIP) error
	ReleaseFloatingIP(ctx context.Context, fip *models.FloatingIP) error
}

type TenantExecutors struct {
	Store   *models.Store
	Backend TenantBackend
	// Used to create the tenant's scheduled security groups during Create.
	SecurityGroups *SecurityGroupExecutors
	Conf           conf.ExecutorConfig
	Monitor        Monitor
}

// Create the tenant end to end: keystone project, global admin user,
// service user, internal network with subnet, quota limits, then the
// tenant's security groups and, if configured, the external connectivity.
// The runtime state tracks the step in progress until the tenant is online.
func (e *TenantExecutors) Create(tenant *models.Tenant) Executor {
	if tenant.ExternalNetworkID == "" {
		tenant.ExternalNetworkID = e.Conf.ExternalNetworkID
	}
	backendStep := func(name, runtimeState string, run func(ctx context.Context) error) tasks.Task {
		return tasks.NewTask(name, func(ctx context.Context) error {
			if err := e.Store.SetRuntimeState(tenant, runtimeState); err != nil {
				return err
			}
			if err := run(ctx); err != nil {
				return err
			}
			return e.Store.Save(tenant)
		})
	}
	steps := []tasks.Task{
		transitionTask(e.Store, tenant, models.BeginCreating),
		backendStep("create project", "creating tenant", func(ctx context.Context) error {
			return e.Backend.CreateTenant(ctx, tenant)
		}),
		backendStep("add admin user", "adding global admin user to tenant", func(ctx context.Context) error {
			return e.Backend.AddAdminUser(ctx, tenant)
		}),
		backendStep("create service user", "creating tenant user", func(ctx context.Context) error {
			return e.Backend.CreateTenantUser(ctx, tenant, e.Conf.TenantUserRole)
		}),
		backendStep("create internal network", "creating internal network for tenant", func(ctx context.Context) error {
			return e.Backend.CreateTenantNetwork(ctx, tenant)
		}),
		backendStep("create internal subnet", "creating internal network for tenant", func(ctx context.Context) error {
			return e.Backend.CreateTenantSubnet(ctx, tenant)
		}),
		backendStep("push quotas", "pushing tenant quotas", func(ctx context.Context) error {
			return e.Backend.PushTenantQuotas(ctx, tenant)
		}),
		tasks.NewTask("create security groups", func(ctx context.Context) error {
			groups, err := e.Store.SecurityGroupsOfTenant(tenant.UUID)
			if err != nil {
				return err
			}
			for i := range groups {
				group := &groups[i]
				if group.State != models.StateCreationScheduled {
					continue
				}
				if err := e.SecurityGroups.Create(tenant, group).Execute(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
		backendStep("pull security groups", "pulling tenant security groups", func(ctx context.Context) error {
			return e.pullSecurityGroups(ctx, tenant)
		}),
	}
	if tenant.ExternalNetworkID != "" {
		steps = append(steps, backendStep("connect external network", "connecting tenant to external network", func(ctx context.Context) error {
			return e.Backend.ConnectTenantToExternalNetwork(ctx, tenant)
		}))
	}
	task := tasks.NewChain("create "+tenant.Describe(), steps...)
	return Executor{
		Name: "tenant create",
		Task: task,
		OnSuccess: func(ctx context.Context) error {
			if err := e.Store.SetRuntimeState(tenant, "online"); err != nil {
				return err
			}
			return e.Store.Transition(tenant, models.SetOK)
		},
		OnFailure: markErred(e.Store, tenant),
		Monitor:   e.Monitor,
	}
}

// Adopt security groups the backend created on its own, like neutron's
// default group, so the records match the backend right after creation.
func (e *TenantExecutors) pullSecurityGroups(ctx context.Context, tenant *models.Tenant) error {
	found, rulesByGroup, err := e.Backend.ListSecurityGroups(ctx, tenant)
	if err != nil {
		return err
	}
	local, err := e.Store.SecurityGroupsOfTenant(tenant.UUID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(local))
	for i := range local {
		known[local[i].BackendID] = true
	}
	for i := range found {
		group := &found[i]
		if known[group.BackendID] {
			continue
		}
		group.UUID = uuid.NewString()
		group.TenantUUID = tenant.UUID
		group.State = models.StateOK
		if err := e.Store.Insert(group); err != nil {
			return err
		}
		for _, rule := range rulesByGroup[group.BackendID] {
			rule.UUID = uuid.NewString()
			rule.SecurityGroupUUID = group.UUID
			if err := e.Store.Insert(&rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// Push name and description of the tenant to the backend.
func (e *TenantExecutors) Update(tenant *models.Tenant) Executor {
	task := tasks.NewChain("update "+tenant.Describe(),
		transitionTask(e.Store, tenant, models.BeginUpdating),
		tasks.NewTask("update project", func(ctx context.Context) error {
			return e.Backend.UpdateTenant(ctx, tenant)
		}),
	)
	return Executor{
		Name:      "tenant update",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(tenant, models.SetOK) },
		OnFailure: markErred(e.Store, tenant),
		Monitor:   e.Monitor,
	}
}

// Tear the tenant down: external connectivity, then the keystone project,
// then the local records. Tenants without a backend id were never
// provisioned, so only the records go.
func (e *TenantExecutors) Delete(tenant *models.Tenant) Executor {
	var task tasks.Task
	if tenant.BackendID == "" {
		task = transitionTask(e.Store, tenant, models.BeginDeleting)
	} else {
		task = tasks.NewChain("delete "+tenant.Describe(),
			transitionTask(e.Store, tenant, models.BeginDeleting),
			tasks.NewTask("disconnect external network", func(ctx context.Context) error {
				return e.Backend.DisconnectTenantFromExternalNetwork(ctx, tenant)
			}),
			tasks.NewTask("delete project", func(ctx context.Context) error {
				return e.Backend.DeleteTenant(ctx, tenant)
			}),
		)
	}
	return Executor{
		Name: "tenant delete",
		Task: task,
		OnSuccess: func(ctx context.Context) error {
			return e.Store.Delete(tenant)
		},
		OnFailure: markErred(e.Store, tenant),
		Monitor:   e.Monitor,
	}
}

// Push the tenant's quota limits to the backend.
func (e *TenantExecutors) PushQuotas(tenant *models.Tenant) Executor {
	task := tasks.NewChain("push quotas of "+tenant.Describe(),
		transitionTask(e.Store, tenant, models.BeginUpdating),
		tasks.NewTask("push quotas", func(ctx context.Context) error {
			return e.Backend.PushTenantQuotas(ctx, tenant)
		}),
	)
	return Executor{
		Name:      "tenant push quotas",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(tenant, models.SetOK) },
		OnFailure: markErred(e.Store, tenant),
		Monitor:   e.Monitor,
	}
}

// Allocate a floating ip for the tenant and track it.
func (e *TenantExecutors) AllocateFloatingIP(tenant *models.Tenant, fip *models.FloatingIP) Executor {
	task := tasks.NewTask("allocate floating ip", func(ctx context.Context) error {
		if err := e.Backend.AllocateFloatingIP(ctx, tenant, fip); err != nil {
			return err
		}
		return e.Store.Save(fip)
	})
	return Executor{
		Name:    "floating ip allocate",
		Task:    task,
		Monitor: e.Monitor,
	}
}

// Release the floating ip and drop its record.
func (e *TenantExecutors) ReleaseFloatingIP(fip *models.FloatingIP) Executor {
	task := tasks.NewTask("release floating ip", func(ctx context.Context) error {
		return e.Backend.ReleaseFloatingIP(ctx, fip)
	})
	return Executor{
		Name: "floating ip release",
		Task: task,
		OnSuccess: func(ctx context.Context) error {
			return e.Store.Delete(fip)
		},
		Monitor: e.Monitor,
	}
}
