// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"

	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
)

// Backend operations needed by the security group executors.
type SecurityGroupBackend interface {
	CreateSecurityGroup(ctx context.Context, tenant *models.Tenant, group *models.SecurityGroup, rules []models.SecurityGroupRule) error
	UpdateSecurityGroup(ctx context.Context, group *models.SecurityGroup, rules []models.SecurityGroupRule) error
	DeleteSecurityGroup(ctx context.Context, group *models.SecurityGroup) error
}

type SecurityGroupExecutors struct {
	Store   *models.Store
	Backend SecurityGroupBackend
	Monitor Monitor
}

// Create the security group with its rules on the backend.
func (e *SecurityGroupExecutors) Create(tenant *models.Tenant, group *models.SecurityGroup) Executor {
	task := tasks.NewChain("create "+group.Describe(),
		transitionTask(e.Store, group, models.BeginCreating),
		tasks.NewTask("create security group on backend", func(ctx context.Context) error {
			rules, err := e.Store.RulesOfSecurityGroup(group.UUID)
			if err != nil {
				return err
			}
			if err := e.Backend.CreateSecurityGroup(ctx, tenant, group, rules); err != nil {
				return err
			}
			if err := e.Store.Save(group); err != nil {
				return err
			}
			for i := range rules {
				if err := e.Store.Save(&rules[i]); err != nil {
					return err
				}
			}
			return nil
		}),
	)
	return Executor{
		Name:      "security group create",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(group, models.SetOK) },
		OnFailure: markErred(e.Store, group),
		Monitor:   e.Monitor,
	}
}

// Push the current name, description and rules to the backend.
func (e *SecurityGroupExecutors) Update(group *models.SecurityGroup) Executor {
	task := tasks.NewChain("update "+group.Describe(),
		transitionTask(e.Store, group, models.BeginUpdating),
		tasks.NewTask("update security group on backend", func(ctx context.Context) error {
			rules, err := e.Store.RulesOfSecurityGroup(group.UUID)
			if err != nil {
				return err
			}
			if err := e.Backend.UpdateSecurityGroup(ctx, group, rules); err != nil {
				return err
			}
			for i := range rules {
				if err := e.Store.Save(&rules[i]); err != nil {
					return err
				}
			}
			return nil
		}),
	)
	return Executor{
		Name:      "security group update",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(group, models.SetOK) },
		OnFailure: markErred(e.Store, group),
		Monitor:   e.Monitor,
	}
}

// Delete the security group on the backend, then its records. Groups
// without a backend id only exist locally, so no backend call is made.
func (e *SecurityGroupExecutors) Delete(group *models.SecurityGroup) Executor {
	var task tasks.Task
	if group.BackendID == "" {
		task = transitionTask(e.Store, group, models.BeginDeleting)
	} else {
		task = tasks.NewChain("delete "+group.Describe(),
			transitionTask(e.Store, group, models.BeginDeleting),
			tasks.NewTask("delete security group on backend", func(ctx context.Context) error {
				return e.Backend.DeleteSecurityGroup(ctx, group)
			}),
		)
	}
	return Executor{
		Name: "security group delete",
		Task: task,
		OnSuccess: func(ctx context.Context) error {
			rules, err := e.Store.RulesOfSecurityGroup(group.UUID)
			if err != nil {
				return err
			}
			for i := range rules {
				if err := e.Store.Delete(&rules[i]); err != nil {
					return err
				}
			}
			return e.Store.Delete(group)
		},
		OnFailure: markErred(e.Store, group),
		Monitor:   e.Monitor,
	}
}
