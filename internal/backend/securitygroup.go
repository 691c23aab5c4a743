// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"

	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"

	"github.com/cobaltcore-dev/halcyon/internal/models"
)

// Create the security group with all its rules on the backend.
func (b *Backend) CreateSecurityGroup(ctx context.Context, tenant *models.Tenant, group *models.SecurityGroup, groupRules []models.SecurityGroupRule) error {
	created, err := groups.Create(ctx, b.network, groups.CreateOpts{
		Name:        group.Name,
		Description: group.Description,
		TenantID:    tenant.BackendID,
	}).Extract()
	if err != nil {
		return err
	}
	group.BackendID = created.ID
	for i := range groupRules {
		if err := b.createSecurityGroupRule(ctx, group, &groupRules[i]); err != nil {
			return err
		}
	}
	return nil
}

// Replace name, description and rules of the security group on the backend.
func (b *Backend) UpdateSecurityGroup(ctx context.Context, group *models.SecurityGroup, groupRules []models.SecurityGroupRule) error {
	_, err := groups.Update(ctx, b.network, group.BackendID, groups.UpdateOpts{
		Name:        group.Name,
		Description: &group.Description,
	}).Extract()
	if err != nil {
		return err
	}
	// Neutron has no rule update, so recreate the rule set.
	existing, err := b.listSecurityGroupRules(ctx, group)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if err := rules.Delete(ctx, b.network, rule.ID).ExtractErr(); err != nil && !isNotFound(err) {
			return err
		}
	}
	for i := range groupRules {
		if err := b.createSecurityGroupRule(ctx, group, &groupRules[i]); err != nil {
			return err
		}
	}
	return nil
}

// Delete the security group. Missing groups are not an error.
func (b *Backend) DeleteSecurityGroup(ctx context.Context, group *models.SecurityGroup) error {
	err := groups.Delete(ctx, b.network, group.BackendID).ExtractErr()
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// All security groups of the tenant as reported by the backend, with their
// rules.
func (b *Backend) ListSecurityGroups(ctx context.Context, tenant *models.Tenant) ([]models.SecurityGroup, map[string][]models.SecurityGroupRule, error) {
	pages, err := groups.List(b.network, groups.ListOpts{
		TenantID: tenant.BackendID,
	}).AllPages(ctx)
	if err != nil {
		return nil, nil, err
	}
	found, err := groups.ExtractGroups(pages)
	if err != nil {
		return nil, nil, err
	}
	securityGroups := make([]models.SecurityGroup, 0, len(found))
	rulesByBackendID := make(map[string][]models.SecurityGroupRule, len(found))
	for _, g := range found {
		securityGroups = append(securityGroups, models.SecurityGroup{
			TenantUUID:  tenant.UUID,
			Name:        g.Name,
			Description: g.Description,
			BackendID:   g.ID,
		})
		for _, r := range g.Rules {
			if r.Direction != string(rules.DirIngress) {
				continue
			}
			rulesByBackendID[g.ID] = append(rulesByBackendID[g.ID], models.SecurityGroupRule{
				Protocol:  r.Protocol,
				FromPort:  r.PortRangeMin,
				ToPort:    r.PortRangeMax,
				CIDR:      r.RemoteIPPrefix,
				BackendID: r.ID,
			})
		}
	}
	return securityGroups, rulesByBackendID, nil
}

func (b *Backend) createSecurityGroupRule(ctx context.Context, group *models.SecurityGroup, rule *models.SecurityGroupRule) error {
	created, err := rules.Create(ctx, b.network, rules.CreateOpts{
		SecGroupID:     group.BackendID,
		Direction:      rules.DirIngress,
		EtherType:      rules.EtherType4,
		Protocol:       rules.RuleProtocol(rule.Protocol),
		PortRangeMin:   rule.FromPort,
		PortRangeMax:   rule.ToPort,
		RemoteIPPrefix: rule.CIDR,
	}).Extract()
	if err != nil {
		return err
	}
	rule.BackendID = created.ID
	return nil
}

func (b *Backend) listSecurityGroupRules(ctx context.Context, group *models.SecurityGroup) ([]rules.SecGroupRule, error) {
	pages, err := rules.List(b.network, rules.ListOpts{
		SecGroupID: group.BackendID,
	}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	return rules.ExtractRules(pages)
}
