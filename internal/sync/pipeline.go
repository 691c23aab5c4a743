// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package sync periodically pulls the backend state of all healthy tenants
// into the local records, so drift introduced outside of the executors
// becomes visible.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"golang.org/x/sync/errgroup"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/mqtt"
)

// Tenants synced concurrently when no worker count is configured.
const defaultWorkers = 4

// Backend operations needed to pull tenant resources.
type Backend interface {
	ListSecurityGroups(ctx context.Context, tenant *models.Tenant) ([]models.SecurityGroup, map[string][]models.SecurityGroupRule, error)
	ListFloatingIPs(ctx context.Context, tenant *models.Tenant) ([]models.FloatingIP, error)
	PullTenantQuotas(ctx context.Context, tenant *models.Tenant) error
	PullInstance(ctx context.Context, instance *models.Instance) error
	PullVolume(ctx context.Context, vol *models.Volume) error
	PullSnapshot(ctx context.Context, snap *models.Snapshot) error
}

type Pipeline struct {
	// Store holding the local records.
	store *models.Store
	// Backend to pull the resources from.
	backend Backend
	// MQTT client to publish triggers after each round.
	mqttClient mqtt.Client
	// Sync configuration.
	conf conf.SyncConfig
	// Monitor to track the pipeline.
	monitor Monitor
}

func NewPipeline(store *models.Store, backend Backend, mqttClient mqtt.Client, c conf.SyncConfig, m Monitor) *Pipeline {
	return &Pipeline{store: store, backend: backend, mqttClient: mqttClient, conf: c, monitor: m}
}

// Run sync rounds until the context is canceled. Blocking.
func (p *Pipeline) Run(ctx context.Context) {
	interval := time.Duration(p.conf.IntervalSeconds) * time.Second
	for {
		if err := p.SyncRound(ctx); err != nil {
			slog.Error("sync round failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(jobloop.DefaultJitter(interval)):
		}
	}
}

// Pull all configured resource types for all healthy tenants, then publish
// a trigger per type so downstream consumers can react.
func (p *Pipeline) SyncRound(ctx context.Context) error {
	tenants, err := p.store.OKTenants()
	if err != nil {
		return err
	}
	for _, syncType := range p.conf.Types {
		if err := p.syncType(ctx, syncType, tenants); err != nil {
			slog.Error("sync failed", "type", syncType, "err", err)
			if p.monitor.PipelineErrorCounter != nil {
				p.monitor.PipelineErrorCounter.WithLabelValues(syncType).Inc()
			}
			continue
		}
		p.mqttClient.Publish("halcyon/sync/"+syncType+"/triggered", map[string]any{
			"tenants": len(tenants),
			"time":    time.Now().Unix(),
		})
	}
	return nil
}

func (p *Pipeline) syncType(ctx context.Context, syncType string, tenants []models.Tenant) error {
	slog.Info("syncing", "type", syncType, "tenants", len(tenants))
	if p.monitor.PipelineRunTimer != nil {
		hist := p.monitor.PipelineRunTimer.WithLabelValues(syncType)
		timer := prometheus.NewTimer(hist)
		defer timer.ObserveDuration()
	}
	workers := p.conf.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	var group errgroup.Group
	group.SetLimit(workers)
	for i := range tenants {
		tenant := &tenants[i]
		group.Go(func() error {
			switch syncType {
			case "security_groups":
				return p.syncSecurityGroups(ctx, tenant)
			case "floating_ips":
				return p.syncFloatingIPs(ctx, tenant)
			case "quotas":
				return p.backend.PullTenantQuotas(ctx, tenant)
			case "instances":
				return p.syncInstances(ctx, tenant)
			case "volumes":
				return p.syncVolumes(ctx, tenant)
			case "snapshots":
				return p.syncSnapshots(ctx, tenant)
			}
			slog.Warn("unknown sync type configured", "type", syncType)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if syncType == "quotas" {
		for i := range tenants {
			if err := p.store.Save(&tenants[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reconcile the tenant's security groups with the backend: adopt unknown
// groups, refresh known ones, and drop healthy records whose backend group
// vanished. Records in flight are left alone.
func (p *Pipeline) syncSecurityGroups(ctx context.Context, tenant *models.Tenant) error {
	found, rulesByBackendID, err := p.backend.ListSecurityGroups(ctx, tenant)
	if err != nil {
		return err
	}
	local, err := p.store.SecurityGroupsOfTenant(tenant.UUID)
	if err != nil {
		return err
	}
	localByBackendID := make(map[string]*models.SecurityGroup, len(local))
	for i := range local {
		localByBackendID[local[i].BackendID] = &local[i]
	}
	seen := make(map[string]bool, len(found))
	for i := range found {
		backendGroup := &found[i]
		seen[backendGroup.BackendID] = true
		group := localByBackendID[backendGroup.BackendID]
		if group == nil {
			// Adopt a group created outside of the platform.
			group = backendGroup
			group.UUID = uuid.NewString()
			group.State = models.StateOK
			if err := p.store.Insert(group); err != nil {
				return err
			}
		} else {
			group.Name = backendGroup.Name
			group.Description = backendGroup.Description
			if err := p.store.Save(group); err != nil {
				return err
			}
		}
		if err := p.replaceRules(group, rulesByBackendID[group.BackendID]); err != nil {
			return err
		}
	}
	for i := range local {
		if seen[local[i].BackendID] || local[i].State != models.StateOK {
			continue
		}
		if err := p.store.Delete(&local[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) replaceRules(group *models.SecurityGroup, rules []models.SecurityGroupRule) error {
	existing, err := p.store.RulesOfSecurityGroup(group.UUID)
	if err != nil {
		return err
	}
	for i := range existing {
		if err := p.store.Delete(&existing[i]); err != nil {
			return err
		}
	}
	for i := range rules {
		rules[i].UUID = uuid.NewString()
		rules[i].SecurityGroupUUID = group.UUID
		if err := p.store.Insert(&rules[i]); err != nil {
			return err
		}
	}
	return nil
}

// Replace the tenant's floating ip records with the backend state. Floating
// ips have no lifecycle of their own, so a full replace is safe.
func (p *Pipeline) syncFloatingIPs(ctx context.Context, tenant *models.Tenant) error {
	found, err := p.backend.ListFloatingIPs(ctx, tenant)
	if err != nil {
		return err
	}
	existing, err := p.store.FloatingIPsOfTenant(tenant.UUID)
	if err != nil {
		return err
	}
	for i := range existing {
		if err := p.store.Delete(&existing[i]); err != nil {
			return err
		}
	}
	for i := range found {
		found[i].UUID = uuid.NewString()
		if err := p.store.Insert(&found[i]); err != nil {
			return err
		}
	}
	if p.monitor.PipelineObjectsGauge != nil {
		p.monitor.PipelineObjectsGauge.
			WithLabelValues("floating_ips").Set(float64(len(found)))
	}
	return nil
}

func (p *Pipeline) syncInstances(ctx context.Context, tenant *models.Tenant) error {
	instances, err := p.store.OKInstancesOfTenant(tenant.UUID)
	if err != nil {
		return err
	}
	for i := range instances {
		if err := p.backend.PullInstance(ctx, &instances[i]); err != nil {
			return err
		}
		if err := p.store.Save(&instances[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) syncVolumes(ctx context.Context, tenant *models.Tenant) error {
	vols, err := p.store.OKVolumesOfTenant(tenant.UUID)
	if err != nil {
		return err
	}
	for i := range vols {
		if err := p.backend.PullVolume(ctx, &vols[i]); err != nil {
			return err
		}
		if err := p.store.Save(&vols[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) syncSnapshots(ctx context.Context, tenant *models.Tenant) error {
	snaps, err := p.store.OKSnapshotsOfTenant(tenant.UUID)
	if err != nil {
		return err
	}
	for i := range snaps {
		if err := p.backend.PullSnapshot(ctx, &snaps[i]); err != nil {
			return err
		}
		if err := p.store.Save(&snaps[i]); err != nil {
			return err
		}
	}
	return nil
}
