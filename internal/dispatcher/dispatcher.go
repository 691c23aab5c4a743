// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package dispatcher consumes resource operations from the mqtt broker and
// hands them to the executors. The upstream control plane inserts the
// records and publishes a request naming them; everything after that runs
// asynchronously here.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cobaltcore-dev/halcyon/internal/executors"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/mqtt"
)

// Topic prefix under which operation requests are published.
const topicPrefix = "halcyon/operations/"

// Request payload shared by all operations. Fields besides the uuid are
// only set for the operations that need them.
type Request struct {
	// The record the operation refers to.
	UUID string `json:"uuid"`
	// Security group uuids to attach a new instance to.
	SecurityGroups []string `json:"securityGroups,omitempty"`
	// Whether to delete the attached volumes along with an instance.
	DeleteVolumes bool `json:"deleteVolumes,omitempty"`
	// Whether to snapshot a volume even while it is attached.
	Force bool `json:"force,omitempty"`
	// New size when extending a volume.
	SizeGiB int `json:"sizeGiB,omitempty"`
	// Instance to attach a volume to or detach it from.
	InstanceUUID string `json:"instanceUUID,omitempty"`
	// New flavor when resizing an instance.
	FlavorName      string `json:"flavorName,omitempty"`
	FlavorBackendID string `json:"flavorBackendID,omitempty"`
}

type Dispatcher struct {
	Store          *models.Store
	MQTT           mqtt.Client
	Tenants        *executors.TenantExecutors
	Instances      *executors.InstanceExecutors
	Volumes        *executors.VolumeExecutors
	Snapshots      *executors.SnapshotExecutors
	SecurityGroups *executors.SecurityGroupExecutors

	// How dispatched executors are run. Swapped out in tests.
	run func(ctx context.Context, ex executors.Executor)
}

func (d *Dispatcher) dispatch(ctx context.Context, ex executors.Executor) {
	if d.run != nil {
		d.run(ctx, ex)
		return
	}
	ex.ExecuteAsync(ctx)
}

// Subscribe to all operation topics. The given context bounds the executor
// runs, not the subscriptions.
func (d *Dispatcher) Init(ctx context.Context) error {
	handlers := map[string]func(context.Context, Request) error{
		"tenants/create":         d.createTenant,
		"tenants/update":         d.updateTenant,
		"tenants/delete":         d.deleteTenant,
		"tenants/push_quotas":    d.pushTenantQuotas,
		"instances/create":       d.createInstance,
		"instances/update":       d.updateInstance,
		"instances/delete":       d.deleteInstance,
		"instances/start":        d.startInstance,
		"instances/stop":         d.stopInstance,
		"instances/restart":      d.restartInstance,
		"instances/changeflavor": d.changeInstanceFlavor,
		"volumes/create":         d.createVolume,
		"volumes/update":         d.updateVolume,
		"volumes/delete":         d.deleteVolume,
		"volumes/extend":         d.extendVolume,
		"volumes/attach":         d.attachVolume,
		"volumes/detach":         d.detachVolume,
		"snapshots/create":       d.createSnapshot,
		"snapshots/update":       d.updateSnapshot,
		"snapshots/delete":       d.deleteSnapshot,
		"securitygroups/create":  d.createSecurityGroup,
		"securitygroups/update":  d.updateSecurityGroup,
		"securitygroups/delete":  d.deleteSecurityGroup,
	}
	for suffix, handle := range handlers {
		topic := topicPrefix + suffix
		err := d.MQTT.Subscribe(topic, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			var request Request
			if err := json.Unmarshal(msg.Payload(), &request); err != nil {
				slog.Error("invalid operation request", "topic", msg.Topic(), "err", err)
				return
			}
			if err := handle(ctx, request); err != nil {
				slog.Error("failed to dispatch operation",
					"topic", msg.Topic(), "uuid", request.UUID, "err", err)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) createTenant(ctx context.Context, request Request) error {
	tenant, err := d.Store.GetTenant(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Tenants.Create(tenant))
	return nil
}

func (d *Dispatcher) updateTenant(ctx context.Context, request Request) error {
	tenant, err := d.Store.GetTenant(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(tenant, models.ScheduleUpdating); err != nil {
		return err
	}
	d.dispatch(ctx, d.Tenants.Update(tenant))
	return nil
}

func (d *Dispatcher) deleteTenant(ctx context.Context, request Request) error {
	tenant, err := d.Store.GetTenant(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(tenant, models.ScheduleDeleting); err != nil {
		return err
	}
	d.dispatch(ctx, d.Tenants.Delete(tenant))
	return nil
}

func (d *Dispatcher) pushTenantQuotas(ctx context.Context, request Request) error {
	tenant, err := d.Store.GetTenant(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Tenants.PushQuotas(tenant))
	return nil
}

func (d *Dispatcher) createInstance(ctx context.Context, request Request) error {
	instance, err := d.Store.GetInstance(request.UUID)
	if err != nil {
		return err
	}
	tenant, err := d.Store.GetTenant(instance.TenantUUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Instances.Create(tenant, instance, request.SecurityGroups))
	return nil
}

func (d *Dispatcher) updateInstance(ctx context.Context, request Request) error {
	instance, err := d.Store.GetInstance(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(instance, models.ScheduleUpdating); err != nil {
		return err
	}
	d.dispatch(ctx, d.Instances.Update(instance))
	return nil
}

func (d *Dispatcher) deleteInstance(ctx context.Context, request Request) error {
	instance, err := d.Store.GetInstance(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(instance, models.ScheduleDeleting); err != nil {
		return err
	}
	d.dispatch(ctx, d.Instances.Delete(instance, request.DeleteVolumes))
	return nil
}

func (d *Dispatcher) startInstance(ctx context.Context, request Request) error {
	instance, err := d.Store.GetInstance(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Instances.Start(instance))
	return nil
}

func (d *Dispatcher) stopInstance(ctx context.Context, request Request) error {
	instance, err := d.Store.GetInstance(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Instances.Stop(instance))
	return nil
}

func (d *Dispatcher) restartInstance(ctx context.Context, request Request) error {
	instance, err := d.Store.GetInstance(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Instances.Restart(instance))
	return nil
}

func (d *Dispatcher) changeInstanceFlavor(ctx context.Context, request Request) error {
	instance, err := d.Store.GetInstance(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Instances.ChangeFlavor(
		instance, request.FlavorName, request.FlavorBackendID))
	return nil
}

func (d *Dispatcher) createVolume(ctx context.Context, request Request) error {
	vol, err := d.Store.GetVolume(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Volumes.Create(vol))
	return nil
}

func (d *Dispatcher) updateVolume(ctx context.Context, request Request) error {
	vol, err := d.Store.GetVolume(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(vol, models.ScheduleUpdating); err != nil {
		return err
	}
	d.dispatch(ctx, d.Volumes.Update(vol))
	return nil
}

func (d *Dispatcher) deleteVolume(ctx context.Context, request Request) error {
	vol, err := d.Store.GetVolume(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(vol, models.ScheduleDeleting); err != nil {
		return err
	}
	d.dispatch(ctx, d.Volumes.Delete(vol))
	return nil
}

func (d *Dispatcher) extendVolume(ctx context.Context, request Request) error {
	vol, err := d.Store.GetVolume(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Volumes.Extend(vol, request.SizeGiB))
	return nil
}

func (d *Dispatcher) attachVolume(ctx context.Context, request Request) error {
	vol, err := d.Store.GetVolume(request.UUID)
	if err != nil {
		return err
	}
	instance, err := d.Store.GetInstance(request.InstanceUUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Volumes.Attach(vol, instance))
	return nil
}

func (d *Dispatcher) detachVolume(ctx context.Context, request Request) error {
	vol, err := d.Store.GetVolume(request.UUID)
	if err != nil {
		return err
	}
	instance, err := d.Store.GetInstance(request.InstanceUUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Volumes.Detach(vol, instance))
	return nil
}

func (d *Dispatcher) createSnapshot(ctx context.Context, request Request) error {
	snap, err := d.Store.GetSnapshot(request.UUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.Snapshots.Create(snap, request.Force))
	return nil
}

func (d *Dispatcher) updateSnapshot(ctx context.Context, request Request) error {
	snap, err := d.Store.GetSnapshot(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(snap, models.ScheduleUpdating); err != nil {
		return err
	}
	d.dispatch(ctx, d.Snapshots.Update(snap))
	return nil
}

func (d *Dispatcher) deleteSnapshot(ctx context.Context, request Request) error {
	snap, err := d.Store.GetSnapshot(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(snap, models.ScheduleDeleting); err != nil {
		return err
	}
	d.dispatch(ctx, d.Snapshots.Delete(snap))
	return nil
}

func (d *Dispatcher) createSecurityGroup(ctx context.Context, request Request) error {
	group, err := d.Store.GetSecurityGroup(request.UUID)
	if err != nil {
		return err
	}
	tenant, err := d.Store.GetTenant(group.TenantUUID)
	if err != nil {
		return err
	}
	d.dispatch(ctx, d.SecurityGroups.Create(tenant, group))
	return nil
}

func (d *Dispatcher) updateSecurityGroup(ctx context.Context, request Request) error {
	group, err := d.Store.GetSecurityGroup(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(group, models.ScheduleUpdating); err != nil {
		return err
	}
	d.dispatch(ctx, d.SecurityGroups.Update(group))
	return nil
}

func (d *Dispatcher) deleteSecurityGroup(ctx context.Context, request Request) error {
	group, err := d.Store.GetSecurityGroup(request.UUID)
	if err != nil {
		return err
	}
	if err := d.Store.Transition(group, models.ScheduleDeleting); err != nil {
		return err
	}
	d.dispatch(ctx, d.SecurityGroups.Delete(group))
	return nil
}
