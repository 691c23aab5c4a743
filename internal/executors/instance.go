// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/tasks"
)

// Runtime states reported by nova for servers.
const (
	novaStateActive       = "ACTIVE"
	novaStateShutoff      = "SHUTOFF"
	novaStateError        = "ERROR"
	novaStateVerifyResize = "VERIFY_RESIZE"
)

const instancePollCountdownSeconds = 30

// Backend operations needed by the instance executors.
type InstanceBackend interface {
	CreateInstance(ctx context.Context, tenant *models.Tenant, instance *models.Instance, vols []models.Volume, securityGroups []string) error
	UpdateInstance(ctx context.Context, instance *models.Instance) error
	DeleteInstance(ctx context.Context, instance *models.Instance) error
	GetInstanceState(ctx context.Context, instance *models.Instance) (string, error)
	InstanceGone(ctx context.Context, instance *models.Instance) (bool, error)
	PullInstance(ctx context.Context, instance *models.Instance) error
	StartInstance(ctx context.Context, instance *models.Instance) error
	StopInstance(ctx context.Context, instance *models.Instance) error
	RestartInstance(ctx context.Context, instance *models.Instance) error
	ResizeInstance(ctx context.Context, instance *models.Instance, flavorBackendID string) error
	ConfirmResizeInstance(ctx context.Context, instance *models.Instance) error
	SetInstanceSecurityGroups(ctx context.Context, instance *models.Instance, current, wanted []string) error
	AssignFloatingIP(ctx context.Context, fip *models.FloatingIP, instance *models.Instance) error
	DetachVolume(ctx context.Context, vol *models.Volume, instance *models.Instance) error
}

type InstanceExecutors struct {
	Store   *models.Store
	Backend InstanceBackend
	// Used to provision the instance's volumes during Create.
	Volumes VolumeBackend
	Conf    conf.ExecutorConfig
	Monitor Monitor
}

func (e *InstanceExecutors) pollInstance(instance *models.Instance, successStates ...string) tasks.Task {
	return &tasks.PollRuntimeState{
		TaskName:      "poll " + instance.Describe(),
		Poll:          pollAfter(instancePollCountdownSeconds, e.Conf.Poll),
		Fetch:         func(ctx context.Context) (string, error) { return e.Backend.GetInstanceState(ctx, instance) },
		SuccessStates: successStates,
		ErredStates:   []string{novaStateError},
		OnState:       func(state string) error { return e.Store.SetRuntimeState(instance, state) },
	}
}

// Create the instance and its volumes: provision every scheduled volume on
// the backend and wait until all are available, then boot the server from
// them, apply the given security groups, and wait until it is active. Once
// the server runs, the volumes are pulled for their device and state. On
// failure the instance and its unfinished volumes are marked erred.
func (e *InstanceExecutors) Create(tenant *models.Tenant, instance *models.Instance, securityGroups []string) Executor {
	vols, err := e.Store.VolumesOfInstance(instance.UUID)
	if err != nil {
		return failedExecutor("instance create", e.Monitor, err)
	}
	volumeSteps := make([]tasks.Task, 0, len(vols))
	for i := range vols {
		vol := &vols[i]
		if vol.State != models.StateCreationScheduled {
			// Already provisioned, e.g. an adopted or restored volume.
			continue
		}
		volumeSteps = append(volumeSteps, e.createVolumeBranch(vol))
	}
	task := tasks.NewChain("create "+instance.Describe(),
		transitionTask(e.Store, instance, models.BeginCreating),
		tasks.NewGroup("create volumes of "+instance.Describe(), volumeSteps...),
		tasks.NewTask("create server on backend", func(ctx context.Context) error {
			vols, err := e.Store.VolumesOfInstance(instance.UUID)
			if err != nil {
				return err
			}
			if err := e.Backend.CreateInstance(ctx, tenant, instance, vols, securityGroups); err != nil {
				return err
			}
			return e.Store.Save(instance)
		}),
		e.pollInstance(instance, novaStateActive),
		tasks.NewTask("pull volumes", func(ctx context.Context) error {
			vols, err := e.Store.VolumesOfInstance(instance.UUID)
			if err != nil {
				return err
			}
			for i := range vols {
				if err := e.Volumes.PullVolume(ctx, &vols[i]); err != nil {
					return err
				}
				if err := e.Store.Save(&vols[i]); err != nil {
					return err
				}
			}
			return nil
		}),
	)
	return Executor{
		Name:      "instance create",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(instance, models.SetOK) },
		OnFailure: func(ctx context.Context, taskErr error) error {
			vols, err := e.Store.VolumesOfInstance(instance.UUID)
			if err != nil {
				return err
			}
			for i := range vols {
				if vols[i].State == models.StateOK {
					continue
				}
				if err := e.Store.SetErredWithMessage(&vols[i], "instance creation failed: "+taskErr.Error()); err != nil {
					return err
				}
			}
			return e.Store.SetErredWithMessage(instance, taskErr.Error())
		},
		Monitor: e.Monitor,
	}
}

// Provision one scheduled volume and wait until cinder reports it available.
func (e *InstanceExecutors) createVolumeBranch(vol *models.Volume) tasks.Task {
	return tasks.NewChain("create "+vol.Describe(),
		transitionTask(e.Store, vol, models.BeginCreating),
		tasks.NewTask("create volume on backend", func(ctx context.Context) error {
			if err := e.Volumes.CreateVolume(ctx, vol, ""); err != nil {
				return err
			}
			return e.Store.Save(vol)
		}),
		&tasks.PollRuntimeState{
			TaskName:      "poll " + vol.Describe(),
			Poll:          pollAfter(volumePollCountdownSeconds, e.Conf.Poll),
			Fetch:         func(ctx context.Context) (string, error) { return e.Volumes.GetVolumeState(ctx, vol) },
			SuccessStates: []string{cinderStateAvailable},
			ErredStates:   []string{cinderStateError},
			OnState:       func(state string) error { return e.Store.SetRuntimeState(vol, state) },
		},
		transitionTask(e.Store, vol, models.SetOK),
	)
}

// Push name changes of the server to the backend.
func (e *InstanceExecutors) Update(instance *models.Instance) Executor {
	task := tasks.NewChain("update "+instance.Describe(),
		transitionTask(e.Store, instance, models.BeginUpdating),
		tasks.NewTask("update server on backend", func(ctx context.Context) error {
			return e.Backend.UpdateInstance(ctx, instance)
		}),
	)
	return Executor{
		Name:      "instance update",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(instance, models.SetOK) },
		OnFailure: markErred(e.Store, instance),
		Monitor:   e.Monitor,
	}
}

// Delete the server, wait until it is gone, then settle the volume records.
// With deleteVolumes the volume records are dropped along with the server,
// otherwise the volumes are kept and marked detached. Records without a
// backend id are dropped directly.
func (e *InstanceExecutors) Delete(instance *models.Instance, deleteVolumes bool) Executor {
	var task tasks.Task
	if instance.BackendID == "" {
		task = transitionTask(e.Store, instance, models.BeginDeleting)
	} else {
		task = tasks.NewChain("delete "+instance.Describe(),
			transitionTask(e.Store, instance, models.BeginDeleting),
			tasks.NewTask("delete server on backend", func(ctx context.Context) error {
				return e.Backend.DeleteInstance(ctx, instance)
			}),
			&tasks.PollBackendCheck{
				TaskName: "wait for deletion of " + instance.Describe(),
				Poll:     e.Conf.Poll,
				Gone:     func(ctx context.Context) (bool, error) { return e.Backend.InstanceGone(ctx, instance) },
			},
		)
	}
	return Executor{
		Name: "instance delete",
		Task: task,
		OnSuccess: func(ctx context.Context) error {
			vols, err := e.Store.VolumesOfInstance(instance.UUID)
			if err != nil {
				return err
			}
			for i := range vols {
				if deleteVolumes {
					if err := e.Store.Delete(&vols[i]); err != nil {
						return err
					}
					continue
				}
				vols[i].InstanceUUID = ""
				vols[i].Device = ""
				if err := e.Store.SetRuntimeState(&vols[i], cinderStateAvailable); err != nil {
					return err
				}
			}
			return e.Store.Delete(instance)
		},
		OnFailure: markErred(e.Store, instance),
		Monitor:   e.Monitor,
	}
}

// Refresh the record from the backend.
func (e *InstanceExecutors) Pull(instance *models.Instance) Executor {
	task := tasks.NewTask("pull "+instance.Describe(), func(ctx context.Context) error {
		if err := e.Backend.PullInstance(ctx, instance); err != nil {
			return err
		}
		return e.Store.Save(instance)
	})
	return Executor{Name: "instance pull", Task: task, Monitor: e.Monitor}
}

// Power the server on and wait until it is active.
func (e *InstanceExecutors) Start(instance *models.Instance) Executor {
	return e.powerOp("instance start", instance, e.Backend.StartInstance, novaStateActive)
}

// Power the server off and wait until it is shut off.
func (e *InstanceExecutors) Stop(instance *models.Instance) Executor {
	return e.powerOp("instance stop", instance, e.Backend.StopInstance, novaStateShutoff)
}

// Soft-reboot the server and wait until it is active again.
func (e *InstanceExecutors) Restart(instance *models.Instance) Executor {
	return e.powerOp("instance restart", instance, e.Backend.RestartInstance, novaStateActive)
}

func (e *InstanceExecutors) powerOp(name string, instance *models.Instance, op func(context.Context, *models.Instance) error, targetState string) Executor {
	task := tasks.NewChain(name+" "+instance.Describe(),
		transitionTask(e.Store, instance, models.BeginUpdating),
		tasks.NewTask(name+" on backend", func(ctx context.Context) error {
			return op(ctx, instance)
		}),
		e.pollInstance(instance, targetState),
	)
	return Executor{
		Name:      name,
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(instance, models.SetOK) },
		OnFailure: markErred(e.Store, instance),
		Monitor:   e.Monitor,
	}
}

// Resize the server to the given flavor and confirm the resize once the
// backend asks for verification.
func (e *InstanceExecutors) ChangeFlavor(instance *models.Instance, flavorName, flavorBackendID string) Executor {
	task := tasks.NewChain("change flavor of "+instance.Describe(),
		transitionTask(e.Store, instance, models.BeginUpdating),
		tasks.NewTask("resize server on backend", func(ctx context.Context) error {
			return e.Backend.ResizeInstance(ctx, instance, flavorBackendID)
		}),
		e.pollInstance(instance, novaStateVerifyResize),
		tasks.NewTask("confirm resize", func(ctx context.Context) error {
			return e.Backend.ConfirmResizeInstance(ctx, instance)
		}),
		e.pollInstance(instance, novaStateActive, novaStateShutoff),
		tasks.NewTask("record new flavor", func(ctx context.Context) error {
			instance.FlavorName = flavorName
			instance.FlavorBackendID = flavorBackendID
			return e.Store.Save(instance)
		}),
	)
	return Executor{
		Name:      "instance change flavor",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(instance, models.SetOK) },
		OnFailure: markErred(e.Store, instance),
		Monitor:   e.Monitor,
	}
}

// Replace the security groups applied to the server and track the links.
func (e *InstanceExecutors) SetSecurityGroups(instance *models.Instance, current, wanted []string, links []models.InstanceSecurityGroup) Executor {
	task := tasks.NewChain("set security groups of "+instance.Describe(),
		transitionTask(e.Store, instance, models.BeginUpdating),
		tasks.NewTask("set security groups on backend", func(ctx context.Context) error {
			return e.Backend.SetInstanceSecurityGroups(ctx, instance, current, wanted)
		}),
		tasks.NewTask("record security group links", func(ctx context.Context) error {
			if _, err := e.Store.DB.Exec(
				"DELETE FROM instance_security_groups WHERE instance_uuid = $1",
				instance.UUID); err != nil {
				return err
			}
			for i := range links {
				if err := e.Store.Insert(&links[i]); err != nil {
					return err
				}
			}
			return nil
		}),
	)
	return Executor{
		Name:      "instance set security groups",
		Task:      task,
		OnSuccess: func(ctx context.Context) error { return e.Store.Transition(instance, models.SetOK) },
		OnFailure: markErred(e.Store, instance),
		Monitor:   e.Monitor,
	}
}

// Attach the floating ip to the server.
func (e *InstanceExecutors) AssignFloatingIP(instance *models.Instance, fip *models.FloatingIP) Executor {
	task := tasks.NewTask("assign floating ip to "+instance.Describe(), func(ctx context.Context) error {
		if err := e.Backend.AssignFloatingIP(ctx, fip, instance); err != nil {
			return err
		}
		return e.Store.Save(fip)
	})
	return Executor{Name: "instance assign floating ip", Task: task, Monitor: e.Monitor}
}
