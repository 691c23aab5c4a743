// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"slices"
)

// Lifecycle state of a resource record.
type State string

const (
	StateCreationScheduled State = "creation_scheduled"
	StateCreating          State = "creating"
	StateUpdateScheduled   State = "update_scheduled"
	StateUpdating          State = "updating"
	StateDeletionScheduled State = "deletion_scheduled"
	StateDeleting          State = "deleting"
	StateOK                State = "ok"
	StateErred             State = "erred"
)

// A transition between lifecycle states. Applying a transition from a state
// not listed in its sources is an error. An empty source list means the
// transition is valid from any state.
type Transition struct {
	Name    string
	Sources []State
	Target  State
}

var (
	ScheduleCreating = Transition{"schedule creating", nil, StateCreationScheduled}
	BeginCreating    = Transition{"begin creating", []State{StateCreationScheduled}, StateCreating}
	ScheduleUpdating = Transition{"schedule updating", []State{StateOK}, StateUpdateScheduled}
	BeginUpdating    = Transition{"begin updating", []State{StateUpdateScheduled}, StateUpdating}
	ScheduleDeleting = Transition{"schedule deleting", []State{StateOK, StateErred}, StateDeletionScheduled}
	BeginDeleting    = Transition{"begin deleting", []State{StateDeletionScheduled}, StateDeleting}
	SetOK            = Transition{"set ok", nil, StateOK}
	SetErred         = Transition{"set erred", nil, StateErred}
)

// Apply the transition to the lifecycle, validating the current state.
func (t Transition) Apply(l *Lifecycle) error {
	if len(t.Sources) > 0 && !slices.Contains(t.Sources, l.State) {
		return fmt.Errorf("cannot %s: state is %q", t.Name, l.State)
	}
	l.State = t.Target
	return nil
}

// Lifecycle fields shared by all resource records. The runtime state mirrors
// the raw status reported by the backend, e.g. "available" or "error".
type Lifecycle struct {
	State        State  `db:"state"`
	RuntimeState string `db:"runtime_state"`
	ErrorMessage string `db:"error_message"`
}

func (l *Lifecycle) GetLifecycle() *Lifecycle { return l }

// A persisted resource record with a lifecycle.
type Resource interface {
	TableName() string
	GetUUID() string
	GetLifecycle() *Lifecycle
	// Short human-readable identification for logs and error messages.
	Describe() string
}
