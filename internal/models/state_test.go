// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import "testing"

func TestTransitionApply(t *testing.T) {
	tests := []struct {
		name       string
		from       State
		transition Transition
		wantErr    bool
		want       State
	}{
		{"schedule creating from empty", "", ScheduleCreating, false, StateCreationScheduled},
		{"begin creating from scheduled", StateCreationScheduled, BeginCreating, false, StateCreating},
		{"begin creating from ok", StateOK, BeginCreating, true, StateOK},
		{"schedule updating from ok", StateOK, ScheduleUpdating, false, StateUpdateScheduled},
		{"schedule updating from erred", StateErred, ScheduleUpdating, true, StateErred},
		{"schedule deleting from ok", StateOK, ScheduleDeleting, false, StateDeletionScheduled},
		{"schedule deleting from erred", StateErred, ScheduleDeleting, false, StateDeletionScheduled},
		{"schedule deleting from creating", StateCreating, ScheduleDeleting, true, StateCreating},
		{"set ok from anywhere", StateDeleting, SetOK, false, StateOK},
		{"set erred from anywhere", StateCreating, SetErred, false, StateErred},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Lifecycle{State: tt.from}
			err := tt.transition.Apply(l)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if l.State != tt.want {
				t.Errorf("expected state %q, got %q", tt.want, l.State)
			}
		})
	}
}

func TestDRBackupMetadataRoundTrip(t *testing.T) {
	backup := &DRBackup{}
	instance := &Instance{
		Name:            "web-1",
		FlavorName:      "m1.small",
		FlavorBackendID: "flavor-1",
		KeyName:         "deploy-key",
	}
	if err := backup.CaptureMetadata(instance); err != nil {
		t.Fatal(err)
	}
	meta, err := backup.GetMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if meta.InstanceName != "web-1" || meta.FlavorName != "m1.small" ||
		meta.FlavorBackendID != "flavor-1" || meta.KeyName != "deploy-key" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}
