// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"log/slog"

	"github.com/cobaltcore-dev/halcyon/internal/db"
	"github.com/go-gorp/gorp"
)

// Store persists resource records and applies lifecycle transitions.
type Store struct {
	DB db.DB
}

func NewStore(database db.DB) *Store {
	return &Store{DB: database}
}

// Create the resource tables if they don't exist yet.
func (s *Store) Init() {
	tables := []db.Table{
		Tenant{},
		Instance{},
		Volume{},
		Snapshot{},
		VolumeBackup{},
		VolumeBackupRecord{},
		DRBackup{},
		BackupSchedule{},
		DRBackupRestoration{},
		VolumeBackupRestoration{},
		SecurityGroup{},
		SecurityGroupRule{},
		InstanceSecurityGroup{},
		FloatingIP{},
	}
	tableMaps := make([]*gorp.TableMap, 0, len(tables))
	for _, t := range tables {
		tableMaps = append(tableMaps, s.DB.AddTable(t).SetKeys(false, "uuid"))
	}
	if err := s.DB.CreateTable(tableMaps...); err != nil {
		panic(err)
	}
}

// Apply a lifecycle transition to the record and persist it.
func (s *Store) Transition(res Resource, t Transition) error {
	if err := t.Apply(res.GetLifecycle()); err != nil {
		return fmt.Errorf("%s: %w", res.Describe(), err)
	}
	slog.Info("state transition", "resource", res.Describe(), "state", res.GetLifecycle().State)
	return s.Save(res)
}

// Mark the record erred with the given error message and persist it.
func (s *Store) SetErredWithMessage(res Resource, message string) error {
	res.GetLifecycle().ErrorMessage = message
	return s.Transition(res, SetErred)
}

// Update the runtime state of the record and persist it.
func (s *Store) SetRuntimeState(res Resource, runtimeState string) error {
	res.GetLifecycle().RuntimeState = runtimeState
	return s.Save(res)
}

// Persist the current contents of a record.
func (s *Store) Save(model any) error {
	_, err := s.DB.Update(model)
	return err
}

// Insert a new record.
func (s *Store) Insert(models ...any) error {
	return s.DB.Insert(models...)
}

// Remove a record.
func (s *Store) Delete(model any) error {
	_, err := s.DB.Delete(model)
	return err
}

// All tenants whose lifecycle state is OK.
func (s *Store) OKTenants() ([]Tenant, error) {
	var tenants []Tenant
	_, err := s.DB.Select(&tenants,
		"SELECT * FROM tenants WHERE state = :state",
		map[string]any{"state": string(StateOK)})
	return tenants, err
}

// All instances of the given tenant whose lifecycle state is OK.
func (s *Store) OKInstancesOfTenant(tenantUUID string) ([]Instance, error) {
	var instances []Instance
	_, err := s.DB.Select(&instances,
		"SELECT * FROM instances WHERE tenant_uuid = :uuid AND state = :state",
		map[string]any{"uuid": tenantUUID, "state": string(StateOK)})
	return instances, err
}

// All volumes of the given tenant whose lifecycle state is OK.
func (s *Store) OKVolumesOfTenant(tenantUUID string) ([]Volume, error) {
	var volumes []Volume
	_, err := s.DB.Select(&volumes,
		"SELECT * FROM volumes WHERE tenant_uuid = :uuid AND state = :state",
		map[string]any{"uuid": tenantUUID, "state": string(StateOK)})
	return volumes, err
}

// All snapshots of the given tenant whose lifecycle state is OK.
func (s *Store) OKSnapshotsOfTenant(tenantUUID string) ([]Snapshot, error) {
	var snapshots []Snapshot
	_, err := s.DB.Select(&snapshots,
		"SELECT * FROM snapshots WHERE tenant_uuid = :uuid AND state = :state",
		map[string]any{"uuid": tenantUUID, "state": string(StateOK)})
	return snapshots, err
}

// All volumes attached to or created for the given instance.
func (s *Store) VolumesOfInstance(instanceUUID string) ([]Volume, error) {
	var volumes []Volume
	_, err := s.DB.Select(&volumes,
		"SELECT * FROM volumes WHERE instance_uuid = :uuid ORDER BY bootable DESC, name",
		map[string]any{"uuid": instanceUUID})
	return volumes, err
}

// All volume backups belonging to the given DR backup.
func (s *Store) VolumeBackupsOfDRBackup(drBackupUUID string) ([]VolumeBackup, error) {
	var backups []VolumeBackup
	_, err := s.DB.Select(&backups,
		"SELECT * FROM volume_backups WHERE dr_backup_uuid = :uuid",
		map[string]any{"uuid": drBackupUUID})
	return backups, err
}

// All temporary volumes created for the given DR backup.
func (s *Store) TemporaryVolumesOfDRBackup(drBackupUUID string) ([]Volume, error) {
	var volumes []Volume
	_, err := s.DB.Select(&volumes,
		"SELECT * FROM volumes WHERE temp_for_dr_backup_uuid = :uuid",
		map[string]any{"uuid": drBackupUUID})
	return volumes, err
}

// All temporary snapshots created for the given DR backup.
func (s *Store) TemporarySnapshotsOfDRBackup(drBackupUUID string) ([]Snapshot, error) {
	var snapshots []Snapshot
	_, err := s.DB.Select(&snapshots,
		"SELECT * FROM snapshots WHERE temp_for_dr_backup_uuid = :uuid",
		map[string]any{"uuid": drBackupUUID})
	return snapshots, err
}

// All volume backup restorations belonging to the given DR backup restoration.
func (s *Store) VolumeBackupRestorationsOf(restorationUUID string) ([]VolumeBackupRestoration, error) {
	var restorations []VolumeBackupRestoration
	_, err := s.DB.Select(&restorations,
		"SELECT * FROM volume_backup_restorations WHERE dr_backup_restoration_uuid = :uuid",
		map[string]any{"uuid": restorationUUID})
	return restorations, err
}

// All security groups of the given tenant.
func (s *Store) SecurityGroupsOfTenant(tenantUUID string) ([]SecurityGroup, error) {
	var groups []SecurityGroup
	_, err := s.DB.Select(&groups,
		"SELECT * FROM security_groups WHERE tenant_uuid = :uuid",
		map[string]any{"uuid": tenantUUID})
	return groups, err
}

// All floating ips tracked for the given tenant.
func (s *Store) FloatingIPsOfTenant(tenantUUID string) ([]FloatingIP, error) {
	var fips []FloatingIP
	_, err := s.DB.Select(&fips,
		"SELECT * FROM floating_ips WHERE tenant_uuid = :uuid",
		map[string]any{"uuid": tenantUUID})
	return fips, err
}

// All rules of the given security group.
func (s *Store) RulesOfSecurityGroup(securityGroupUUID string) ([]SecurityGroupRule, error) {
	var rules []SecurityGroupRule
	_, err := s.DB.Select(&rules,
		"SELECT * FROM security_group_rules WHERE security_group_uuid = :uuid",
		map[string]any{"uuid": securityGroupUUID})
	return rules, err
}

// The backup schedule that produced the given DR backup, if any.
func (s *Store) BackupScheduleOfDRBackup(drBackup *DRBackup) (*BackupSchedule, error) {
	if drBackup.BackupScheduleUUID == "" {
		return nil, nil
	}
	var schedule BackupSchedule
	err := s.DB.SelectOne(&schedule,
		"SELECT * FROM backup_schedules WHERE uuid = :uuid",
		map[string]any{"uuid": drBackup.BackupScheduleUUID})
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Look up single records by their UUID.

func (s *Store) GetTenant(uuid string) (*Tenant, error) {
	var tenant Tenant
	err := s.DB.SelectOne(&tenant,
		"SELECT * FROM tenants WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &tenant, err
}

func (s *Store) GetInstance(uuid string) (*Instance, error) {
	var instance Instance
	err := s.DB.SelectOne(&instance,
		"SELECT * FROM instances WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &instance, err
}

func (s *Store) GetVolume(uuid string) (*Volume, error) {
	var volume Volume
	err := s.DB.SelectOne(&volume,
		"SELECT * FROM volumes WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &volume, err
}

func (s *Store) GetSnapshot(uuid string) (*Snapshot, error) {
	var snapshot Snapshot
	err := s.DB.SelectOne(&snapshot,
		"SELECT * FROM snapshots WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &snapshot, err
}

func (s *Store) GetVolumeBackup(uuid string) (*VolumeBackup, error) {
	var backup VolumeBackup
	err := s.DB.SelectOne(&backup,
		"SELECT * FROM volume_backups WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &backup, err
}

func (s *Store) GetVolumeBackupRecord(uuid string) (*VolumeBackupRecord, error) {
	var record VolumeBackupRecord
	err := s.DB.SelectOne(&record,
		"SELECT * FROM volume_backup_records WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &record, err
}

func (s *Store) GetSecurityGroup(uuid string) (*SecurityGroup, error) {
	var group SecurityGroup
	err := s.DB.SelectOne(&group,
		"SELECT * FROM security_groups WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &group, err
}

func (s *Store) GetDRBackup(uuid string) (*DRBackup, error) {
	var backup DRBackup
	err := s.DB.SelectOne(&backup,
		"SELECT * FROM dr_backups WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &backup, err
}

func (s *Store) GetDRBackupRestoration(uuid string) (*DRBackupRestoration, error) {
	var restoration DRBackupRestoration
	err := s.DB.SelectOne(&restoration,
		"SELECT * FROM dr_backup_restorations WHERE uuid = :uuid", map[string]any{"uuid": uuid})
	return &restoration, err
}
