// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

// OpenStack project tracked by the platform, together with the backend
// quota limits that are pushed on creation.
type Tenant struct {
	Lifecycle
	UUID              string `db:"uuid"`
	Name              string `db:"name"`
	Description       string `db:"description"`
	BackendID         string `db:"backend_id"`
	InternalNetworkID string `db:"internal_network_id"`
	InternalSubnetID  string `db:"internal_subnet_id"`
	ExternalNetworkID string `db:"external_network_id"`
	// Optional availability zone used for all instances in this tenant.
	AvailabilityZone string `db:"availability_zone"`
	// Credentials of the service user created inside the tenant.
	UserUsername string `db:"user_username"`
	UserPassword string `db:"user_password"`

	QuotaVCPUs          int `db:"quota_vcpus"`
	QuotaRAMMiB         int `db:"quota_ram_mib"`
	QuotaInstances      int `db:"quota_instances"`
	QuotaVolumes        int `db:"quota_volumes"`
	QuotaSnapshots      int `db:"quota_snapshots"`
	QuotaStorageGiB     int `db:"quota_storage_gib"`
	QuotaBackupGiB      int `db:"quota_backup_gib"`
	QuotaSecurityGroups int `db:"quota_security_groups"`
	QuotaFloatingIPs    int `db:"quota_floating_ips"`
}

func (Tenant) TableName() string   { return "tenants" }
func (t *Tenant) GetUUID() string  { return t.UUID }
func (t *Tenant) Describe() string { return "tenant " + t.Name + " (" + t.UUID + ")" }

// Virtual machine record.
type Instance struct {
	Lifecycle
	UUID            string `db:"uuid"`
	TenantUUID      string `db:"tenant_uuid"`
	Name            string `db:"name"`
	Description     string `db:"description"`
	BackendID       string `db:"backend_id"`
	FlavorName      string `db:"flavor_name"`
	FlavorBackendID string `db:"flavor_backend_id"`
	KeyName         string `db:"key_name"`
}

func (Instance) TableName() string   { return "instances" }
func (i *Instance) GetUUID() string  { return i.UUID }
func (i *Instance) Describe() string { return "instance " + i.Name + " (" + i.UUID + ")" }

// Block storage volume record. Volumes created as temporary copies during a
// DR backup carry the backup's UUID in TempForDRBackupUUID.
type Volume struct {
	Lifecycle
	UUID        string `db:"uuid"`
	TenantUUID  string `db:"tenant_uuid"`
	Name        string `db:"name"`
	Description string `db:"description"`
	BackendID   string `db:"backend_id"`
	SizeGiB     int    `db:"size_gib"`
	Bootable    bool   `db:"bootable"`
	Type        string `db:"type"`
	// Device path reported by the backend once attached, e.g. /dev/vdb.
	Device string `db:"device"`
	// Instance the volume is attached to, if any.
	InstanceUUID string `db:"instance_uuid"`
	// Snapshot the volume was created from, if any.
	SourceSnapshotUUID  string `db:"source_snapshot_uuid"`
	ImageBackendID      string `db:"image_backend_id"`
	TempForDRBackupUUID string `db:"temp_for_dr_backup_uuid"`
}

func (Volume) TableName() string   { return "volumes" }
func (v *Volume) GetUUID() string  { return v.UUID }
func (v *Volume) Describe() string { return "volume " + v.Name + " (" + v.UUID + ")" }

// Volume snapshot record.
type Snapshot struct {
	Lifecycle
	UUID                string `db:"uuid"`
	TenantUUID          string `db:"tenant_uuid"`
	Name                string `db:"name"`
	Description         string `db:"description"`
	BackendID           string `db:"backend_id"`
	SizeGiB             int    `db:"size_gib"`
	SourceVolumeUUID    string `db:"source_volume_uuid"`
	TempForDRBackupUUID string `db:"temp_for_dr_backup_uuid"`
}

func (Snapshot) TableName() string   { return "snapshots" }
func (s *Snapshot) GetUUID() string  { return s.UUID }
func (s *Snapshot) Describe() string { return "snapshot " + s.Name + " (" + s.UUID + ")" }

// Cinder backup of a single volume, part of a DR backup.
type VolumeBackup struct {
	Lifecycle
	UUID             string `db:"uuid"`
	TenantUUID       string `db:"tenant_uuid"`
	Name             string `db:"name"`
	Description      string `db:"description"`
	BackendID        string `db:"backend_id"`
	SizeGiB          int    `db:"size_gib"`
	// Whether the backed-up volume was bootable, so restorations can
	// rebuild the boot order.
	Bootable         bool   `db:"bootable"`
	SourceVolumeUUID string `db:"source_volume_uuid"`
	DRBackupUUID     string `db:"dr_backup_uuid"`
	RecordUUID       string `db:"record_uuid"`
}

func (VolumeBackup) TableName() string   { return "volume_backups" }
func (b *VolumeBackup) GetUUID() string  { return b.UUID }
func (b *VolumeBackup) Describe() string { return "volume backup " + b.Name + " (" + b.UUID + ")" }

// Exported backup record that locates the backup in the backing store.
// Several backend backups can be imported from one record.
type VolumeBackupRecord struct {
	UUID string `db:"uuid"`
	// The backup driver reported by the backend, e.g. cinder.backup.drivers.swift.
	Service string `db:"service"`
	// Opaque backend-encoded locator for the backup.
	URL string `db:"url"`
}

func (VolumeBackupRecord) TableName() string { return "volume_backup_records" }

// Disaster-recovery backup of an instance: one volume backup per instance
// volume, created via temporary snapshots and volumes.
type DRBackup struct {
	Lifecycle
	UUID               string `db:"uuid"`
	TenantUUID         string `db:"tenant_uuid"`
	Name               string `db:"name"`
	Description        string `db:"description"`
	SourceInstanceUUID string `db:"source_instance_uuid"`
	// Instance metadata used on restoration, as a JSON blob.
	Metadata           string `db:"metadata"`
	BackupScheduleUUID string `db:"backup_schedule_uuid"`
}

func (DRBackup) TableName() string   { return "dr_backups" }
func (b *DRBackup) GetUUID() string  { return b.UUID }
func (b *DRBackup) Describe() string { return "DR backup " + b.Name + " (" + b.UUID + ")" }

// Periodic schedule producing DR backups for an instance.
type BackupSchedule struct {
	UUID          string `db:"uuid"`
	InstanceUUID  string `db:"instance_uuid"`
	Schedule      string `db:"schedule"`
	RetentionDays int    `db:"retention_days"`
	MaxBackups    int    `db:"max_backups"`
	IsActive      bool   `db:"is_active"`
	RuntimeState  string `db:"runtime_state"`
	ErrorMessage  string `db:"error_message"`
}

func (BackupSchedule) TableName() string { return "backup_schedules" }

// Restoration of an instance from a DR backup.
type DRBackupRestoration struct {
	Lifecycle
	UUID         string `db:"uuid"`
	DRBackupUUID string `db:"dr_backup_uuid"`
	// The instance being restored.
	InstanceUUID string `db:"instance_uuid"`
	// Tenant to restore the instance into.
	TenantUUID      string `db:"tenant_uuid"`
	FlavorBackendID string `db:"flavor_backend_id"`
}

func (DRBackupRestoration) TableName() string  { return "dr_backup_restorations" }
func (r *DRBackupRestoration) GetUUID() string { return r.UUID }
func (r *DRBackupRestoration) Describe() string {
	return "DR backup restoration " + r.UUID
}

// Restoration of a single volume from a volume backup. The mirrored volume
// backup is a temporary copy imported from the backup record, used so the
// original backup stays untouched.
type VolumeBackupRestoration struct {
	UUID                     string `db:"uuid"`
	TenantUUID               string `db:"tenant_uuid"`
	DRBackupRestorationUUID  string `db:"dr_backup_restoration_uuid"`
	VolumeBackupUUID         string `db:"volume_backup_uuid"`
	MirroredVolumeBackupUUID string `db:"mirrored_volume_backup_uuid"`
	VolumeUUID               string `db:"volume_uuid"`
}

func (VolumeBackupRestoration) TableName() string { return "volume_backup_restorations" }

// Security group record with its rules.
type SecurityGroup struct {
	Lifecycle
	UUID        string `db:"uuid"`
	TenantUUID  string `db:"tenant_uuid"`
	Name        string `db:"name"`
	Description string `db:"description"`
	BackendID   string `db:"backend_id"`
}

func (SecurityGroup) TableName() string   { return "security_groups" }
func (g *SecurityGroup) GetUUID() string  { return g.UUID }
func (g *SecurityGroup) Describe() string { return "security group " + g.Name + " (" + g.UUID + ")" }

// A single ingress rule of a security group.
type SecurityGroupRule struct {
	UUID              string `db:"uuid"`
	SecurityGroupUUID string `db:"security_group_uuid"`
	Protocol          string `db:"protocol"`
	FromPort          int    `db:"from_port"`
	ToPort            int    `db:"to_port"`
	CIDR              string `db:"cidr"`
	BackendID         string `db:"backend_id"`
}

func (SecurityGroupRule) TableName() string { return "security_group_rules" }

// Link between an instance and a security group applied to it.
type InstanceSecurityGroup struct {
	UUID              string `db:"uuid"`
	InstanceUUID      string `db:"instance_uuid"`
	SecurityGroupUUID string `db:"security_group_uuid"`
}

func (InstanceSecurityGroup) TableName() string { return "instance_security_groups" }

// Floating IP tracked for a tenant.
type FloatingIP struct {
	UUID             string `db:"uuid"`
	TenantUUID       string `db:"tenant_uuid"`
	Address          string `db:"address"`
	Status           string `db:"status"`
	BackendID        string `db:"backend_id"`
	BackendNetworkID string `db:"backend_network_id"`
}

func (FloatingIP) TableName() string { return "floating_ips" }
