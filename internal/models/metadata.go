// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import "encoding/json"

// Instance properties captured when a DR backup is taken, so the instance
// can be recreated on restoration even if the original is gone.
type DRBackupMetadata struct {
	InstanceName    string `json:"instanceName"`
	FlavorName      string `json:"flavorName"`
	FlavorBackendID string `json:"flavorBackendID"`
	KeyName         string `json:"keyName"`
}

// Capture the metadata of the instance into the DR backup record.
func (b *DRBackup) CaptureMetadata(instance *Instance) error {
	data, err := json.Marshal(DRBackupMetadata{
		InstanceName:    instance.Name,
		FlavorName:      instance.FlavorName,
		FlavorBackendID: instance.FlavorBackendID,
		KeyName:         instance.KeyName,
	})
	if err != nil {
		return err
	}
	b.Metadata = string(data)
	return nil
}

// Read the captured instance metadata back from the DR backup record.
func (b *DRBackup) GetMetadata() (DRBackupMetadata, error) {
	var meta DRBackupMetadata
	err := json.Unmarshal([]byte(b.Metadata), &meta)
	return meta, err
}
