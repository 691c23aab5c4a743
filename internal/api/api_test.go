// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/executors"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	testlibDB "github.com/cobaltcore-dev/halcyon/testlib/db"
)

// API with the executor runs captured instead of executed, so the handlers
// can be tested without a backend.
func setupAPI(t *testing.T) (*api, *models.Store, *[]string, func()) {
	env := testlibDB.SetupDBEnv(t)
	store := models.NewStore(*env.DB)
	store.Init()
	var scheduled []string
	a := &api{
		store:        store,
		drBackups:    &executors.DRBackupExecutors{Store: store},
		restorations: &executors.RestorationExecutors{Store: store},
		config:       conf.APIConfig{Port: 0},
		run: func(ctx context.Context, ex executors.Executor) {
			scheduled = append(scheduled, ex.Name)
		},
		runCtx: t.Context(),
	}
	return a, store, &scheduled, env.Close
}

func serve(a *api, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.handler().ServeHTTP(w, r)
	return w
}

func TestUp(t *testing.T) {
	a, _, _, closeDB := setupAPI(t)
	defer closeDB()

	w := serve(a, httptest.NewRequest(http.MethodGet, "/up", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func newBackedUpInstance(t *testing.T, store *models.Store) *models.Instance {
	instance := &models.Instance{
		UUID:       "instance-1",
		TenantUUID: "tenant-1",
		Name:       "web-server",
		FlavorName: "m1.small",
	}
	instance.State = models.StateOK
	boot := &models.Volume{
		UUID:         "vol-boot",
		TenantUUID:   "tenant-1",
		Name:         "boot",
		SizeGiB:      10,
		Bootable:     true,
		InstanceUUID: instance.UUID,
	}
	boot.State = models.StateOK
	if err := store.Insert(instance, boot); err != nil {
		t.Fatal(err)
	}
	return instance
}

func TestCreateDRBackup(t *testing.T) {
	a, store, scheduled, closeDB := setupAPI(t)
	defer closeDB()
	newBackedUpInstance(t, store)

	body, _ := json.Marshal(CreateDRBackupRequest{
		InstanceUUID: "instance-1", Name: "nightly",
	})
	w := serve(a, httptest.NewRequest(http.MethodPost, "/drbackups", bytes.NewReader(body)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var response map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	backup, err := a.store.GetDRBackup(response["uuid"])
	if err != nil {
		t.Fatal(err)
	}
	if backup.State != models.StateCreationScheduled {
		t.Errorf("expected the backup to be scheduled, got %q", backup.State)
	}
	if len(*scheduled) != 1 {
		t.Errorf("expected 1 scheduled executor, got %v", *scheduled)
	}
}

func TestCreateDRBackup_InstanceNotFound(t *testing.T) {
	a, _, scheduled, closeDB := setupAPI(t)
	defer closeDB()

	body, _ := json.Marshal(CreateDRBackupRequest{InstanceUUID: "missing"})
	w := serve(a, httptest.NewRequest(http.MethodPost, "/drbackups", bytes.NewReader(body)))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if len(*scheduled) != 0 {
		t.Errorf("expected no scheduled executors, got %v", *scheduled)
	}
}

func TestCreateDRBackup_InstanceNotHealthy(t *testing.T) {
	a, store, scheduled, closeDB := setupAPI(t)
	defer closeDB()

	instance := &models.Instance{UUID: "instance-1", TenantUUID: "tenant-1", Name: "broken"}
	instance.State = models.StateErred
	if err := store.Insert(instance); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(CreateDRBackupRequest{InstanceUUID: "instance-1"})
	w := serve(a, httptest.NewRequest(http.MethodPost, "/drbackups", bytes.NewReader(body)))
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
	if len(*scheduled) != 0 {
		t.Errorf("expected no scheduled executors, got %v", *scheduled)
	}
}

func TestDeleteDRBackup(t *testing.T) {
	a, store, scheduled, closeDB := setupAPI(t)
	defer closeDB()

	backup := &models.DRBackup{UUID: "backup-1", TenantUUID: "tenant-1", Name: "nightly"}
	backup.State = models.StateOK
	if err := store.Insert(backup); err != nil {
		t.Fatal(err)
	}

	w := serve(a, httptest.NewRequest(http.MethodDelete, "/drbackups/backup-1?force=true", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	saved, err := store.GetDRBackup("backup-1")
	if err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateDeletionScheduled {
		t.Errorf("expected the backup to be scheduled for deletion, got %q", saved.State)
	}
	if len(*scheduled) != 1 {
		t.Errorf("expected 1 scheduled executor, got %v", *scheduled)
	}
}

func TestDeleteDRBackup_InFlight(t *testing.T) {
	a, store, scheduled, closeDB := setupAPI(t)
	defer closeDB()

	backup := &models.DRBackup{UUID: "backup-1", TenantUUID: "tenant-1", Name: "nightly"}
	backup.State = models.StateCreating
	if err := store.Insert(backup); err != nil {
		t.Fatal(err)
	}

	w := serve(a, httptest.NewRequest(http.MethodDelete, "/drbackups/backup-1", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
	if len(*scheduled) != 0 {
		t.Errorf("expected no scheduled executors, got %v", *scheduled)
	}
}

func TestForceDeleteDRBackup(t *testing.T) {
	a, store, scheduled, closeDB := setupAPI(t)
	defer closeDB()

	backup := &models.DRBackup{UUID: "backup-1", TenantUUID: "tenant-1", Name: "nightly"}
	backup.State = models.StateErred
	if err := store.Insert(backup); err != nil {
		t.Fatal(err)
	}

	w := serve(a, httptest.NewRequest(http.MethodDelete, "/drbackups/backup-1/records", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(*scheduled) != 1 {
		t.Errorf("expected 1 scheduled executor, got %v", *scheduled)
	}
}

func TestForceDeleteDRBackup_NotFound(t *testing.T) {
	a, _, scheduled, closeDB := setupAPI(t)
	defer closeDB()

	w := serve(a, httptest.NewRequest(http.MethodDelete, "/drbackups/missing/records", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if len(*scheduled) != 0 {
		t.Errorf("expected no scheduled executors, got %v", *scheduled)
	}
}

func TestRestoreDRBackup(t *testing.T) {
	a, store, scheduled, closeDB := setupAPI(t)
	defer closeDB()
	instance := newBackedUpInstance(t, store)

	backup := &models.DRBackup{
		UUID:               "backup-1",
		TenantUUID:         "tenant-1",
		Name:               "nightly",
		SourceInstanceUUID: instance.UUID,
	}
	if err := backup.CaptureMetadata(instance); err != nil {
		t.Fatal(err)
	}
	backup.State = models.StateOK
	vb := &models.VolumeBackup{
		UUID:         "vb-1",
		TenantUUID:   "tenant-1",
		Name:         "Backup of boot",
		SizeGiB:      10,
		Bootable:     true,
		DRBackupUUID: backup.UUID,
		RecordUUID:   "record-1",
	}
	vb.State = models.StateOK
	tenant := &models.Tenant{UUID: "tenant-1", Name: "test"}
	tenant.State = models.StateOK
	if err := store.Insert(backup, vb, tenant); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(RestoreDRBackupRequest{TenantUUID: "tenant-1"})
	w := serve(a, httptest.NewRequest(
		http.MethodPost, "/drbackups/backup-1/restorations", bytes.NewReader(body)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var response map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	restoration, err := store.GetDRBackupRestoration(response["uuid"])
	if err != nil {
		t.Fatal(err)
	}
	links, err := store.VolumeBackupRestorationsOf(restoration.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Errorf("expected 1 volume backup restoration, got %d", len(links))
	}
	if len(*scheduled) != 1 {
		t.Errorf("expected 1 scheduled executor, got %v", *scheduled)
	}
}

func TestRestoreDRBackup_NotRestorable(t *testing.T) {
	a, store, scheduled, closeDB := setupAPI(t)
	defer closeDB()

	backup := &models.DRBackup{UUID: "backup-1", TenantUUID: "tenant-1", Name: "broken"}
	backup.State = models.StateErred
	if err := store.Insert(backup); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(RestoreDRBackupRequest{TenantUUID: "tenant-1"})
	w := serve(a, httptest.NewRequest(
		http.MethodPost, "/drbackups/backup-1/restorations", bytes.NewReader(body)))
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
	if len(*scheduled) != 0 {
		t.Errorf("expected no scheduled executors, got %v", *scheduled)
	}
}
