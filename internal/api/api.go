// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the operations that cannot wait for the next sync
// round: taking a DR backup of an instance, deleting one, and restoring an
// instance from one. The handlers only validate and schedule, the heavy
// lifting happens asynchronously in the executors.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sapcc/go-bits/httpext"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/executors"
	"github.com/cobaltcore-dev/halcyon/internal/models"
)

type API interface {
	// Init the API mux and bind the handlers.
	Init(context.Context)
}

type api struct {
	store        *models.Store
	drBackups    *executors.DRBackupExecutors
	restorations *executors.RestorationExecutors
	config       conf.APIConfig
	monitor      Monitor

	// How scheduled executors are run. Swapped out in tests.
	run func(ctx context.Context, ex executors.Executor)

	// Context the scheduled executors run on. Bound in Init so that
	// executions outlive the request that scheduled them.
	runCtx context.Context
}

func NewAPI(
	config conf.APIConfig,
	store *models.Store,
	drBackups *executors.DRBackupExecutors,
	restorations *executors.RestorationExecutors,
	m Monitor,
) API {
	return &api{
		store:        store,
		drBackups:    drBackups,
		restorations: restorations,
		config:       config,
		monitor:      m,
		run: func(ctx context.Context, ex executors.Executor) {
			ex.ExecuteAsync(ctx)
		},
	}
}

// Build the API mux and bind the handlers.
func (api *api) handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", api.Up)
	mux.HandleFunc("POST /drbackups", api.CreateDRBackup)
	mux.HandleFunc("DELETE /drbackups/{uuid}", api.DeleteDRBackup)
	mux.HandleFunc("DELETE /drbackups/{uuid}/records", api.ForceDeleteDRBackup)
	mux.HandleFunc("POST /drbackups/{uuid}/restorations", api.RestoreDRBackup)
	return mux
}

// Init the API mux and serve it until the context is canceled.
func (api *api) Init(ctx context.Context) {
	api.runCtx = ctx
	mux := api.handler()
	slog.Info("api listening on", "port", api.config.Port)
	addr := fmt.Sprintf(":%d", api.config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}

// Helper to respond to the request with the given code and error.
// Also adds monitoring for the time it took to handle the request.
type apihelper struct {
	api     *api
	w       http.ResponseWriter
	r       *http.Request
	pattern string
	t       time.Time
}

func (api *api) newHelper(w http.ResponseWriter, r *http.Request, pattern string) apihelper {
	return apihelper{api: api, w: w, r: r, pattern: pattern, t: time.Now()}
}

// Respond to the request with the given code and error.
// Also log the time it took to handle the request.
func (h apihelper) respond(code int, err error, text string) {
	if h.api.monitor.apiRequestsTimer != nil {
		observer := h.api.monitor.apiRequestsTimer.WithLabelValues(
			h.r.Method,
			h.pattern,
			strconv.Itoa(code),
			text, // Internal error messages should not face the monitor.
		)
		observer.Observe(time.Since(h.t).Seconds())
	}
	if err != nil {
		slog.Error("failed to handle request", "error", err)
		http.Error(h.w, text, code)
		return
	}
	// If there was no error, nothing else to do.
}

// Respond with the scheduled record's uuid and status accepted.
func (h apihelper) accepted(uuid string) {
	h.respond(http.StatusAccepted, nil, "Accepted")
	h.w.Header().Set("Content-Type", "application/json")
	h.w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(h.w).Encode(map[string]string{"uuid": uuid}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Handle the GET request to check if the API is up.
func (api *api) Up(w http.ResponseWriter, r *http.Request) {
	h := api.newHelper(w, r, "/up")
	h.respond(http.StatusOK, nil, "Success")
}

type CreateDRBackupRequest struct {
	// The instance to back up.
	InstanceUUID string `json:"instanceUUID"`
	// Display name of the new backup.
	Name string `json:"name"`
	// Set when the backup was triggered by a schedule.
	BackupScheduleUUID string `json:"backupScheduleUUID,omitempty"`
}

// Handle the POST request to take a DR backup of an instance.
// The heavy lifting runs asynchronously, the response only carries the
// uuid of the scheduled backup record.
func (api *api) CreateDRBackup(w http.ResponseWriter, r *http.Request) {
	h := api.newHelper(w, r, "/drbackups")
	var request CreateDRBackupRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.respond(http.StatusBadRequest, err, "Invalid request body")
		return
	}
	instance, err := api.store.GetInstance(request.InstanceUUID)
	if err != nil {
		h.respond(http.StatusNotFound, err, "Instance not found")
		return
	}
	if instance.State != models.StateOK {
		err := fmt.Errorf("instance %s is in state %s", instance.UUID, instance.State)
		h.respond(http.StatusConflict, err, "Instance is not healthy")
		return
	}
	backup, err := executors.PrepareDRBackup(
		api.store, instance, request.Name, request.BackupScheduleUUID)
	if err != nil {
		h.respond(http.StatusUnprocessableEntity, err, "Cannot back up this instance")
		return
	}
	api.run(api.runCtx, api.drBackups.Create(backup))
	h.accepted(backup.UUID)
}

// Handle the DELETE request to remove a DR backup and its cinder backups.
// With ?force=true the records are dropped even if the backend cleanup
// fails.
func (api *api) DeleteDRBackup(w http.ResponseWriter, r *http.Request) {
	h := api.newHelper(w, r, "/drbackups/{uuid}")
	backup, err := api.store.GetDRBackup(r.PathValue("uuid"))
	if err != nil {
		h.respond(http.StatusNotFound, err, "DR backup not found")
		return
	}
	if err := api.store.Transition(backup, models.ScheduleDeleting); err != nil {
		h.respond(http.StatusConflict, err, "DR backup cannot be deleted right now")
		return
	}
	force := r.URL.Query().Get("force") == "true"
	api.run(api.runCtx, api.drBackups.Delete(backup, force))
	h.accepted(backup.UUID)
}

// Handle the DELETE request to drop a DR backup's records without touching
// the backend. Last resort when the backend resources are gone for good.
func (api *api) ForceDeleteDRBackup(w http.ResponseWriter, r *http.Request) {
	h := api.newHelper(w, r, "/drbackups/{uuid}/records")
	backup, err := api.store.GetDRBackup(r.PathValue("uuid"))
	if err != nil {
		h.respond(http.StatusNotFound, err, "DR backup not found")
		return
	}
	api.run(api.runCtx, api.drBackups.ForceDelete(backup))
	h.accepted(backup.UUID)
}

type RestoreDRBackupRequest struct {
	// The tenant to restore the instance into.
	TenantUUID string `json:"tenantUUID"`
}

// Handle the POST request to restore an instance from a DR backup.
func (api *api) RestoreDRBackup(w http.ResponseWriter, r *http.Request) {
	h := api.newHelper(w, r, "/drbackups/{uuid}/restorations")
	var request RestoreDRBackupRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.respond(http.StatusBadRequest, err, "Invalid request body")
		return
	}
	backup, err := api.store.GetDRBackup(r.PathValue("uuid"))
	if err != nil {
		h.respond(http.StatusNotFound, err, "DR backup not found")
		return
	}
	if backup.State != models.StateOK {
		err := fmt.Errorf("DR backup %s is in state %s", backup.UUID, backup.State)
		h.respond(http.StatusConflict, err, "DR backup is not restorable")
		return
	}
	tenant, err := api.store.GetTenant(request.TenantUUID)
	if err != nil {
		h.respond(http.StatusNotFound, err, "Tenant not found")
		return
	}
	restoration, err := executors.PrepareDRBackupRestoration(api.store, backup, tenant)
	if err != nil {
		h.respond(http.StatusUnprocessableEntity, err, "Cannot restore this backup")
		return
	}
	api.run(api.runCtx, api.restorations.Create(restoration))
	h.accepted(restoration.UUID)
}
