// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/httpext"
	"github.com/spf13/cobra"

	"github.com/cobaltcore-dev/halcyon/internal/api"
	"github.com/cobaltcore-dev/halcyon/internal/backend"
	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/cobaltcore-dev/halcyon/internal/db"
	"github.com/cobaltcore-dev/halcyon/internal/dispatcher"
	"github.com/cobaltcore-dev/halcyon/internal/executors"
	"github.com/cobaltcore-dev/halcyon/internal/keystone"
	"github.com/cobaltcore-dev/halcyon/internal/models"
	"github.com/cobaltcore-dev/halcyon/internal/monitoring"
	"github.com/cobaltcore-dev/halcyon/internal/mqtt"
	halcyonsync "github.com/cobaltcore-dev/halcyon/internal/sync"
)

// Run the prometheus metrics server for monitoring.
func runMonitoringServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("metrics listening", "port", config.Port)
	addr := fmt.Sprintf(":%d", config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}

// Connect the database and create the schema.
func setupStore(config conf.Config, registry *monitoring.Registry) (db.DB, *models.Store) {
	database := db.NewPostgresDB(config.GetDBConfig(), db.NewDBMonitor(registry))
	store := models.NewStore(database)
	store.Init()
	db.NewMigrater(database).Migrate()
	return database, store
}

func runMigrate(cmd *cobra.Command, args []string) {
	config := conf.NewConfig()
	config.GetLoggingConfig().SetDefaultLogger()
	registry := monitoring.NewRegistry(config.GetMonitoringConfig())
	database, _ := setupStore(config, registry)
	database.Close()
}

func runServe(cmd *cobra.Command, args []string) {
	// This context will gracefully shut down when the process receives the
	// standard shutdown signal SIGINT, with a delay to allow load balancers
	// to stop sending new requests before the process shuts down.
	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	config := conf.NewConfig()
	config.GetLoggingConfig().SetDefaultLogger()
	registry := monitoring.NewRegistry(config.GetMonitoringConfig())
	database, store := setupStore(config, registry)
	defer database.Close()

	keystoneConf := config.GetKeystoneConfig()
	httpClient, err := keystone.NewHTTPClient(keystoneConf.SSO)
	if err != nil {
		panic(err)
	}
	keystoneAPI := keystone.NewKeystoneAPIWithHTTPClient(keystoneConf, httpClient)
	osBackend := backend.NewBackend(keystoneAPI)
	osBackend.Init(ctx)

	mqttClient := mqtt.NewClient(config.GetMQTTConfig())
	if err := mqttClient.Connect(); err != nil {
		panic("failed to connect to mqtt broker: " + err.Error())
	}
	defer mqttClient.Disconnect()

	executorConf := config.GetExecutorConfig()
	executorMonitor := executors.NewExecutorMonitor(registry)
	drBackups := &executors.DRBackupExecutors{
		Store:     store,
		Snapshots: osBackend,
		Volumes:   osBackend,
		Backups:   osBackend,
		Conf:      executorConf,
		Monitor:   executorMonitor,
	}
	restorations := &executors.RestorationExecutors{
		Store:     store,
		Volumes:   osBackend,
		Backups:   osBackend,
		Instances: osBackend,
		Conf:      executorConf,
		Monitor:   executorMonitor,
	}
	securityGroups := &executors.SecurityGroupExecutors{
		Store: store, Backend: osBackend, Monitor: executorMonitor,
	}
	operations := &dispatcher.Dispatcher{
		Store: store,
		MQTT:  mqttClient,
		Tenants: &executors.TenantExecutors{
			Store: store, Backend: osBackend, SecurityGroups: securityGroups,
			Conf: executorConf, Monitor: executorMonitor,
		},
		Instances: &executors.InstanceExecutors{
			Store: store, Backend: osBackend, Volumes: osBackend,
			Conf: executorConf, Monitor: executorMonitor,
		},
		Volumes: &executors.VolumeExecutors{
			Store: store, Backend: osBackend, Conf: executorConf, Monitor: executorMonitor,
		},
		Snapshots: &executors.SnapshotExecutors{
			Store: store, Backend: osBackend, Conf: executorConf, Monitor: executorMonitor,
		},
		SecurityGroups: securityGroups,
	}
	if err := operations.Init(ctx); err != nil {
		panic(err)
	}

	pipeline := halcyonsync.NewPipeline(
		store, osBackend, mqttClient,
		config.GetSyncConfig(), halcyonsync.NewSyncMonitor(registry),
	)
	go pipeline.Run(ctx)
	go runMonitoringServer(ctx, registry, config.GetMonitoringConfig())

	// Blocks until the context is canceled.
	api.NewAPI(
		config.GetAPIConfig(), store, drBackups, restorations,
		api.NewAPIMonitor(registry),
	).Init(ctx)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "halcyon",
		Short: "Cloud resource lifecycle service",
		Long: "Halcyon drives tenants, instances, volumes, snapshots, security groups " +
			"and DR backups against an OpenStack installation through asynchronous " +
			"task chains with compensation.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run migrations, the sync loops, the operation dispatcher and the API.",
		Args:  cobra.NoArgs,
		Run:   runServe,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and run migrations, then exit.",
		Args:  cobra.NoArgs,
		Run:   runMigrate,
	})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
