// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"
	"github.com/sapcc/go-bits/easypg"
)

// Wrapper around gorp.DbMap that adds some convenience functions.
type DB struct {
	*gorp.DbMap
	DBConfig conf.DBConfig
}

type Table interface {
	TableName() string
}

// Create a new postgres database and wait until it is connected.
func NewPostgresDB(c conf.DBConfig, monitor Monitor) DB {
	stripYaml := func(s string) string { return strings.ReplaceAll(s, "\n", "") }
	dbURL, err := easypg.URLFrom(easypg.URLParts{
		HostName:          stripYaml(c.Host),
		Port:              stripYaml(c.Port),
		UserName:          stripYaml(c.User),
		Password:          stripYaml(c.Password),
		ConnectionOptions: "sslmode=disable",
		DatabaseName:      stripYaml(c.Database),
	})
	if err != nil {
		panic(err)
	}
	slog.Info("connecting to database", "host", stripYaml(c.Host), "database", stripYaml(c.Database))
	db, err := sql.Open("postgres", dbURL.String())
	if err != nil {
		panic(err)
	}

	var sqlDB *sql.DB
	// If the wait time exceeds 10 seconds, we will panic.
	maxRetries := 10
	for i := range maxRetries {
		if monitor.connectionAttempts != nil {
			monitor.connectionAttempts.Inc()
		}
		err := db.Ping()
		if err == nil {
			sqlDB = db
			break
		}
		if i == maxRetries-1 {
			panic("giving up connecting to database")
		}
		slog.Error("failed to connect to database, retrying...", "error", err)
		time.Sleep(1 * time.Second)
	}

	sqlDB.SetMaxOpenConns(16)
	dbMap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}
	slog.Info("database is ready")
	return DB{DBConfig: c, DbMap: dbMap}
}

// Adds missing functionality to gorp.DbMap which creates one table.
func (d *DB) CreateTable(table ...*gorp.TableMap) error {
	tx, err := d.Begin()
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		return tx.Rollback()
	}
	for _, t := range table {
		slog.Info("creating table", "table", t.TableName)
		sql := t.SqlForCreate(true) // true means to add IF NOT EXISTS
		if _, err := tx.Exec(sql); err != nil {
			return tx.Rollback()
		}
	}
	return tx.Commit()
}

// Adds a Model table to the database.
func (d *DB) AddTable(t Table) *gorp.TableMap {
	slog.Info("adding table", "table", t.TableName())
	return d.AddTableWithName(t, t.TableName())
}

// Convenience function to close the database connection.
func (d *DB) Close() {
	if err := d.DbMap.Db.Close(); err != nil {
		slog.Error("failed to close database connection", "error", err)
	}
}
