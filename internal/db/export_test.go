// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

// Helpers exposing unexported internals to the external test package.

func NewMigraterWithMigrations(database DB, migrations map[string]string) Migrater {
	return &migrater{db: database, migrations: migrations}
}

func MigraterMigrations(m Migrater) map[string]string {
	return m.(*migrater).migrations
}
