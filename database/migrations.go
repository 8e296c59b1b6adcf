package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type migration struct {
	version     int
	description string
	sql         string
}

// migrations contains all database migrations in order
var migrations = []migration{
	{version: 1, description: "Initial data index schema", sql: initialSchema},
	{version: 2, description: "Add acqfiletypes association table", sql: acqFileTypesSchema},
	{version: 3, description: "Add storagetransferaction table", sql: transferActionSchema},
}

// initSchema creates the database schema if it doesn't exist.
func (d *DB) initSchema() error {
	// Create schema_migrations table first
	if _, err := d.db.Exec(schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		if err := d.runMigration(m); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}

	return nil
}

// runMigration applies m unless it is already recorded. The existence check
// runs inside the transaction so that two processes opening a fresh database
// at the same time do not both apply it.
func (d *DB) runMigration(m migration) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)", m.version, m.description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"version":     m.version,
		"description": m.description,
		"db_file":     d.path,
	}).Info("applied schema migration")

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (d *DB) SchemaVersion() (int, error) {
	var v int
	if err := d.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
