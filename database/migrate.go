package database

import (
	"database/sql"
	"fmt"
)

var (
	// Concurrent CREATE ... IF NOT EXISTS can still collide in the catalog,
	// so migrations for one table serialize on an advisory lock.
	migrationLockSQL = `
SELECT pg_advisory_xact_lock(hashtext($1));`

	createInstancesTableSQL = `
CREATE TABLE IF NOT EXISTS %s_instances (
    node_id         INTEGER       NOT NULL,
    owner           VARCHAR       NOT NULL,
    last_heartbeat  TIMESTAMPTZ   NOT NULL,
    created_at      TIMESTAMPTZ   NOT NULL,
    updated_at      TIMESTAMPTZ   NOT NULL,

    PRIMARY KEY (node_id),
    CHECK (node_id >= 0)
);`

	createHeartbeatIndexSQL = `
CREATE INDEX IF NOT EXISTS %s
ON %s_instances (last_heartbeat);`
)

// Migrate creates the instances table with its heartbeat index.
func Migrate(db *sql.DB, tableName string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(migrationLockSQL, tableName+"_instances"); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}

	if err := createInstancesTable(tx, tableName); err != nil {
		return err
	}

	if err := createHeartbeatIndex(tx, tableName); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

func createInstancesTable(tx *sql.Tx, tableName string) error {
	var query = fmt.Sprintf(createInstancesTableSQL, tableName)
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to create instances table: %w", err)
	}
	return nil
}

func createHeartbeatIndex(tx *sql.Tx, tableName string) error {
	var (
		indexName = fmt.Sprintf("%s_instances_heartbeat_idx", tableName)
		query     = fmt.Sprintf(createHeartbeatIndexSQL, indexName, tableName)
	)
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to create heartbeat index: %w", err)
	}
	return nil
}
