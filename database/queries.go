package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries provides table-aware database operations.
type Queries struct {
	db        DBTX
	tableName string
}

// NewQueries creates a new Queries instance with the given table name.
func NewQueries(db DBTX, tableName string) *Queries {
	return &Queries{
		db:        db,
		tableName: tableName,
	}
}

// WithTx returns a copy of Queries bound to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db:        tx,
		tableName: q.tableName,
	}
}

var (
	// SHARE ROW EXCLUSIVE conflicts with itself and with row writes, but not
	// with plain reads. Allocators and reclaimers serialize on it, including
	// inserts of node ids that have no row yet.
	lockInstancesSQL = `
LOCK TABLE %s_instances IN SHARE ROW EXCLUSIVE MODE;`

	listInstancesForUpdateSQL = `
SELECT node_id, owner, last_heartbeat, created_at, updated_at
FROM %s_instances
ORDER BY node_id ASC
FOR UPDATE;`

	listInstancesSQL = `
SELECT node_id, owner, last_heartbeat, created_at, updated_at
FROM %s_instances
ORDER BY node_id ASC;`

	getInstanceSQL = `
SELECT node_id, owner, last_heartbeat, created_at, updated_at
FROM %s_instances
WHERE node_id = $1;`

	insertInstanceSQL = `
INSERT INTO %s_instances (node_id, owner, last_heartbeat, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5);`

	reassignInstanceSQL = `
UPDATE %s_instances
SET owner = $2, last_heartbeat = $3, updated_at = $3
WHERE node_id = $1;`

	touchHeartbeatSQL = `
UPDATE %s_instances
SET last_heartbeat = $3, updated_at = $3
WHERE node_id = $1 AND owner = $2 AND last_heartbeat > $4;`

	setHeartbeatSQL = `
UPDATE %s_instances
SET last_heartbeat = $2
WHERE node_id = $1;`

	deleteStaleInstancesSQL = `
DELETE FROM %s_instances
WHERE last_heartbeat <= $1
RETURNING node_id;`

	deleteInstanceSQL = `
DELETE FROM %s_instances
WHERE node_id = $1 AND owner = $2;`
)

// LockInstances takes the exclusive allocation lock on the instances table.
// It must run inside a transaction; the lock is released on commit or rollback.
func (q *Queries) LockInstances(ctx context.Context) error {
	var query = fmt.Sprintf(lockInstancesSQL, q.tableName)
	if _, err := q.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to lock instances: %w", err)
	}
	return nil
}

// ListInstancesForUpdate returns all instances ordered by node id, row-locked
// until the surrounding transaction ends.
func (q *Queries) ListInstancesForUpdate(ctx context.Context) ([]*InstanceRecord, error) {
	return q.listInstances(ctx, listInstancesForUpdateSQL)
}

// ListInstances returns all instances ordered by node id.
func (q *Queries) ListInstances(ctx context.Context) ([]*InstanceRecord, error) {
	return q.listInstances(ctx, listInstancesSQL)
}

func (q *Queries) listInstances(ctx context.Context, sqlFmt string) ([]*InstanceRecord, error) {
	var (
		query     = fmt.Sprintf(sqlFmt, q.tableName)
		rows, err = q.db.QueryContext(ctx, query)
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*InstanceRecord
	for rows.Next() {
		var instance InstanceRecord
		if err := rows.Scan(&instance.NodeID, &instance.Owner, &instance.LastHeartbeat,
			&instance.CreatedAt, &instance.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, &instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return instances, nil
}

// GetInstance retrieves a single instance by node id.
func (q *Queries) GetInstance(ctx context.Context, nodeID int) (*InstanceRecord, error) {
	var (
		query    = fmt.Sprintf(getInstanceSQL, q.tableName)
		instance InstanceRecord
		err      = q.db.QueryRowContext(ctx, query, nodeID).Scan(
			&instance.NodeID, &instance.Owner, &instance.LastHeartbeat,
			&instance.CreatedAt, &instance.UpdatedAt,
		)
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return &instance, nil
}

// InsertInstance inserts a new instance. It fails if the node id is taken.
func (q *Queries) InsertInstance(ctx context.Context, instance *InstanceRecord) error {
	var query = fmt.Sprintf(insertInstanceSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query,
		instance.NodeID, instance.Owner, instance.LastHeartbeat, instance.CreatedAt, instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	return nil
}

// ReassignInstance hands an existing record to a new owner, leaving created_at untouched.
func (q *Queries) ReassignInstance(ctx context.Context, nodeID int, owner string, now time.Time) error {
	var query = fmt.Sprintf(reassignInstanceSQL, q.tableName)
	result, err := q.db.ExecContext(ctx, query, nodeID, owner, now)
	if err != nil {
		return fmt.Errorf("failed to reassign instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("failed to reassign instance %d: %d rows affected", nodeID, affected)
	}
	return nil
}

// TouchHeartbeat refreshes the heartbeat of an instance still held by owner
// whose last heartbeat is newer than staleBefore. It reports whether a row
// was updated.
func (q *Queries) TouchHeartbeat(ctx context.Context, nodeID int, owner string, now, staleBefore time.Time) (bool, error) {
	var query = fmt.Sprintf(touchHeartbeatSQL, q.tableName)
	result, err := q.db.ExecContext(ctx, query, nodeID, owner, now, staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to touch heartbeat: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// SetHeartbeat overwrites an instance's heartbeat unconditionally.
func (q *Queries) SetHeartbeat(ctx context.Context, nodeID int, at time.Time) error {
	var query = fmt.Sprintf(setHeartbeatSQL, q.tableName)
	if _, err := q.db.ExecContext(ctx, query, nodeID, at); err != nil {
		return fmt.Errorf("failed to set heartbeat: %w", err)
	}
	return nil
}

// DeleteStaleInstances removes every instance whose heartbeat is at or before
// staleBefore and returns the freed node ids.
func (q *Queries) DeleteStaleInstances(ctx context.Context, staleBefore time.Time) ([]int, error) {
	var (
		query     = fmt.Sprintf(deleteStaleInstancesSQL, q.tableName)
		rows, err = q.db.QueryContext(ctx, query, staleBefore)
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale instances: %w", err)
	}
	defer rows.Close()

	var nodeIDs []int
	for rows.Next() {
		var nodeID int
		if err := rows.Scan(&nodeID); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}
		nodeIDs = append(nodeIDs, nodeID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return nodeIDs, nil
}

// DeleteInstance removes an instance, but only while owner still holds it.
func (q *Queries) DeleteInstance(ctx context.Context, nodeID int, owner string) error {
	var query = fmt.Sprintf(deleteInstanceSQL, q.tableName)
	if _, err := q.db.ExecContext(ctx, query, nodeID, owner); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}
