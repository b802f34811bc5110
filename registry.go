package flakeid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go-flakeid/database"
)

// validRegistryIDPattern validates PostgreSQL-safe identifiers
var validRegistryIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateRegistryID checks if the registryID is valid for use as a PostgreSQL identifier.
// The instances table is named <registryID>_instances, so the id leaves room for the suffix.
func ValidateRegistryID(registryID string) error {
	if registryID == "" {
		return errors.New("registryID cannot be empty")
	}

	if len(registryID) > maxRegistryIDLength {
		return fmt.Errorf("registryID must be %d characters or less", maxRegistryIDLength)
	}

	if !validRegistryIDPattern.MatchString(registryID) {
		return ErrInvalidRegistryID
	}

	return nil
}

// 63 byte identifier limit minus len("_instances") and the heartbeat index suffix.
const maxRegistryIDLength = 63 - len("_instances_heartbeat_idx")

// nodeRegistry handles all database operations for instance records.
type nodeRegistry struct {
	db      *sql.DB
	queries *database.Queries
}

// newNodeRegistry creates a registry over the <registryID>_instances table.
func newNodeRegistry(db *sql.DB, registryID string) *nodeRegistry {
	return &nodeRegistry{
		db:      db,
		queries: database.NewQueries(db, registryID),
	}
}

// withLockedTx runs fn in a transaction holding the exclusive allocation lock
// on the instances table. fn's error rolls the transaction back.
func (r *nodeRegistry) withLockedTx(ctx context.Context, fn func(q *database.Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var q = r.queries.WithTx(tx)
	if err := q.LockInstances(ctx); err != nil {
		return err
	}

	if err := fn(q); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListInstances returns every instance record ordered by node id.
func (r *nodeRegistry) ListInstances(ctx context.Context) ([]*Instance, error) {
	var records, err = r.queries.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return toInstances(records), nil
}

// TouchHeartbeat refreshes the record for nodeID if owner still holds it and
// it has not gone stale. It reports whether the claim is still valid.
func (r *nodeRegistry) TouchHeartbeat(ctx context.Context, nodeID int, owner string, now time.Time, tolerance time.Duration) (bool, error) {
	var ok, err = r.queries.TouchHeartbeat(ctx, nodeID, owner, now, now.Add(-tolerance))
	if err != nil {
		return false, fmt.Errorf("failed to touch heartbeat for node %d: %w", nodeID, err)
	}
	return ok, nil
}

// DeleteStale removes records whose heartbeat is at least tolerance old and
// returns the freed node ids in ascending order. It takes the same lock as
// allocation so it cannot free an id mid-claim.
func (r *nodeRegistry) DeleteStale(ctx context.Context, now time.Time, tolerance time.Duration) ([]int, error) {
	var freed []int
	err := r.withLockedTx(ctx, func(q *database.Queries) error {
		var err error
		freed, err = q.DeleteStaleInstances(ctx, now.Add(-tolerance))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale instances: %w", err)
	}

	sort.Ints(freed)
	return freed, nil
}

// Release deletes the record for nodeID if owner still holds it.
func (r *nodeRegistry) Release(ctx context.Context, nodeID int, owner string) error {
	if err := r.queries.DeleteInstance(ctx, nodeID, owner); err != nil {
		return fmt.Errorf("failed to release node %d: %w", nodeID, err)
	}
	return nil
}

func toInstances(records []*database.InstanceRecord) []*Instance {
	var instances = make([]*Instance, len(records))
	for i, record := range records {
		instances[i] = &Instance{
			NodeID:        record.NodeID,
			Owner:         record.Owner,
			LastHeartbeat: record.LastHeartbeat,
			CreatedAt:     record.CreatedAt,
		}
	}
	return instances
}

// isActive reports whether a heartbeat at lastHeartbeat still counts as live at now.
func isActive(lastHeartbeat, now time.Time, tolerance time.Duration) bool {
	return now.Sub(lastHeartbeat) < tolerance
}
