package flakeid

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"go-flakeid/database"
)

// allocator claims a node id for this process. It runs once, at startup.
type allocator struct {
	registry  *nodeRegistry
	maxNodeID int
	tolerance time.Duration
	clock     clock.PassiveClock
	logger    *slog.Logger
}

func newAllocator(registry *nodeRegistry, opts options) *allocator {
	return &allocator{
		registry:  registry,
		maxNodeID: opts.layout.MaxNodeID(),
		tolerance: opts.tolerance(),
		clock:     opts.clock,
		logger:    opts.logger,
	}
}

// Allocate claims the smallest node id no active instance holds and records
// owner as its holder. A stale record for that id is taken over in place;
// otherwise a new record is inserted. The whole scan-and-claim runs under the
// exclusive table lock, so concurrent allocators always get distinct ids.
func (a *allocator) Allocate(ctx context.Context, owner string) (*Instance, error) {
	var claimed *Instance

	err := a.registry.withLockedTx(ctx, func(q *database.Queries) error {
		var records, err = q.ListInstancesForUpdate(ctx)
		if err != nil {
			return err
		}

		var (
			now      = a.clock.Now()
			active   = make(map[int]bool, len(records))
			existing = make(map[int]*database.InstanceRecord, len(records))
		)
		for _, record := range records {
			existing[record.NodeID] = record
			if isActive(record.LastHeartbeat, now, a.tolerance) {
				active[record.NodeID] = true
			}
		}

		var nodeID = smallestAvailable(active)
		if nodeID > a.maxNodeID {
			a.logger.Error("every node id is held by an active instance",
				"active", len(active),
				"max_node_id", a.maxNodeID)
			return fmt.Errorf("%d active instances, max node id %d: %w", len(active), a.maxNodeID, ErrNodeIDExhausted)
		}

		if record, ok := existing[nodeID]; ok {
			if err := q.ReassignInstance(ctx, nodeID, owner, now); err != nil {
				return err
			}
			a.logger.Info("took over stale node id",
				"node_id", nodeID,
				"previous_owner", record.Owner,
				"last_heartbeat", record.LastHeartbeat)
			claimed = &Instance{NodeID: nodeID, Owner: owner, LastHeartbeat: now, CreatedAt: record.CreatedAt}
			return nil
		}

		var record = &database.InstanceRecord{
			NodeID:        nodeID,
			Owner:         owner,
			LastHeartbeat: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := q.InsertInstance(ctx, record); err != nil {
			return err
		}
		claimed = &Instance{NodeID: nodeID, Owner: owner, LastHeartbeat: now, CreatedAt: now}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate node id: %w", err)
	}

	return claimed, nil
}

// smallestAvailable returns the smallest non-negative integer not in active.
func smallestAvailable(active map[int]bool) int {
	var id = 0
	for active[id] {
		id++
	}
	return id
}
