package flakeid

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// heartbeater proves to the registry that this process still holds its node id.
type heartbeater struct {
	registry  *nodeRegistry
	nodeID    int
	owner     string
	tolerance time.Duration
	clock     clock.PassiveClock
	logger    *slog.Logger
	metrics   metricsCollector
}

func newHeartbeater(registry *nodeRegistry, claimed *Instance, opts options) *heartbeater {
	return &heartbeater{
		registry:  registry,
		nodeID:    claimed.NodeID,
		owner:     claimed.Owner,
		tolerance: opts.tolerance(),
		clock:     opts.clock,
		logger:    opts.logger,
		metrics:   opts.metrics,
	}
}

// Beat refreshes the record. It returns ErrHeartbeatLost when the record is
// gone, held by another owner, or already stale, and also when the write
// itself fails. A late heartbeat never revives a stale record.
func (h *heartbeater) Beat(ctx context.Context) error {
	var ok, err = h.registry.TouchHeartbeat(ctx, h.nodeID, h.owner, h.clock.Now(), h.tolerance)
	if err != nil {
		h.metrics.RecordHeartbeat(false)
		return fmt.Errorf("%w: %w", ErrHeartbeatLost, err)
	}

	if !ok {
		h.metrics.RecordHeartbeat(false)
		return fmt.Errorf("node %d no longer held by %s: %w", h.nodeID, h.owner, ErrHeartbeatLost)
	}

	h.metrics.RecordHeartbeat(true)
	h.logger.Debug("heartbeat sent", "node_id", h.nodeID)
	return nil
}
