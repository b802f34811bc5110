package flakeid

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// reclaimer deletes records whose holders stopped heartbeating. Any number of
// processes may run it at once; a second sweep over the same rows finds nothing.
type reclaimer struct {
	registry  *nodeRegistry
	tolerance time.Duration
	clock     clock.PassiveClock
	logger    *slog.Logger
	metrics   metricsCollector
}

func newReclaimer(registry *nodeRegistry, opts options) *reclaimer {
	return &reclaimer{
		registry:  registry,
		tolerance: opts.tolerance(),
		clock:     opts.clock,
		logger:    opts.logger,
		metrics:   opts.metrics,
	}
}

// Reclaim deletes every stale record and returns the freed node ids in
// ascending order.
func (r *reclaimer) Reclaim(ctx context.Context) ([]int, error) {
	var freed, err = r.registry.DeleteStale(ctx, r.clock.Now(), r.tolerance)
	if err != nil {
		return nil, err
	}

	if len(freed) > 0 {
		r.metrics.RecordReclaimed(len(freed))
		r.logger.Info("reclaimed stale node ids",
			"node_ids", freed,
			"tolerance", r.tolerance)
	}

	return freed, nil
}
