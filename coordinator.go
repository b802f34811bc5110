package flakeid

import (
	"context"
	"fmt"
	"sync"
)

// coordinator runs the background workers that keep a node's claim alive.
type coordinator struct {
	node        *Node
	registry    *nodeRegistry
	heartbeater *heartbeater
	reclaimer   *reclaimer
	options     options
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// newCoordinator creates a new coordinator.
func newCoordinator(node *Node, registry *nodeRegistry, claimed *Instance, opts options) *coordinator {
	return &coordinator{
		node:        node,
		registry:    registry,
		heartbeater: newHeartbeater(registry, claimed, opts),
		reclaimer:   newReclaimer(registry, opts),
		options:     opts,
	}
}

// start sends the first heartbeat on the caller's context, then launches the
// heartbeat and reclaim workers.
//
// Context handling: workers run with a context derived from context.Background()
// so they outlive the caller's context. They are stopped through the internal
// cancel function by stop() or halt().
func (c *coordinator) start(ctx context.Context) error {
	if err := c.heartbeater.Beat(ctx); err != nil {
		return fmt.Errorf("failed to send first heartbeat: %w", err)
	}

	var workerCtx context.Context
	workerCtx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(2)
	go c.heartbeatWorker(workerCtx)
	go c.reclaimWorker(workerCtx)

	return nil
}

// halt cancels the workers without waiting for them. Workers call it on
// themselves, so it must not block.
func (c *coordinator) halt() {
	if c.cancel != nil {
		c.cancel()
	}
}

// stop cancels the workers, waits for any in-flight heartbeat to finish, and
// then releases this node's record.
func (c *coordinator) stop(ctx context.Context) error {
	c.halt()

	var stopped = make(chan struct{})
	go func() {
		c.wg.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed waiting for workers to stop: %w", ctx.Err())
	case <-stopped:
	}

	return c.registry.Release(ctx, c.heartbeater.nodeID, c.heartbeater.owner)
}

// heartbeatWorker refreshes the record every heartbeat interval. The first
// failure is final: the node is failed and the worker exits.
func (c *coordinator) heartbeatWorker(ctx context.Context) {
	defer c.wg.Done()

	var ticker = c.options.clock.NewTicker(c.options.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			var err = c.heartbeater.Beat(ctx)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				// Stopping; the failure is the cancellation itself.
				return
			}

			c.options.logger.Error("heartbeat failed, halting node",
				"node_id", c.heartbeater.nodeID,
				"error", err)
			c.node.fail(err)
			return
		}
	}
}

// reclaimWorker periodically deletes stale records. Failures are retried on
// the next tick.
func (c *coordinator) reclaimWorker(ctx context.Context) {
	defer c.wg.Done()

	var ticker = c.options.clock.NewTicker(c.options.reclaimEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := c.reclaimer.Reclaim(ctx); err != nil && ctx.Err() == nil {
				c.options.logger.Error("failed to reclaim stale nodes", "error", err)
			}
		}
	}
}
