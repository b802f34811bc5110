package flakeid

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"go-flakeid/database"
)

// NewNode creates a node that will claim a node id in the registry registryID.
// The registryID must be a valid PostgreSQL identifier (lowercase letters,
// numbers, underscores, starting with a letter); it names the table
// <registryID>_instances.
func NewNode(db *sql.DB, registryID string, opts ...Option) *Node {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Node{
		registryID: registryID,
		nodeID:     -1,
		options:    options,
		db:         db,
		done:       make(chan struct{}),
	}
}

// Start claims a node id and begins heartbeating. It blocks on the registry's
// allocation lock and returns ErrNodeIDExhausted when every id is held by an
// active instance.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.coordinator != nil {
		return ErrAlreadyStarted
	}

	// Validate registryID before using it in database operations
	if err := ValidateRegistryID(n.registryID); err != nil {
		return fmt.Errorf("invalid registryID: %w", err)
	}

	if err := n.options.layout.Validate(); err != nil {
		return err
	}

	if err := database.Migrate(n.db, n.registryID); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	var (
		registry  = newNodeRegistry(n.db, n.registryID)
		allocator = newAllocator(registry, n.options)
	)

	claimed, err := allocator.Allocate(ctx, uuid.NewString())
	if err != nil {
		return err
	}

	generator, err := newGenerator(claimed.NodeID, n.options)
	if err != nil {
		_ = registry.Release(ctx, claimed.NodeID, claimed.Owner)
		return err
	}

	var coordinator = newCoordinator(n, registry, claimed, n.options)
	if err := coordinator.start(ctx); err != nil {
		_ = registry.Release(ctx, claimed.NodeID, claimed.Owner)
		return err
	}

	n.nodeID = claimed.NodeID
	n.owner = claimed.Owner
	n.tokens = NewTokenGenerator(claimed.NodeID)
	n.coordinator = coordinator
	n.generator.Store(generator)
	n.options.metrics.RecordNodeAllocated(claimed.NodeID)

	n.options.logger.Info("allocated node id",
		"registry_id", n.registryID,
		"node_id", claimed.NodeID,
		"owner", claimed.Owner,
		"max_node_id", n.options.layout.MaxNodeID())

	return nil
}

// Stop halts the generator, stops the background workers and deletes this
// node's record so the id is free immediately.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.RLock()
	var coordinator = n.coordinator
	n.mu.RUnlock()

	if coordinator == nil {
		return ErrNotStarted
	}

	n.shutdown(nil)

	if err := coordinator.stop(ctx); err != nil {
		return fmt.Errorf("failed to stop node: %w", err)
	}

	n.options.logger.Info("released node id",
		"registry_id", n.registryID,
		"node_id", coordinator.heartbeater.nodeID)
	return nil
}

// NextID returns the next identifier. It fails with ErrNotStarted before
// Start and with ErrHalted once the node has stopped or lost its claim.
func (n *Node) NextID() (ID, error) {
	var generator = n.generator.Load()
	if generator == nil {
		return 0, ErrNotStarted
	}
	return generator.NextID()
}

// InstanceID returns the node id held by this process, or -1 before Start.
func (n *Node) InstanceID() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nodeID
}

// Layout returns the bit layout ids are composed with.
func (n *Node) Layout() Layout {
	return n.options.layout
}

// Done is closed when the node stops minting, either through Stop or because
// it lost its claim on the node id.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Err returns the reason the node halted, or nil while it runs or after a
// graceful Stop.
func (n *Node) Err() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.err
}

// ReclaimStale deletes the records of every stale instance in the registry and
// returns the freed node ids. The background reclaimer does the same on a timer.
func (n *Node) ReclaimStale(ctx context.Context) ([]int, error) {
	n.mu.RLock()
	var coordinator = n.coordinator
	n.mu.RUnlock()

	if coordinator == nil {
		return nil, ErrNotStarted
	}
	return coordinator.reclaimer.Reclaim(ctx)
}

// Instances lists every record in the registry, active or not.
func (n *Node) Instances(ctx context.Context) ([]*Instance, error) {
	n.mu.RLock()
	var coordinator = n.coordinator
	n.mu.RUnlock()

	if coordinator == nil {
		return nil, ErrNotStarted
	}
	return coordinator.registry.ListInstances(ctx)
}

// Tokens returns the token generator salted with this node's id, or nil
// before Start.
func (n *Node) Tokens() *TokenGenerator {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.tokens
}

// fail halts the node after it lost its claim. It runs at most once, and the
// generator refuses to mint before anything else happens.
func (n *Node) fail(cause error) {
	if !n.shutdown(cause) {
		return
	}

	n.mu.RLock()
	var coordinator = n.coordinator
	n.mu.RUnlock()
	if coordinator != nil {
		coordinator.halt()
	}

	n.options.logger.Error("node halted",
		"registry_id", n.registryID,
		"error", cause)

	if n.options.onFatal != nil {
		// Off the worker goroutine, so the handler may call Stop.
		go n.options.onFatal(cause)
	}
}

// shutdown halts the generator, records cause, and closes Done. It reports
// whether this call was the one that did so.
func (n *Node) shutdown(cause error) bool {
	var first = false
	n.doneOnce.Do(func() {
		first = true

		// Start stores the generator under mu; taking it here means a
		// worker failing during Start still halts that generator.
		n.mu.Lock()
		if generator := n.generator.Load(); generator != nil {
			generator.Halt()
		}
		n.err = cause
		n.mu.Unlock()

		n.options.metrics.RecordNodeAllocated(-1)
		close(n.done)
	})
	return first
}

// String returns a short status report.
func (n *Node) String() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var (
		b     strings.Builder
		state = "running"
	)
	switch {
	case n.coordinator == nil:
		state = "not started"
	case n.err != nil:
		state = "halted"
	default:
		select {
		case <-n.done:
			state = "stopped"
		default:
		}
	}

	b.WriteString(fmt.Sprintf("Registry: %s (Node: %d)\n", n.registryID, n.nodeID))
	b.WriteString(fmt.Sprintf("State: %s | Owner: %s\n", state, n.owner))
	b.WriteString(fmt.Sprintf("Layout: %d/%d/%d bits | Max node id: %d\n",
		n.options.layout.TimestampBits, n.options.layout.NodeBits, n.options.layout.SequenceBits,
		n.options.layout.MaxNodeID()))
	if n.err != nil {
		b.WriteString(fmt.Sprintf("Error: %v\n", n.err))
	}

	return b.String()
}
