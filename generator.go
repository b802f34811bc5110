package flakeid

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"k8s.io/utils/clock"
)

// Generator mints IDs for a single node id. It is safe for concurrent use.
//
// The last timestamp and the sequence are packed into one atomic word,
// timestamp << SequenceBits | sequence, and advanced with compare-and-swap,
// so two callers can never observe or produce the same pair.
type Generator struct {
	layout      Layout
	nodeID      int
	epochMillis int64
	clock       clock.PassiveClock
	metrics     metricsCollector

	state  atomic.Uint64
	halted atomic.Bool
}

// NewGenerator creates a generator for nodeID. Only the epoch, layout, clock
// and metrics options apply.
func NewGenerator(nodeID int, opts ...Option) (*Generator, error) {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return newGenerator(nodeID, options)
}

func newGenerator(nodeID int, opts options) (*Generator, error) {
	if err := opts.layout.Validate(); err != nil {
		return nil, err
	}

	if nodeID < 0 || nodeID > opts.layout.MaxNodeID() {
		return nil, fmt.Errorf("node id %d not in [0, %d]: %w", nodeID, opts.layout.MaxNodeID(), ErrInvalidNodeID)
	}

	return &Generator{
		layout:      opts.layout,
		nodeID:      nodeID,
		epochMillis: opts.epoch.UnixMilli(),
		clock:       opts.clock,
		metrics:     opts.metrics,
	}, nil
}

// NodeID returns the node id encoded into every ID.
func (g *Generator) NodeID() int {
	return g.nodeID
}

// Layout returns the bit layout used to compose IDs.
func (g *Generator) Layout() Layout {
	return g.layout
}

// NextID returns the next identifier for this node. IDs from one generator
// are strictly increasing. When the sequence for the current millisecond is
// used up, NextID spins until the clock reaches the next millisecond.
//
// NextID fails with ErrClockMovedBackward instead of minting when the clock
// reads behind the last minted id, and with ErrHalted after Halt.
func (g *Generator) NextID() (ID, error) {
	var seqBits = uint(g.layout.SequenceBits)
	var seqMask = uint64(g.layout.MaxSequence())

	for {
		if g.halted.Load() {
			return 0, ErrHalted
		}

		// Load before sampling the clock: a pair stored by another caller
		// after our sample would otherwise look like a backward clock.
		var (
			last          = g.state.Load()
			lastTimestamp = int64(last >> seqBits)
			sequence      = last & seqMask
		)

		var current, err = g.now()
		if err != nil {
			return 0, err
		}

		switch {
		case current < lastTimestamp:
			g.metrics.RecordClockBackward()
			return 0, fmt.Errorf("clock at %dms, last id minted at %dms: %w", current, lastTimestamp, ErrClockMovedBackward)

		case current == lastTimestamp:
			sequence = (sequence + 1) & seqMask
			if sequence == 0 {
				g.metrics.RecordSequenceExhausted()
				if current, err = g.waitNextMillis(lastTimestamp); err != nil {
					return 0, err
				}
			}

		default:
			sequence = 0
		}

		if current > g.layout.MaxTimestamp() {
			return 0, fmt.Errorf("offset %dms exceeds %dms: %w", current, g.layout.MaxTimestamp(), ErrTimestampOverflow)
		}

		var next = uint64(current)<<seqBits | sequence
		if !g.state.CompareAndSwap(last, next) {
			// Another caller advanced the state first; our pair may be stale.
			continue
		}

		g.metrics.RecordIDGenerated()
		return g.layout.Compose(current, g.nodeID, int64(sequence)), nil
	}
}

// Halt makes every later NextID call fail with ErrHalted. It cannot be undone.
func (g *Generator) Halt() {
	g.halted.Store(true)
}

// Halted reports whether Halt has been called.
func (g *Generator) Halted() bool {
	return g.halted.Load()
}

// now returns milliseconds since the epoch.
func (g *Generator) now() (int64, error) {
	var current = g.clock.Now().UnixMilli() - g.epochMillis
	if current < 0 {
		return 0, fmt.Errorf("clock is %dms before epoch: %w", -current, ErrClockBeforeEpoch)
	}
	return current, nil
}

// waitNextMillis spins until the clock passes lastTimestamp. The wait is
// bounded by the remainder of the current millisecond.
func (g *Generator) waitNextMillis(lastTimestamp int64) (int64, error) {
	for {
		var current, err = g.now()
		if err != nil {
			return 0, err
		}

		if current > lastTimestamp {
			return current, nil
		}
		if current < lastTimestamp {
			g.metrics.RecordClockBackward()
			return 0, fmt.Errorf("clock at %dms while waiting past %dms: %w", current, lastTimestamp, ErrClockMovedBackward)
		}
		if g.halted.Load() {
			return 0, ErrHalted
		}

		runtime.Gosched()
	}
}
