package flakeid

import (
	"fmt"
	"time"
)

const (
	// DefaultEpochMillis is the custom epoch, in Unix milliseconds, that
	// timestamp offsets are measured from (2024-01-14T15:51:23Z).
	DefaultEpochMillis int64 = 1_705_247_483_000

	DefaultTimestampBits = 41
	DefaultNodeBits      = 10
	DefaultSequenceBits  = 12

	// usableBits excludes the sign bit, which is always zero.
	usableBits = 63
)

// DefaultEpoch is DefaultEpochMillis as a time.
var DefaultEpoch = time.UnixMilli(DefaultEpochMillis).UTC()

// Layout describes how an ID is split into its three bit fields, most
// significant first: timestamp | node | sequence.
type Layout struct {
	TimestampBits int
	NodeBits      int
	SequenceBits  int
}

// DefaultLayout returns the 41/10/12 layout.
func DefaultLayout() Layout {
	return Layout{
		TimestampBits: DefaultTimestampBits,
		NodeBits:      DefaultNodeBits,
		SequenceBits:  DefaultSequenceBits,
	}
}

// Validate checks that every field has at least one bit and the total fits in 63 bits.
func (l Layout) Validate() error {
	if l.TimestampBits < 1 || l.NodeBits < 1 || l.SequenceBits < 1 {
		return fmt.Errorf("every field needs at least one bit, got %d/%d/%d: %w",
			l.TimestampBits, l.NodeBits, l.SequenceBits, ErrInvalidLayout)
	}
	if total := l.TimestampBits + l.NodeBits + l.SequenceBits; total > usableBits {
		return fmt.Errorf("fields use %d bits, at most %d available: %w", total, usableBits, ErrInvalidLayout)
	}
	return nil
}

// MaxNodeID is the largest node id the layout can encode.
func (l Layout) MaxNodeID() int {
	return (1 << l.NodeBits) - 1
}

// MaxSequence is the largest per-millisecond sequence value.
func (l Layout) MaxSequence() int64 {
	return (1 << l.SequenceBits) - 1
}

// MaxTimestamp is the largest epoch offset, in milliseconds, the layout can encode.
func (l Layout) MaxTimestamp() int64 {
	return (1 << l.TimestampBits) - 1
}

func (l Layout) nodeShift() int {
	return l.SequenceBits
}

func (l Layout) timestampShift() int {
	return l.NodeBits + l.SequenceBits
}

// Compose packs the three fields into an ID. Inputs are assumed in range.
func (l Layout) Compose(timestamp int64, nodeID int, sequence int64) ID {
	return ID(timestamp<<l.timestampShift() | int64(nodeID)<<l.nodeShift() | sequence)
}

// Decompose splits an ID back into epoch offset (ms), node id and sequence.
func (l Layout) Decompose(id ID) (timestamp int64, nodeID int, sequence int64) {
	var v = int64(id)
	timestamp = v >> l.timestampShift()
	nodeID = int((v >> l.nodeShift()) & int64(l.MaxNodeID()))
	sequence = v & l.MaxSequence()
	return timestamp, nodeID, sequence
}

// Time returns the wall-clock millisecond an ID was minted at, given its epoch.
func (l Layout) Time(id ID, epoch time.Time) time.Time {
	var timestamp, _, _ = l.Decompose(id)
	return epoch.Add(time.Duration(timestamp) * time.Millisecond)
}
