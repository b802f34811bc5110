package flakeid

import "errors"

var (
	// ErrNodeIDExhausted is returned by Start when every node id the layout can
	// encode is held by an active instance. Reclaim stale instances or widen
	// the node bit field.
	ErrNodeIDExhausted = errors.New("no free node id left in the configured bit width")

	// ErrClockMovedBackward is returned by NextID when the clock reads earlier
	// than the timestamp of the last minted id. Only that call fails.
	ErrClockMovedBackward = errors.New("clock moved backward")

	// ErrClockBeforeEpoch is returned when the clock reads earlier than the custom epoch.
	ErrClockBeforeEpoch = errors.New("clock reads before the custom epoch")

	// ErrTimestampOverflow is returned when the epoch offset no longer fits the timestamp field.
	ErrTimestampOverflow = errors.New("timestamp exceeds the bits reserved for it")

	// ErrHeartbeatLost is the cause recorded when this node can no longer prove
	// it holds its node id.
	ErrHeartbeatLost = errors.New("heartbeat lost: node id may have been reassigned")

	// ErrHalted is returned by NextID once the generator has been told to shut down.
	ErrHalted = errors.New("id generator halted")

	ErrInvalidLayout      = errors.New("invalid bit layout")
	ErrInvalidNodeID      = errors.New("node id out of range for layout")
	ErrInvalidRegistryID  = errors.New("registryID must contain only lowercase letters, numbers, and underscores, and start with a letter")
	ErrNotStarted         = errors.New("node not started")
	ErrAlreadyStarted     = errors.New("node already started")
	ErrInvalidTokenLength = errors.New("token length must be positive")
)
