package flakeid

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Node owns one node id in a registry for the lifetime of the process and
// mints identifiers under it.
type Node struct {
	mu          sync.RWMutex
	registryID  string
	nodeID      int
	owner       string
	options     options
	db          *sql.DB
	tokens      *TokenGenerator
	coordinator *coordinator // Handles lifecycle and background workers

	// generator is read on every NextID without taking mu.
	generator atomic.Pointer[Generator]

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// Instance is a node id claim as recorded in the registry.
type Instance struct {
	NodeID        int
	Owner         string
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// ID is a snowflake identifier: timestamp | node | sequence, sign bit zero.
type ID int64

// Int64 returns the raw integer value.
func (id ID) Int64() int64 {
	return int64(id)
}

// String returns the decimal form.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Base58 returns the compact base58 form.
func (id ID) Base58() string {
	return snowflake.ID(id).Base58()
}

// ParseString parses the decimal form produced by String.
func ParseString(s string) (ID, error) {
	var v, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse id %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("id %q is negative", s)
	}
	return ID(v), nil
}

// ParseBase58 parses the form produced by Base58.
func ParseBase58(s string) (ID, error) {
	var v, err = snowflake.ParseBase58([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("failed to parse base58 id %q: %w", s, err)
	}
	return ID(v), nil
}

// MarshalJSON encodes the id as a decimal string so clients limited to
// float64 numbers keep every digit.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts the decimal string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("id must be a JSON string: %w", err)
	}

	var parsed, err = ParseString(s)
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}
