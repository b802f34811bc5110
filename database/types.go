package database

import "time"

// InstanceRecord represents a node instance record in the database.
type InstanceRecord struct {
	NodeID        int
	Owner         string
	LastHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
