// Package position provides durable position tracking for extraction
// streams. A position maps a stream identifier to the last committed
// replication key value; it is only ever advanced after the records of
// the corresponding batch have been handed to the sink.
//
// A store is owned by exactly one running coordinator. Concurrent runs
// of multiple processes against the same store are unsupported.
package position

import (
	"context"
	"time"
)

// Position is the durable marker for one stream.
type Position struct {
	// ReplicationKey is the name of the field the marker refers to.
	ReplicationKey string `json:"replication_key"`

	// ReplicationKeyValue is the marker itself: an IncrementalID string
	// for incremental streams, an opaque resume token for log-based
	// streams. Resubmitted verbatim, never interpreted.
	ReplicationKeyValue string `json:"replication_key_value"`

	// RunID identifies the invocation that committed this position.
	RunID string `json:"run_id,omitempty"`

	// UpdatedAt is when this position was committed.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Store handles position persistence and retrieval.
type Store interface {
	// Load retrieves all stored positions, keyed by stream identifier.
	Load(ctx context.Context) (map[string]Position, error)

	// Save persists the position for a stream.
	Save(ctx context.Context, streamID string, pos Position) error

	// Delete removes the position for a stream.
	Delete(ctx context.Context, streamID string) error

	// Close releases any resources held by the store.
	Close() error
}
