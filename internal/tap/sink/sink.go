// Package sink serializes output records into Singer-style JSON-line
// messages on an output writer.
package sink

import (
	"context"
	"time"

	"github.com/janovincze/hermes/internal/tap"
	"github.com/janovincze/hermes/internal/tap/position"
)

// Message types emitted on the wire.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// Message is one JSON line on the output stream.
type Message struct {
	Type          string                       `json:"type"`
	Stream        string                       `json:"stream,omitempty"`
	Record        *tap.Record                  `json:"record,omitempty"`
	Schema        map[string]any               `json:"schema,omitempty"`
	KeyProperties []string                     `json:"key_properties,omitempty"`
	Value         map[string]position.Position `json:"value,omitempty"`
	TimeExtracted *time.Time                   `json:"time_extracted,omitempty"`
}

// Sink receives the ordered stream of output for one run. Writes may be
// buffered; Flush forces everything written so far onto the underlying
// writer and must be called before the corresponding position commit.
type Sink interface {
	// WriteSchema announces a stream's record schema.
	WriteSchema(ctx context.Context, stream string, schema map[string]any, keyProperties []string) error

	// WriteRecord emits one record for a stream.
	WriteRecord(ctx context.Context, stream string, rec tap.Record) error

	// WriteState emits the current position mapping.
	WriteState(ctx context.Context, positions map[string]position.Position) error

	// Flush forces buffered messages to the underlying writer.
	Flush() error

	// Close flushes and releases the sink.
	Close() error
}
