package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/janovincze/hermes/internal/tap"
	"github.com/janovincze/hermes/internal/tap/position"
)

// Writer emits messages as JSON lines on w, typically stdout. Output is
// buffered; the coordinator flushes at batch boundaries before each
// position commit.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter creates a JSON-line sink on w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{
		buf: buf,
		enc: json.NewEncoder(buf),
	}
}

// WriteSchema announces a stream's record schema.
func (w *Writer) WriteSchema(_ context.Context, stream string, schema map[string]any, keyProperties []string) error {
	return w.write(Message{
		Type:          TypeSchema,
		Stream:        stream,
		Schema:        schema,
		KeyProperties: keyProperties,
	})
}

// WriteRecord emits one record. time_extracted reflects the record's
// extraction metadata when present, so log-based records carry their
// cluster time rather than "now".
func (w *Writer) WriteRecord(_ context.Context, stream string, rec tap.Record) error {
	extracted := rec.ExtractedAt
	if extracted == nil {
		now := time.Now().UTC()
		extracted = &now
	}
	return w.write(Message{
		Type:          TypeRecord,
		Stream:        stream,
		Record:        &rec,
		TimeExtracted: extracted,
	})
}

// WriteState emits the current position mapping.
func (w *Writer) WriteState(_ context.Context, positions map[string]position.Position) error {
	return w.write(Message{
		Type:  TypeState,
		Value: positions,
	})
}

// Flush forces buffered messages to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes the sink.
func (w *Writer) Close() error {
	return w.Flush()
}

func (w *Writer) write(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return nil
}

// Ensure Writer implements Sink.
var _ Sink = (*Writer)(nil)
