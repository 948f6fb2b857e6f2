// Package source defines the driver boundary between the replication
// core and the document database, along with the closed set of error
// kinds the core's decision tables are written against.
package source

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/janovincze/hermes/internal/tap"
)

// DocumentCursor iterates a bounded, sorted range scan.
type DocumentCursor interface {
	// Next advances the cursor. It returns false when the scan is
	// exhausted or an error occurred; consult Err to distinguish.
	Next(ctx context.Context) bool

	// Decode unmarshals the current document into v.
	Decode(v any) error

	// Err returns the error that terminated iteration, if any.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// ChangeCursor iterates a live change stream.
type ChangeCursor interface {
	// TryNext attempts to read the next event, blocking at most the
	// driver's await window. It returns false when no event is
	// available; consult Err to distinguish idleness from failure.
	TryNext(ctx context.Context) bool

	// Event returns the current change event.
	Event() (tap.ChangeEvent, error)

	// ResumeToken returns the cursor's current resume token, or an
	// empty string if the server has not issued one yet.
	ResumeToken() string

	// Err returns the error that terminated iteration, if any.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// Driver is the collaborator interface required from the source
// database. Implementations must return tagged *Error values rather
// than raw transport errors, so the replication core can make
// data-driven decisions on stable error kinds.
type Driver interface {
	// OpenCursor opens a range scan over collection, filtered to
	// _id > lowerBound and sorted ascending by _id, fetched in pages of
	// batchSize documents.
	OpenCursor(ctx context.Context, collection string, lowerBound primitive.ObjectID, batchSize int32) (DocumentCursor, error)

	// OpenChangeCursor opens a live change stream against collection.
	// An empty resumeToken starts at "now"; otherwise the stream
	// resumes after the given token.
	OpenChangeCursor(ctx context.Context, collection string, resumeToken string) (ChangeCursor, error)

	// EnableChangeCapture issues the administrative call that enables
	// change streams on collection. Required by DocumentDB, a no-op
	// concern on MongoDB.
	EnableChangeCapture(ctx context.Context, collection string) error

	// DatabaseName returns the source database name.
	DatabaseName() string

	// Ping verifies connectivity to the source.
	Ping(ctx context.Context) error

	// Close releases the underlying client.
	Close(ctx context.Context) error
}
