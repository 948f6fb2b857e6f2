// Package tap defines the core data model for Hermes: streams, change
// events, output records and position markers for MongoDB/DocumentDB
// extraction.
package tap

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReplicationMethod selects how a stream is extracted.
type ReplicationMethod string

const (
	// MethodIncremental performs bounded, sorted range scans keyed on _id.
	MethodIncremental ReplicationMethod = "INCREMENTAL"
	// MethodLogBased tails the collection's change stream.
	MethodLogBased ReplicationMethod = "LOG_BASED"
)

// ReplicationKeyProperty is the record field used as the replication
// key and primary key of every stream.
const ReplicationKeyProperty = "replication_key"

// Operation represents a change stream operation type.
type Operation string

const (
	// OperationInsert represents an insert operation.
	OperationInsert Operation = "insert"
	// OperationUpdate represents an update operation.
	OperationUpdate Operation = "update"
	// OperationReplace represents a replace operation.
	OperationReplace Operation = "replace"
	// OperationDelete represents a delete operation.
	OperationDelete Operation = "delete"
	// OperationCreate represents a collection create operation.
	OperationCreate Operation = "create"
	// OperationDrop represents a collection drop operation.
	OperationDrop Operation = "drop"
	// OperationRename represents a collection rename operation.
	OperationRename Operation = "rename"
	// OperationInvalidate represents a change stream invalidation.
	OperationInvalidate Operation = "invalidate"
)

// DefaultOperations is the default allowlist of document-level operation
// types emitted in log-based mode.
func DefaultOperations() []Operation {
	return []Operation{
		OperationCreate,
		OperationDelete,
		OperationInsert,
		OperationReplace,
		OperationUpdate,
	}
}

// Stream is a named, addressable collection plus its replication
// configuration. A Stream is immutable once a sync run starts.
type Stream struct {
	// Name is the unique stream identifier (optionally prefixed).
	Name string `json:"name"`

	// Collection is the source collection name.
	Collection string `json:"collection"`

	// Method is the replication method for this stream.
	Method ReplicationMethod `json:"replication_method"`

	// ReplicationKeyName is the output field used to resume extraction.
	ReplicationKeyName string `json:"replication_key"`

	// Operations is the allowed operation-kind set for log-based mode.
	Operations []Operation `json:"operation_types,omitempty"`

	// Selected marks the stream for extraction.
	Selected bool `json:"selected"`
}

// AllowsOperation reports whether op is in the stream's allowlist.
func (s Stream) AllowsOperation(op Operation) bool {
	for _, allowed := range s.Operations {
		if allowed == op {
			return true
		}
	}
	return false
}

// Namespace identifies the database and collection a record came from.
type Namespace struct {
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// ChangeEvent is a single source-native mutation read from a change
// stream, already reduced to the fields the tap cares about.
type ChangeEvent struct {
	// Operation is the change stream operation type.
	Operation Operation

	// ResumeToken is the opaque position of this event (_id._data on the
	// wire). It is resubmitted verbatim on resume, never interpreted.
	ResumeToken string

	// DocumentKey identifies the affected document (usually {_id: ...}).
	DocumentKey map[string]any

	// FullDocument is the post-image of the document, when available.
	FullDocument map[string]any

	// UpdateDescription carries changed/removed fields on updates.
	UpdateDescription map[string]any

	// ClusterTime is the cluster timestamp of the event.
	ClusterTime time.Time

	// Namespace is the database and collection of the event.
	Namespace Namespace
}

// Record is the normalized unit emitted downstream. The same envelope is
// used for both replication methods; fields not applicable to a method
// are left empty.
type Record struct {
	// ReplicationKey is the stream's position value for this record: an
	// IncrementalID string in incremental mode, the resume token in
	// log-based mode.
	ReplicationKey string `json:"replication_key"`

	// ObjectID is the hex form of the document's _id, when known.
	ObjectID string `json:"object_id,omitempty"`

	// OperationType is set in log-based mode only.
	OperationType Operation `json:"operation_type,omitempty"`

	// ClusterTime is the ISO-8601 cluster time, log-based mode only.
	ClusterTime string `json:"cluster_time,omitempty"`

	// Namespace is the source database and collection.
	Namespace *Namespace `json:"namespace,omitempty"`

	// Document is the document body. Full document for
	// insert/update/replace, identifying key only for delete.
	Document map[string]any `json:"document"`

	// UpdateDescription mirrors the change event field on updates.
	UpdateDescription map[string]any `json:"update_description,omitempty"`

	// ExtractedAt is the _sdc_extracted_at metadata field.
	ExtractedAt *time.Time `json:"_sdc_extracted_at,omitempty"`

	// BatchedAt is the _sdc_batched_at metadata field.
	BatchedAt *time.Time `json:"_sdc_batched_at,omitempty"`

	// DeletedAt is the _sdc_deleted_at metadata field, set on deletes.
	DeletedAt *time.Time `json:"_sdc_deleted_at,omitempty"`
}

// NewIncrementalRecord builds the record envelope for a document read by
// a range scan.
func NewIncrementalRecord(doc map[string]any, id primitive.ObjectID, ns Namespace, addMetadata bool) Record {
	rec := Record{
		ReplicationKey: NewIncrementalID(id).String(),
		ObjectID:       id.Hex(),
		Document:       doc,
		Namespace:      &ns,
	}
	if addMetadata {
		now := time.Now().UTC()
		rec.BatchedAt = &now
	}
	return rec
}

// NewChangeRecord builds the record envelope for a change stream event.
// Deletes carry the identifying key only, since no post-image exists.
func NewChangeRecord(ev ChangeEvent, addMetadata bool) Record {
	doc := ev.FullDocument
	if ev.Operation == OperationDelete {
		doc = ev.DocumentKey
	}

	rec := Record{
		ReplicationKey:    ev.ResumeToken,
		OperationType:     ev.Operation,
		ClusterTime:       ev.ClusterTime.UTC().Format(time.RFC3339),
		Namespace:         &ev.Namespace,
		Document:          doc,
		UpdateDescription: ev.UpdateDescription,
	}

	if id, ok := ev.DocumentKey["_id"]; ok {
		if oid, ok := id.(primitive.ObjectID); ok {
			rec.ObjectID = oid.Hex()
		} else {
			rec.ObjectID = fmt.Sprintf("%v", id)
		}
	}

	if addMetadata {
		extracted := ev.ClusterTime.UTC()
		now := time.Now().UTC()
		rec.ExtractedAt = &extracted
		rec.BatchedAt = &now
		if ev.Operation == OperationDelete {
			rec.DeletedAt = &extracted
		}
	}
	return rec
}

// NewPositionRecord builds a record that carries only a resume token.
// Emitted when a change stream is opened, no event arrives, but the
// server already exposes a resume point, so the next run can resume
// without waiting.
func NewPositionRecord(resumeToken string) Record {
	return Record{ReplicationKey: resumeToken}
}

// incrementalIDPattern accepts a full "<timestamp>|<objectid>" id, or a
// bare date / timestamp for backward compatibility and start-date seeding.
var incrementalIDPattern = regexp.MustCompile(
	`^(?P<dt>\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2}(\+00:00|Z))?)(\|(?P<oid>[a-f0-9]{24}))?$`,
)

// IncrementalID is the replication key emitted in incremental mode. Its
// string form "<timestamp>|<objectid hex>" sorts alphanumerically, which
// makes an interrupted incremental load resumable from the last
// committed value.
type IncrementalID struct {
	ts  time.Time
	hex string
}

// NewIncrementalID builds an IncrementalID from a document ObjectID.
func NewIncrementalID(id primitive.ObjectID) IncrementalID {
	return IncrementalID{ts: id.Timestamp().UTC(), hex: id.Hex()}
}

// IncrementalIDFromTime builds an IncrementalID from a bare timestamp,
// used to seed extraction from a configured start date.
func IncrementalIDFromTime(t time.Time) IncrementalID {
	return IncrementalID{ts: t.UTC()}
}

// ParseIncrementalID parses the string form of an IncrementalID.
func ParseIncrementalID(s string) (IncrementalID, error) {
	m := incrementalIDPattern.FindStringSubmatch(s)
	if m == nil {
		return IncrementalID{}, fmt.Errorf("invalid incremental id %q", s)
	}

	dt := m[incrementalIDPattern.SubexpIndex("dt")]
	var ts time.Time
	var err error
	if len(dt) == len("2006-01-02") {
		ts, err = time.Parse("2006-01-02", dt)
	} else {
		ts, err = time.Parse(time.RFC3339, dt)
	}
	if err != nil {
		return IncrementalID{}, fmt.Errorf("invalid incremental id %q: %w", s, err)
	}

	return IncrementalID{
		ts:  ts.UTC(),
		hex: m[incrementalIDPattern.SubexpIndex("oid")],
	}, nil
}

// Time returns the timestamp component.
func (id IncrementalID) Time() time.Time {
	return id.ts
}

// String returns the sortable string form.
func (id IncrementalID) String() string {
	s := id.ts.Format("2006-01-02T15:04:05+00:00")
	if id.hex != "" {
		s += "|" + id.hex
	}
	return s
}

// ObjectID returns the ObjectID this id resolves to. When the hex
// component is absent the timestamp alone is used, with a zeroed suffix,
// so the value is a stable lower bound for that point in time.
func (id IncrementalID) ObjectID() (primitive.ObjectID, error) {
	if id.hex != "" {
		return primitive.ObjectIDFromHex(id.hex)
	}
	var oid primitive.ObjectID
	binary.BigEndian.PutUint32(oid[0:4], uint32(id.ts.Unix()))
	return oid, nil
}
