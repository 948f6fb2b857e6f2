package source

import (
	"errors"
	"fmt"
)

// Kind classifies a driver failure into the closed taxonomy the
// replication core recovers from.
type Kind int

const (
	// KindFatal is an unrecoverable failure: bad credentials, malformed
	// queries, unexpected event shapes. Aborts the stream.
	KindFatal Kind = iota

	// KindTransient is a recoverable network failure, retried with
	// bounded backoff.
	KindTransient

	// KindCapabilityNotEnabled means the source requires an explicit
	// administrative opt-in before change events can be tailed on the
	// collection (DocumentDB modifyChangeStreams).
	KindCapabilityNotEnabled

	// KindResumeExpired means the stored resume position is no longer
	// retrievable because the source's retention window elapsed.
	KindResumeExpired
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindTransient:
		return "transient"
	case KindCapabilityNotEnabled:
		return "capability_not_enabled"
	case KindResumeExpired:
		return "resume_expired"
	default:
		return "unknown"
	}
}

// Error is a driver failure tagged with its kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err as a tagged driver error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind from err. Untagged errors are fatal: the
// core only ever recovers from failures the driver has classified.
func KindOf(err error) Kind {
	var srcErr *Error
	if errors.As(err, &srcErr) {
		return srcErr.Kind
	}
	return KindFatal
}
