package pipeline

import (
	"github.com/janovincze/hermes/internal/tap/source"
)

// OpenDecision is the outcome of consulting the repair policy after a
// change cursor failed to open.
type OpenDecision int

const (
	// DecisionFatal aborts the stream.
	DecisionFatal OpenDecision = iota
	// DecisionEnableCapability issues the administrative enable call,
	// then retries the open exactly once.
	DecisionEnableCapability
	// DecisionDropResume discards the stored resume marker and retries
	// the open once, starting at "now". This is an observable data-loss
	// boundary: events between the expired marker and now are skipped.
	DecisionDropResume
)

// String returns the string representation of the decision.
func (d OpenDecision) String() string {
	switch d {
	case DecisionFatal:
		return "fatal"
	case DecisionEnableCapability:
		return "enable_capability"
	case DecisionDropResume:
		return "drop_resume"
	default:
		return "unknown"
	}
}

// RepairPolicy decides how the change tailer reacts to open-cursor
// failures. It is pure: the same inputs always produce the same
// decision, which keeps the decision table testable without a live
// database.
type RepairPolicy struct {
	// AllowCapabilityRepair permits the tailer to issue the
	// administrative call enabling change capture when the source
	// reports it disabled. Requires elevated permissions and may incur
	// cost on DocumentDB, hence opt-in.
	AllowCapabilityRepair bool
}

// OnOpenError returns the decision for an open-cursor failure.
// resuming reports whether the open carried a stored resume marker;
// repaired and dropped report whether the corresponding recovery has
// already been attempted, so each is taken at most once.
func (p RepairPolicy) OnOpenError(err error, resuming, repaired, dropped bool) OpenDecision {
	switch source.KindOf(err) {
	case source.KindCapabilityNotEnabled:
		if p.AllowCapabilityRepair && !repaired {
			return DecisionEnableCapability
		}
		return DecisionFatal
	case source.KindResumeExpired:
		if resuming && !dropped {
			return DecisionDropResume
		}
		return DecisionFatal
	default:
		return DecisionFatal
	}
}
