package pipeline

import (
	"errors"
	"testing"

	"github.com/janovincze/hermes/internal/tap/source"
)

func TestRepairPolicyOnOpenError(t *testing.T) {
	capability := source.NewError(source.KindCapabilityNotEnabled, "watch", errors.New("not enabled"))
	expired := source.NewError(source.KindResumeExpired, "watch", errors.New("history lost"))
	transient := source.NewError(source.KindTransient, "watch", errors.New("reset"))
	fatal := errors.New("unknown")

	tests := []struct {
		name     string
		policy   RepairPolicy
		err      error
		resuming bool
		repaired bool
		dropped  bool
		want     OpenDecision
	}{
		{
			name:   "capability disabled, repair allowed",
			policy: RepairPolicy{AllowCapabilityRepair: true},
			err:    capability,
			want:   DecisionEnableCapability,
		},
		{
			name: "capability disabled, repair not allowed",
			err:  capability,
			want: DecisionFatal,
		},
		{
			name:     "capability disabled, already repaired",
			policy:   RepairPolicy{AllowCapabilityRepair: true},
			err:      capability,
			repaired: true,
			want:     DecisionFatal,
		},
		{
			name:     "resume expired while resuming",
			err:      expired,
			resuming: true,
			want:     DecisionDropResume,
		},
		{
			name: "resume expired without a marker",
			err:  expired,
			want: DecisionFatal,
		},
		{
			name:     "resume expired, marker already dropped",
			err:      expired,
			resuming: true,
			dropped:  true,
			want:     DecisionFatal,
		},
		{
			name: "transient open error is fatal at open",
			err:  transient,
			want: DecisionFatal,
		},
		{
			name: "untagged error is fatal",
			err:  fatal,
			want: DecisionFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.OnOpenError(tt.err, tt.resuming, tt.repaired, tt.dropped)
			if got != tt.want {
				t.Errorf("OnOpenError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpenDecisionString(t *testing.T) {
	tests := []struct {
		decision OpenDecision
		want     string
	}{
		{DecisionFatal, "fatal"},
		{DecisionEnableCapability, "enable_capability"},
		{DecisionDropResume, "drop_resume"},
		{OpenDecision(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.decision.String(); got != tt.want {
			t.Errorf("OpenDecision(%d).String() = %v, want %v", tt.decision, got, tt.want)
		}
	}
}
