package source

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindFatal, "fatal"},
		{KindTransient, "transient"},
		{KindCapabilityNotEnabled, "capability_not_enabled"},
		{KindResumeExpired, "resume_expired"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged transient", NewError(KindTransient, "read", base), KindTransient},
		{"tagged capability", NewError(KindCapabilityNotEnabled, "watch", base), KindCapabilityNotEnabled},
		{"wrapped tagged error", fmt.Errorf("outer: %w", NewError(KindResumeExpired, "watch", base)), KindResumeExpired},
		{"untagged defaults to fatal", base, KindFatal},
		{"nil defaults to fatal", nil, KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := NewError(KindTransient, "read", base)

	if !errors.Is(err, base) {
		t.Error("errors.Is() = false, want the wrapped error to be reachable")
	}
	if err.Error() == "" {
		t.Error("Error() = empty string")
	}
}
