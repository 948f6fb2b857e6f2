// Package notify reports sync run outcomes to external channels.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Outcome identifies the result of a sync run.
type Outcome string

const (
	// OutcomeSucceeded indicates the run completed without errors.
	OutcomeSucceeded Outcome = "sync_succeeded"
	// OutcomeFailed indicates at least one stream failed.
	OutcomeFailed Outcome = "sync_failed"
)

// Event describes a completed sync run.
type Event struct {
	// RunID is the unique identifier of the run.
	RunID string

	// Database is the source database name.
	Database string

	// Outcome is the run result.
	Outcome Outcome

	// Error is the combined error of failed streams, if any.
	Error string

	// StartedAt is when the run began.
	StartedAt time.Time

	// FinishedAt is when the run completed.
	FinishedAt time.Time
}

// Sender delivers a run event to a single channel.
type Sender interface {
	// Type returns the channel type identifier.
	Type() string

	// Send delivers the event.
	Send(ctx context.Context, event Event) error
}

// Manager fans out run events to all configured senders. Send failures
// are logged, never propagated, so a dead channel cannot break a sync.
type Manager struct {
	senders []Sender
	timeout time.Duration
	logger  *slog.Logger
}

// NewManager creates a notification manager.
func NewManager(senders []Sender, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Manager{
		senders: senders,
		timeout: timeout,
		logger:  logger.With("component", "notify-manager"),
	}
}

// Notify delivers the event to every sender.
func (m *Manager) Notify(ctx context.Context, event Event) {
	for _, sender := range m.senders {
		sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := sender.Send(sendCtx, event)
		cancel()

		if err != nil {
			m.logger.Error("failed to send run notification",
				"channel", sender.Type(),
				"run_id", event.RunID,
				"error", err,
			)
			continue
		}

		m.logger.Debug("run notification sent",
			"channel", sender.Type(),
			"run_id", event.RunID,
			"outcome", event.Outcome,
		)
	}
}
