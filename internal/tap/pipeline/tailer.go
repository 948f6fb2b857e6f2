package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/janovincze/hermes/internal/metrics"
	"github.com/janovincze/hermes/internal/tap"
	"github.com/janovincze/hermes/internal/tap/source"
)

// TailerConfig holds configuration for the change tailer.
type TailerConfig struct {
	// IdleTimeout is how long the tailer waits for a new event before
	// terminating cleanly.
	IdleTimeout time.Duration

	// PollInterval is the pause between empty polls of the change
	// cursor.
	PollInterval time.Duration

	// BatchSize is the position flush cadence in events.
	BatchSize int

	// FlushInterval is the position flush cadence in time. Whichever of
	// BatchSize and FlushInterval is reached first triggers a flush.
	FlushInterval time.Duration

	// AddRecordMetadata adds _sdc metadata fields to records.
	AddRecordMetadata bool

	// Repair decides how open-cursor failures are handled.
	Repair RepairPolicy
}

// DefaultTailerConfig returns a TailerConfig with sensible defaults.
func DefaultTailerConfig() TailerConfig {
	return TailerConfig{
		IdleTimeout:   10 * time.Second,
		PollInterval:  500 * time.Millisecond,
		BatchSize:     1000,
		FlushInterval: 10 * time.Second,
	}
}

// Tailer tails a collection's change stream and converts events into
// output records. It runs entirely on the caller's goroutine: the wait
// for "next event or idle timeout" is a single poll loop with a
// deadline, never two goroutines racing over shared state.
//
// Position flushes happen at a bounded cadence rather than per event,
// so after a restart at most one flush interval's worth of already
// delivered records may be redelivered (at-least-once).
type Tailer struct {
	driver source.Driver
	config TailerConfig
	logger *slog.Logger
	sm     *StateMachine
}

// NewTailer creates a change tailer.
func NewTailer(driver source.Driver, cfg TailerConfig, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{
		driver: driver,
		config: cfg,
		logger: logger.With("component", "change-tailer"),
		sm:     NewStateMachine(),
	}
}

// State returns the tailer's current lifecycle state.
func (t *Tailer) State() State {
	return t.sm.State()
}

// Run tails stream until the idle timeout elapses or ctx is cancelled,
// emitting records and committing resume tokens. An empty resumeToken
// starts at "now". Both cancellation and idle timeout resolve through
// the same draining flush, so the stored position is always current on
// a clean exit.
func (t *Tailer) Run(ctx context.Context, stream tap.Stream, resumeToken string, emit EmitFunc, commit CommitFunc) error {
	logger := t.logger.With("stream", stream.Name)

	cur, err := t.open(ctx, stream, resumeToken, logger)
	if err != nil {
		return err
	}

	if err := t.sm.Transition(StateActive); err != nil {
		return err
	}
	logger.Debug("change tailer active", "idle_timeout", t.config.IdleTimeout)

	var (
		token        string
		pending      int
		sawEvent     bool
		lastActivity = time.Now()
		lastFlush    = time.Now()
	)

	// flush commits the latest resume token. Never called with a token
	// older than one whose records have been emitted.
	flush := func(ctx context.Context) error {
		if token == "" {
			return nil
		}
		if err := commit(ctx, token); err != nil {
			return fmt.Errorf("commit resume token: %w", err)
		}
		metrics.PositionFlushesTotal.WithLabelValues(stream.Name).Inc()
		pending = 0
		lastFlush = time.Now()
		return nil
	}

	// drain flushes the final position and closes the cursor. The
	// caller's context may already be cancelled, so the flush runs on a
	// fresh one.
	drain := func() error {
		if err := t.sm.Transition(StateDraining); err != nil {
			return err
		}
		if err := flush(context.Background()); err != nil {
			t.fail(logger, err)
			return err
		}
		if err := cur.Close(context.Background()); err != nil {
			logger.Warn("failed to close change cursor", "error", err)
		}
		if err := t.sm.Transition(StateStopped); err != nil {
			return err
		}
		logger.Info("change tailer stopped cleanly")
		return nil
	}

	for {
		if ctx.Err() != nil {
			logger.Info("stop requested, draining")
			return drain()
		}

		if cur.TryNext(ctx) {
			ev, err := cur.Event()
			if err != nil {
				t.fail(logger, err)
				return fmt.Errorf("decode change event on %s: %w", stream.Name, err)
			}

			// The resume token advances on every event, allowed or not:
			// position progress is independent of content filtering.
			token = ev.ResumeToken
			pending++
			sawEvent = true
			lastActivity = time.Now()

			if stream.AllowsOperation(ev.Operation) {
				rec := tap.NewChangeRecord(ev, t.config.AddRecordMetadata)
				if err := emit(ctx, rec); err != nil {
					t.fail(logger, err)
					return fmt.Errorf("emit record on %s: %w", stream.Name, err)
				}
				metrics.RecordsTotal.WithLabelValues(stream.Name, string(ev.Operation)).Inc()
				metrics.ChangeEventsTotal.WithLabelValues(stream.Name, metrics.ResultEmitted).Inc()
			} else {
				metrics.ChangeEventsTotal.WithLabelValues(stream.Name, metrics.ResultFiltered).Inc()
				logger.Debug("filtered change event", "operation", ev.Operation)
			}

			if pending >= t.config.BatchSize || time.Since(lastFlush) >= t.config.FlushInterval {
				if err := flush(ctx); err != nil {
					t.fail(logger, err)
					return err
				}
			}
			continue
		}

		if err := cur.Err(); err != nil {
			if ctx.Err() != nil {
				logger.Info("stop requested, draining")
				return drain()
			}
			t.fail(logger, err)
			return fmt.Errorf("read change stream on %s: %w", stream.Name, err)
		}

		// No event available. MongoDB exposes a resume point as soon as
		// the stream opens; DocumentDB only after the first event. When
		// a quiet stream already has one, persist it and exit instead of
		// idling for the full timeout window.
		if !sawEvent {
			if rt := cur.ResumeToken(); rt != "" {
				if err := emit(ctx, tap.NewPositionRecord(rt)); err != nil {
					t.fail(logger, err)
					return fmt.Errorf("emit record on %s: %w", stream.Name, err)
				}
				token = rt
				logger.Debug("captured resume point on quiet stream")
				return drain()
			}
		}

		if time.Since(lastActivity) >= t.config.IdleTimeout {
			metrics.IdleTimeoutsTotal.WithLabelValues(stream.Name).Inc()
			logger.Info("idle timeout reached, draining", "idle_timeout", t.config.IdleTimeout)
			return drain()
		}

		select {
		case <-ctx.Done():
		case <-time.After(t.config.PollInterval):
		}
	}
}

// open opens the change cursor, applying the repair policy to open
// failures. Capability repair and resume-drop are each attempted at
// most once.
func (t *Tailer) open(ctx context.Context, stream tap.Stream, resumeToken string, logger *slog.Logger) (source.ChangeCursor, error) {
	var repaired, dropped bool

	for {
		cur, err := t.driver.OpenChangeCursor(ctx, stream.Collection, resumeToken)
		if err == nil {
			return cur, nil
		}

		switch t.config.Repair.OnOpenError(err, resumeToken != "", repaired, dropped) {
		case DecisionEnableCapability:
			if terr := t.sm.Transition(StateEnablingCapability); terr != nil {
				t.fail(logger, terr)
				return nil, terr
			}
			logger.Info("change capture not enabled, issuing enable call",
				"collection", stream.Collection,
			)
			metrics.CapabilityRepairsTotal.WithLabelValues(stream.Name).Inc()
			if enableErr := t.driver.EnableChangeCapture(ctx, stream.Collection); enableErr != nil {
				t.fail(logger, enableErr)
				return nil, fmt.Errorf("enable change capture on %s: %w", stream.Collection, enableErr)
			}
			repaired = true
			if terr := t.sm.Transition(StateStarting); terr != nil {
				t.fail(logger, terr)
				return nil, terr
			}

		case DecisionDropResume:
			// Deliberate, observable data-loss boundary: everything
			// between the expired marker and "now" is skipped.
			logger.Warn("resume position no longer retrievable, restarting at now",
				"error", err,
			)
			resumeToken = ""
			dropped = true

		default:
			t.fail(logger, err)
			return nil, fmt.Errorf("open change stream on %s: %w", stream.Collection, err)
		}
	}
}

func (t *Tailer) fail(logger *slog.Logger, err error) {
	if terr := t.sm.Transition(StateFailed); terr != nil {
		logger.Debug("state transition to failed rejected", "error", terr)
	}
	logger.Error("change tailer failed", "error", err)
}
