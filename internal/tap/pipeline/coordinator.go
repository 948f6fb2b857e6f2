package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/janovincze/hermes/internal/metrics"
	"github.com/janovincze/hermes/internal/tap"
	"github.com/janovincze/hermes/internal/tap/position"
	"github.com/janovincze/hermes/internal/tap/sink"
	"github.com/janovincze/hermes/internal/tap/source"
)

// Config holds coordinator configuration, passed in explicitly at
// construction so stream setups can be tested in isolation.
type Config struct {
	// BatchSize is the page size and position commit cadence.
	BatchSize int

	// FlushInterval is the time-based position flush cadence for
	// log-based streams.
	FlushInterval time.Duration

	// IdleTimeout is how long a change tailer waits for a new event
	// before terminating cleanly.
	IdleTimeout time.Duration

	// PollInterval is the pause between empty change stream polls.
	PollInterval time.Duration

	// StartDate seeds incremental extraction when no position is stored.
	StartDate time.Time

	// AddRecordMetadata adds _sdc metadata fields to records.
	AddRecordMetadata bool

	// AllowCapabilityRepair permits the administrative call enabling
	// change capture when the source reports it disabled.
	AllowCapabilityRepair bool

	// Retry is the backoff policy for transient source failures.
	Retry RetryPolicy

	// RecordSchema, when set, is announced per stream before its
	// records.
	RecordSchema map[string]any
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: 10 * time.Second,
		IdleTimeout:   10 * time.Second,
		PollInterval:  500 * time.Millisecond,
		StartDate:     time.Unix(0, 0).UTC(),
		Retry:         DefaultRetryPolicy(),
	}
}

// Coordinator drives one sync run: per selected stream, in
// configuration order, it runs the executor matching the stream's
// replication method and commits positions after delivered batches.
//
// Streams run sequentially. Position commits must stay attributable to
// a single in-flight executor, and sequential execution also bounds the
// number of open source cursors to one.
type Coordinator struct {
	driver source.Driver
	store  position.Store
	out    sink.Sink
	config Config
	logger *slog.Logger
	runID  string

	mu        sync.RWMutex
	positions map[string]position.Position
}

// New creates a coordinator for one invocation.
func New(driver source.Driver, store position.Store, out sink.Sink, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.New().String()
	return &Coordinator{
		driver:    driver,
		store:     store,
		out:       out,
		config:    cfg,
		logger:    logger.With("component", "coordinator", "run_id", runID),
		runID:     runID,
		positions: map[string]position.Position{},
	}
}

// RunID returns this invocation's identifier.
func (c *Coordinator) RunID() string {
	return c.runID
}

// Positions returns a snapshot of the in-memory position mapping.
func (c *Coordinator) Positions() map[string]position.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]position.Position, len(c.positions))
	for id, pos := range c.positions {
		snapshot[id] = pos
	}
	return snapshot
}

// Run executes one sync over streams. A stream-level failure is
// isolated: remaining streams still run, and the joined error is
// returned at the end so the process can report a non-zero status.
func (c *Coordinator) Run(ctx context.Context, streams []tap.Stream) error {
	stored, err := c.store.Load(ctx)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("load positions: %w", err)
	}
	c.mu.Lock()
	c.positions = stored
	c.mu.Unlock()

	c.logger.Info("starting sync run", "streams", len(streams))

	var failures []error
	for _, stream := range streams {
		if !stream.Selected {
			c.logger.Debug("skipping unselected stream", "stream", stream.Name)
			continue
		}
		if ctx.Err() != nil {
			c.logger.Info("stop requested, remaining streams skipped")
			break
		}

		if err := c.runStream(ctx, stream); err != nil {
			metrics.StreamFailuresTotal.WithLabelValues(stream.Name).Inc()
			c.logger.Error("stream failed",
				"stream", stream.Name,
				"method", string(stream.Method),
				"error", err,
			)
			failures = append(failures, fmt.Errorf("stream %s: %w", stream.Name, err))
			continue
		}

		c.logger.Info("stream completed", "stream", stream.Name)
	}

	if err := c.out.Flush(); err != nil {
		failures = append(failures, fmt.Errorf("flush sink: %w", err))
	}

	if len(failures) > 0 {
		metrics.SyncRunsTotal.WithLabelValues("failure").Inc()
		return errors.Join(failures...)
	}
	metrics.SyncRunsTotal.WithLabelValues("success").Inc()
	c.logger.Info("sync run completed")
	return nil
}

func (c *Coordinator) runStream(ctx context.Context, stream tap.Stream) error {
	logger := c.logger.With("stream", stream.Name, "method", string(stream.Method))
	start := time.Now()
	defer func() {
		metrics.SyncDurationSeconds.
			WithLabelValues(stream.Name, string(stream.Method)).
			Observe(time.Since(start).Seconds())
	}()

	if c.config.RecordSchema != nil {
		if err := c.out.WriteSchema(ctx, stream.Name, c.config.RecordSchema, []string{stream.ReplicationKeyName}); err != nil {
			return fmt.Errorf("write schema: %w", err)
		}
	}

	c.mu.RLock()
	startValue := c.positions[stream.Name].ReplicationKeyValue
	c.mu.RUnlock()

	emit := func(ctx context.Context, rec tap.Record) error {
		return c.out.WriteRecord(ctx, stream.Name, rec)
	}

	// commit persists a position. The sink is flushed first: a marker
	// is never durable before the records it covers are delivered.
	commit := func(ctx context.Context, value string) error {
		if err := c.out.Flush(); err != nil {
			return fmt.Errorf("flush sink: %w", err)
		}

		pos := position.Position{
			ReplicationKey:      stream.ReplicationKeyName,
			ReplicationKeyValue: value,
			RunID:               c.runID,
			UpdatedAt:           time.Now().UTC(),
		}
		if err := c.store.Save(ctx, stream.Name, pos); err != nil {
			return fmt.Errorf("save position: %w", err)
		}

		c.mu.Lock()
		c.positions[stream.Name] = pos
		c.mu.Unlock()

		return c.out.WriteState(ctx, c.Positions())
	}

	switch stream.Method {
	case tap.MethodIncremental:
		extractor := NewIncrementalExtractor(c.driver, IncrementalConfig{
			BatchSize:         c.config.BatchSize,
			StartDate:         c.config.StartDate,
			AddRecordMetadata: c.config.AddRecordMetadata,
			Retry:             c.config.Retry,
		}, logger)
		return extractor.Extract(ctx, stream, startValue, emit, commit)

	case tap.MethodLogBased:
		tailer := NewTailer(c.driver, TailerConfig{
			IdleTimeout:       c.config.IdleTimeout,
			PollInterval:      c.config.PollInterval,
			BatchSize:         c.config.BatchSize,
			FlushInterval:     c.config.FlushInterval,
			AddRecordMetadata: c.config.AddRecordMetadata,
			Repair:            RepairPolicy{AllowCapabilityRepair: c.config.AllowCapabilityRepair},
		}, logger)
		return tailer.Run(ctx, stream, startValue, emit, commit)

	default:
		return fmt.Errorf("unsupported replication method %q", stream.Method)
	}
}
