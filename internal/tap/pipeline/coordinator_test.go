package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/janovincze/hermes/internal/tap"
	"github.com/janovincze/hermes/internal/tap/position"
	"github.com/janovincze/hermes/internal/tap/sink"
	"github.com/janovincze/hermes/internal/tap/source"
)

// memStore is an in-memory position.Store.
type memStore struct {
	positions map[string]position.Position
	saves     []string
	loadErr   error
}

func newMemStore() *memStore {
	return &memStore{positions: map[string]position.Position{}}
}

func (s *memStore) Load(context.Context) (map[string]position.Position, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]position.Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, streamID string, pos position.Position) error {
	s.positions[streamID] = pos
	s.saves = append(s.saves, streamID)
	return nil
}

func (s *memStore) Delete(_ context.Context, streamID string) error {
	delete(s.positions, streamID)
	return nil
}

func (s *memStore) Close() error { return nil }

// memSink records sink messages in order.
type memSink struct {
	types   []string
	records []tap.Record
	states  []map[string]position.Position
	flushes int
}

func (s *memSink) WriteSchema(_ context.Context, _ string, _ map[string]any, _ []string) error {
	s.types = append(s.types, sink.TypeSchema)
	return nil
}

func (s *memSink) WriteRecord(_ context.Context, _ string, rec tap.Record) error {
	s.types = append(s.types, sink.TypeRecord)
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) WriteState(_ context.Context, value map[string]position.Position) error {
	s.types = append(s.types, sink.TypeState)
	s.states = append(s.states, value)
	return nil
}

func (s *memSink) Flush() error {
	s.flushes++
	return nil
}

func (s *memSink) Close() error { return nil }

var (
	_ position.Store = (*memStore)(nil)
	_ sink.Sink      = (*memSink)(nil)
)

func coordinatorConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = fastRetryPolicy(2)
	cfg.RecordSchema = map[string]any{"type": "object"}
	return cfg
}

func TestCoordinatorRunIncremental(t *testing.T) {
	docs, ids := seedDocs(3)
	driver := &fakeDriver{docs: docs}
	store := newMemStore()
	out := &memSink{}

	c := New(driver, store, out, coordinatorConfig(), nil)
	if err := c.Run(context.Background(), []tap.Stream{testStream()}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(out.records) != 3 {
		t.Fatalf("sink received %d records, want 3", len(out.records))
	}
	if out.types[0] != sink.TypeSchema {
		t.Errorf("first message type = %v, want schema", out.types[0])
	}
	if out.types[len(out.types)-1] != sink.TypeState {
		t.Errorf("last message type = %v, want state", out.types[len(out.types)-1])
	}

	pos, ok := store.positions["users"]
	if !ok {
		t.Fatal("no position stored for users")
	}
	want := tap.NewIncrementalID(ids[2]).String()
	if pos.ReplicationKeyValue != want {
		t.Errorf("stored position = %v, want %v", pos.ReplicationKeyValue, want)
	}
	if pos.RunID != c.RunID() {
		t.Errorf("stored run id = %v, want %v", pos.RunID, c.RunID())
	}
}

func TestCoordinatorResumesFromStoredPosition(t *testing.T) {
	docs, ids := seedDocs(5)
	driver := &fakeDriver{docs: docs}
	store := newMemStore()
	store.positions["users"] = position.Position{
		ReplicationKey:      tap.ReplicationKeyProperty,
		ReplicationKeyValue: tap.NewIncrementalID(ids[1]).String(),
	}
	out := &memSink{}

	c := New(driver, store, out, coordinatorConfig(), nil)
	if err := c.Run(context.Background(), []tap.Stream{testStream()}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(out.records) != 3 {
		t.Fatalf("sink received %d records, want 3 after resume", len(out.records))
	}
	if out.records[0].ObjectID != ids[2].Hex() {
		t.Errorf("first record = %v, want %v", out.records[0].ObjectID, ids[2].Hex())
	}
}

func TestCoordinatorRunLogBased(t *testing.T) {
	driver := &fakeDriver{changeCursor: &fakeChangeCursor{events: changeEvents()}}
	store := newMemStore()
	out := &memSink{}

	cfg := coordinatorConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.FlushInterval = time.Hour

	c := New(driver, store, out, cfg, nil)
	if err := c.Run(context.Background(), []tap.Stream{logStream()}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(out.records) != 3 {
		t.Fatalf("sink received %d records, want 3", len(out.records))
	}
	if store.positions["orders_cdc"].ReplicationKeyValue != "tok3" {
		t.Errorf("stored position = %v, want tok3", store.positions["orders_cdc"].ReplicationKeyValue)
	}
}

func TestCoordinatorStreamFailureIsolation(t *testing.T) {
	docs, _ := seedDocs(3)
	driver := &fakeDriver{
		docs: docs,
		plans: []scanPlan{
			{limit: 0, err: source.NewError(source.KindFatal, "find", errors.New("unauthorized"))},
		},
	}
	store := newMemStore()
	out := &memSink{}

	broken := testStream()
	broken.Name = "broken"
	broken.Collection = "broken"
	healthy := testStream()

	c := New(driver, store, out, coordinatorConfig(), nil)
	err := c.Run(context.Background(), []tap.Stream{broken, healthy})
	if err == nil {
		t.Fatal("Run() error = nil, want the broken stream's failure")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error = %v, want mention of the failed stream", err)
	}

	// The healthy stream still ran to completion.
	if _, ok := store.positions["users"]; !ok {
		t.Error("no position stored for the healthy stream")
	}
	if len(out.records) != 3 {
		t.Errorf("sink received %d records, want 3 from the healthy stream", len(out.records))
	}
}

func TestCoordinatorSkipsUnselectedStreams(t *testing.T) {
	docs, _ := seedDocs(2)
	driver := &fakeDriver{docs: docs}
	store := newMemStore()
	out := &memSink{}

	stream := testStream()
	stream.Selected = false

	c := New(driver, store, out, coordinatorConfig(), nil)
	if err := c.Run(context.Background(), []tap.Stream{stream}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.records) != 0 {
		t.Errorf("sink received %d records from an unselected stream", len(out.records))
	}
}

func TestCoordinatorUnknownMethod(t *testing.T) {
	driver := &fakeDriver{}
	store := newMemStore()
	out := &memSink{}

	stream := testStream()
	stream.Method = "FULL_TABLE"

	c := New(driver, store, out, coordinatorConfig(), nil)
	if err := c.Run(context.Background(), []tap.Stream{stream}); err == nil {
		t.Fatal("Run() error = nil, want unsupported method error")
	}
}

func TestCoordinatorLoadFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("store down")

	c := New(&fakeDriver{}, store, &memSink{}, coordinatorConfig(), nil)
	if err := c.Run(context.Background(), []tap.Stream{testStream()}); err == nil {
		t.Fatal("Run() error = nil, want load failure")
	}
}
