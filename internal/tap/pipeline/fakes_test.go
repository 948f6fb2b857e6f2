package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/janovincze/hermes/internal/tap"
	"github.com/janovincze/hermes/internal/tap/source"
)

// scanPlan scripts the behavior of one OpenCursor call: yield at most
// limit documents (negative means all), then report err.
type scanPlan struct {
	limit int
	err   error
}

// fakeDriver is an in-memory source.Driver for pipeline tests.
type fakeDriver struct {
	docs  []map[string]any
	plans []scanPlan

	scanCalls []primitive.ObjectID

	changeCursor *fakeChangeCursor
	openErrs     []error
	openTokens   []string
	enableCalls  int
	enableErr    error
}

func (d *fakeDriver) OpenCursor(_ context.Context, _ string, lowerBound primitive.ObjectID, _ int32) (source.DocumentCursor, error) {
	d.scanCalls = append(d.scanCalls, lowerBound)

	var filtered []map[string]any
	for _, doc := range d.docs {
		id, ok := doc["_id"].(primitive.ObjectID)
		if !ok {
			filtered = append(filtered, doc)
			continue
		}
		if bytes.Compare(id[:], lowerBound[:]) > 0 {
			filtered = append(filtered, doc)
		}
	}

	plan := scanPlan{limit: -1}
	if len(d.plans) > 0 {
		plan = d.plans[0]
		d.plans = d.plans[1:]
	}
	if plan.limit >= 0 && plan.limit < len(filtered) {
		filtered = filtered[:plan.limit]
	}

	return &fakeDocCursor{docs: filtered, err: plan.err}, nil
}

func (d *fakeDriver) OpenChangeCursor(_ context.Context, _ string, resumeToken string) (source.ChangeCursor, error) {
	d.openTokens = append(d.openTokens, resumeToken)
	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if d.changeCursor == nil {
		d.changeCursor = &fakeChangeCursor{}
	}
	return d.changeCursor, nil
}

func (d *fakeDriver) EnableChangeCapture(context.Context, string) error {
	d.enableCalls++
	return d.enableErr
}

func (d *fakeDriver) DatabaseName() string { return "app" }

func (d *fakeDriver) Ping(context.Context) error { return nil }

func (d *fakeDriver) Close(context.Context) error { return nil }

type fakeDocCursor struct {
	docs   []map[string]any
	idx    int
	err    error
	closed bool
}

func (c *fakeDocCursor) Next(context.Context) bool {
	if c.idx < len(c.docs) {
		c.idx++
		return true
	}
	return false
}

func (c *fakeDocCursor) Decode(v any) error {
	target, ok := v.(*map[string]any)
	if !ok {
		return fmt.Errorf("unsupported decode target %T", v)
	}
	*target = c.docs[c.idx-1]
	return nil
}

func (c *fakeDocCursor) Err() error { return c.err }

func (c *fakeDocCursor) Close(context.Context) error {
	c.closed = true
	return nil
}

type fakeChangeCursor struct {
	events []tap.ChangeEvent
	idx    int

	// err is reported once the scripted events are exhausted.
	err error

	// openResumeToken is what the server exposes before any event has
	// been read. Empty mimics DocumentDB, which issues no resume point
	// until the first event.
	openResumeToken string

	closed bool
}

func (c *fakeChangeCursor) TryNext(context.Context) bool {
	if c.idx < len(c.events) {
		c.idx++
		return true
	}
	return false
}

func (c *fakeChangeCursor) Event() (tap.ChangeEvent, error) {
	return c.events[c.idx-1], nil
}

func (c *fakeChangeCursor) ResumeToken() string {
	if c.idx > 0 {
		return c.events[c.idx-1].ResumeToken
	}
	return c.openResumeToken
}

func (c *fakeChangeCursor) Err() error {
	if c.idx >= len(c.events) {
		return c.err
	}
	return nil
}

func (c *fakeChangeCursor) Close(context.Context) error {
	c.closed = true
	return nil
}

// recorder collects emitted records and committed positions.
type recorder struct {
	records []tap.Record
	commits []string

	emitErr   error
	commitErr error
}

func (r *recorder) emit(_ context.Context, rec tap.Record) error {
	if r.emitErr != nil {
		return r.emitErr
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) commit(_ context.Context, value string) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	r.commits = append(r.commits, value)
	return nil
}

var _ source.Driver = (*fakeDriver)(nil)
