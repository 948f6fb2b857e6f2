package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/janovincze/hermes/internal/tap"
	"github.com/janovincze/hermes/internal/tap/source"
)

// Driver implements source.Driver against MongoDB/DocumentDB.
type Driver struct {
	config Config
	logger *slog.Logger
	client *mongo.Client
	db     *mongo.Database
}

// New connects to the source database and returns a Driver.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	uri, err := cfg.ConnectionURI()
	if err != nil {
		return nil, fmt.Errorf("resolve connection uri: %w", err)
	}

	opts := options.Client().
		ApplyURI(uri).
		SetAppName(cfg.AppName).
		SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, classify("connect", err)
	}

	d := &Driver{
		config: cfg,
		logger: logger.With("component", "mongodb-driver", "database", cfg.Database),
		client: client,
		db:     client.Database(cfg.Database),
	}

	if err := d.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return d, nil
}

// OpenCursor opens a range scan filtered to _id > lowerBound, sorted
// ascending by _id.
func (d *Driver) OpenCursor(ctx context.Context, collection string, lowerBound primitive.ObjectID, batchSize int32) (source.DocumentCursor, error) {
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: lowerBound}}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetBatchSize(batchSize)

	cur, err := d.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, classify("open_cursor", err)
	}

	d.logger.Debug("opened range cursor",
		"collection", collection,
		"lower_bound", lowerBound.Hex(),
		"batch_size", batchSize,
	)

	return &documentCursor{cur: cur}, nil
}

// OpenChangeCursor opens a live change stream against collection,
// resuming after resumeToken when one is given.
func (d *Driver) OpenChangeCursor(ctx context.Context, collection string, resumeToken string) (source.ChangeCursor, error) {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetMaxAwaitTime(d.config.MaxAwaitTime)
	if resumeToken != "" {
		opts.SetResumeAfter(bson.D{{Key: "_data", Value: resumeToken}})
	}

	cs, err := d.db.Collection(collection).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, classify("open_change_cursor", err)
	}

	d.logger.Debug("opened change stream",
		"collection", collection,
		"resuming", resumeToken != "",
	)

	return &changeCursor{cs: cs}, nil
}

// EnableChangeCapture runs the modifyChangeStreams admin command to
// enable change streams on collection. Requires the
// modifyChangeStreams permission on the connected user.
func (d *Driver) EnableChangeCapture(ctx context.Context, collection string) error {
	cmd := bson.D{
		{Key: "modifyChangeStreams", Value: 1},
		{Key: "database", Value: d.config.Database},
		{Key: "collection", Value: collection},
		{Key: "enable", Value: true},
	}

	var result struct {
		OK float64 `bson:"ok"`
	}
	if err := d.client.Database("admin").RunCommand(ctx, cmd).Decode(&result); err != nil {
		return classify("enable_change_capture", err)
	}
	if result.OK != 1 {
		return source.NewError(source.KindFatal, "enable_change_capture",
			fmt.Errorf("%w: collection %s", ErrEnableRejected, collection))
	}

	d.logger.Info("enabled change streams", "collection", collection)
	return nil
}

// ListCollections returns the collection names the connected user is
// authorized to see.
func (d *Driver) ListCollections(ctx context.Context) ([]string, error) {
	opts := options.ListCollections().
		SetNameOnly(true).
		SetAuthorizedCollections(true)

	names, err := d.db.ListCollectionNames(ctx, bson.D{}, opts)
	if err != nil {
		return nil, classify("list_collections", err)
	}
	return names, nil
}

// ProbeCollection performs a single findOne against collection to
// verify the connected user can read it.
func (d *Driver) ProbeCollection(ctx context.Context, collection string) error {
	err := d.db.Collection(collection).FindOne(ctx, bson.D{}).Err()
	if err != nil && err != mongo.ErrNoDocuments {
		return classify("probe_collection", err)
	}
	return nil
}

// DatabaseName returns the configured database name.
func (d *Driver) DatabaseName() string {
	return d.config.Database
}

// Ping verifies connectivity to the source.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx, nil); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (d *Driver) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// documentCursor adapts *mongo.Cursor to source.DocumentCursor.
type documentCursor struct {
	cur *mongo.Cursor
}

func (c *documentCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c *documentCursor) Decode(v any) error {
	if err := c.cur.Decode(v); err != nil {
		return source.NewError(source.KindFatal, "decode_document", err)
	}
	return nil
}

func (c *documentCursor) Err() error {
	return classify("read_cursor", c.cur.Err())
}

func (c *documentCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// rawChangeEvent is the wire shape of a change stream event.
type rawChangeEvent struct {
	ID struct {
		Data string `bson:"_data"`
	} `bson:"_id"`
	OperationType     string              `bson:"operationType"`
	ClusterTime       primitive.Timestamp `bson:"clusterTime"`
	FullDocument      map[string]any      `bson:"fullDocument"`
	DocumentKey       map[string]any      `bson:"documentKey"`
	UpdateDescription map[string]any      `bson:"updateDescription"`
	NS                struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

// changeCursor adapts *mongo.ChangeStream to source.ChangeCursor.
type changeCursor struct {
	cs *mongo.ChangeStream
}

func (c *changeCursor) TryNext(ctx context.Context) bool {
	return c.cs.TryNext(ctx)
}

func (c *changeCursor) Event() (tap.ChangeEvent, error) {
	var raw rawChangeEvent
	if err := c.cs.Decode(&raw); err != nil {
		return tap.ChangeEvent{}, source.NewError(source.KindFatal, "decode_change_event", err)
	}

	return tap.ChangeEvent{
		Operation:         tap.Operation(raw.OperationType),
		ResumeToken:       raw.ID.Data,
		DocumentKey:       raw.DocumentKey,
		FullDocument:      raw.FullDocument,
		UpdateDescription: raw.UpdateDescription,
		ClusterTime:       time.Unix(int64(raw.ClusterTime.T), 0).UTC(),
		Namespace: tap.Namespace{
			Database:   raw.NS.DB,
			Collection: raw.NS.Coll,
		},
	}, nil
}

func (c *changeCursor) ResumeToken() string {
	rt := c.cs.ResumeToken()
	if rt == nil {
		return ""
	}
	data, ok := rt.Lookup("_data").StringValueOK()
	if !ok {
		return ""
	}
	return data
}

func (c *changeCursor) Err() error {
	return classify("read_change_stream", c.cs.Err())
}

func (c *changeCursor) Close(ctx context.Context) error {
	return c.cs.Close(ctx)
}

// Ensure Driver implements the source interfaces.
var _ source.Driver = (*Driver)(nil)
