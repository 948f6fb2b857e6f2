// Package discovery enumerates source collections and produces catalog
// entries for them.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/janovincze/hermes/internal/tap"
)

// Lister is the slice of the source driver discovery needs.
type Lister interface {
	ListCollections(ctx context.Context) ([]string, error)
	ProbeCollection(ctx context.Context, collection string) error
	DatabaseName() string
}

// CatalogEntry describes one discovered collection.
type CatalogEntry struct {
	StreamID      string                `json:"tap_stream_id"`
	Collection    string                `json:"table_name"`
	Database      string                `json:"database_name"`
	KeyProperties []string              `json:"key_properties"`
	Method        tap.ReplicationMethod `json:"replication_method"`
	Schema        map[string]any        `json:"schema"`
}

// Stream converts the entry into a runnable stream definition.
func (e CatalogEntry) Stream() tap.Stream {
	return tap.Stream{
		Name:               e.StreamID,
		Collection:         e.Collection,
		Method:             e.Method,
		ReplicationKeyName: tap.ReplicationKeyProperty,
		Operations:         tap.DefaultOperations(),
		Selected:           true,
	}
}

// Discoverer builds catalog entries from the collections visible to the
// authenticated user.
type Discoverer struct {
	lister Lister
	prefix string
	filter map[string]struct{}
	logger *slog.Logger
}

// NewDiscoverer creates a Discoverer. prefix, when non-empty, is
// prepended to every stream name. filter, when non-empty, restricts
// discovery to the named collections.
func NewDiscoverer(lister Lister, prefix string, filter []string, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	var allowed map[string]struct{}
	if len(filter) > 0 {
		allowed = make(map[string]struct{}, len(filter))
		for _, name := range filter {
			allowed[name] = struct{}{}
		}
	}
	return &Discoverer{
		lister: lister,
		prefix: prefix,
		filter: allowed,
		logger: logger.With("component", "discovery"),
	}
}

// Discover lists accessible collections and returns one catalog entry
// per collection, sorted by stream ID. Collections the user cannot read
// are skipped rather than failing the whole discovery.
func (d *Discoverer) Discover(ctx context.Context) ([]CatalogEntry, error) {
	names, err := d.lister.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	database := d.lister.DatabaseName()
	entries := make([]CatalogEntry, 0, len(names))
	for _, name := range names {
		if d.filter != nil {
			if _, ok := d.filter[name]; !ok {
				continue
			}
		}

		if err := d.lister.ProbeCollection(ctx, name); err != nil {
			d.logger.Info("skipping collection, user does not have permission to it",
				"database", database,
				"collection", name,
				"error", err,
			)
			continue
		}

		d.logger.Info("discovered collection", "database", database, "collection", name)
		entries = append(entries, CatalogEntry{
			StreamID:      StreamID(name, d.prefix),
			Collection:    name,
			Database:      database,
			KeyProperties: []string{tap.ReplicationKeyProperty},
			Method:        tap.MethodIncremental,
			Schema:        RecordSchema(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].StreamID < entries[j].StreamID })
	return entries, nil
}

// StreamID derives the stream name for a collection. Parts are joined
// with underscores and lowercased so stream names stay stable across
// differently-cased collection names.
func StreamID(collection, prefix string) string {
	parts := make([]string, 0, 2)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, collection)
	return strings.ToLower(strings.Join(parts, "_"))
}
