package position

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgresStore implements position persistence in PostgreSQL, for
// deployments that already run a metadata database and want positions
// queryable alongside it.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// PostgresConfig holds configuration for the PostgreSQL position store.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

// NewPostgresStore creates a new PostgreSQL position store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{
		db:     db,
		logger: logger.With("component", "position-store", "backend", "postgres"),
	}, nil
}

// Load retrieves all stored positions.
func (s *PostgresStore) Load(ctx context.Context) (map[string]Position, error) {
	query := `
		SELECT stream_id, replication_key, replication_key_value, run_id, updated_at
		FROM hermes.tap_positions
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	positions := map[string]Position{}
	for rows.Next() {
		var streamID string
		var pos Position
		var runID sql.NullString
		if err := rows.Scan(&streamID, &pos.ReplicationKey, &pos.ReplicationKeyValue, &runID, &pos.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		pos.RunID = runID.String
		positions[streamID] = pos
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}

	return positions, nil
}

// Save upserts the position for a stream.
func (s *PostgresStore) Save(ctx context.Context, streamID string, pos Position) error {
	query := `
		INSERT INTO hermes.tap_positions (stream_id, replication_key, replication_key_value, run_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id)
		DO UPDATE SET
			replication_key = EXCLUDED.replication_key,
			replication_key_value = EXCLUDED.replication_key_value,
			run_id = EXCLUDED.run_id,
			updated_at = EXCLUDED.updated_at
	`

	updatedAt := pos.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		streamID,
		pos.ReplicationKey,
		pos.ReplicationKeyValue,
		pos.RunID,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}

	s.logger.Debug("position saved",
		"stream", streamID,
		"value", pos.ReplicationKeyValue,
	)
	return nil
}

// Delete removes the position for a stream.
func (s *PostgresStore) Delete(ctx context.Context, streamID string) error {
	query := `DELETE FROM hermes.tap_positions WHERE stream_id = $1`
	if _, err := s.db.ExecContext(ctx, query, streamID); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
