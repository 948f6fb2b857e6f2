package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists positions as a single JSON document at a
// well-known path. The file is read in full at startup and rewritten in
// full after each commit, via a temp file and rename so a crash never
// leaves a partially written state behind.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Position
}

// NewFileStore creates a file-backed position store at path.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("position: file path is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{
		path:   path,
		logger: logger.With("component", "position-store", "path", path),
	}, nil
}

// Load reads the full position document. A missing file yields an empty
// map, not an error.
func (s *FileStore) Load(_ context.Context) (map[string]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.cache = map[string]Position{}
			return map[string]Position{}, nil
		}
		return nil, fmt.Errorf("read position file: %w", err)
	}

	positions := map[string]Position{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &positions); err != nil {
			return nil, fmt.Errorf("parse position file: %w", err)
		}
	}

	s.cache = make(map[string]Position, len(positions))
	for id, pos := range positions {
		s.cache[id] = pos
	}

	return positions, nil
}

// Save updates the position for streamID and rewrites the file.
func (s *FileStore) Save(_ context.Context, streamID string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache == nil {
		s.cache = map[string]Position{}
	}
	s.cache[streamID] = pos

	if err := s.write(); err != nil {
		return err
	}

	s.logger.Debug("position saved",
		"stream", streamID,
		"value", pos.ReplicationKeyValue,
	)
	return nil
}

// Delete removes the position for streamID and rewrites the file.
func (s *FileStore) Delete(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache == nil {
		return nil
	}
	delete(s.cache, streamID)
	return s.write()
}

// Close is a no-op; every Save already reaches the filesystem.
func (s *FileStore) Close() error {
	return nil
}

// write rewrites the file atomically. Caller holds s.mu.
func (s *FileStore) write() error {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".positions-*.json")
	if err != nil {
		return fmt.Errorf("create temp position file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write position file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close position file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace position file: %w", err)
	}

	return nil
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
