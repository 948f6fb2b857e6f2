package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/janovincze/hermes/internal/tap"
)

// streamsDocument is the on-disk shape of the stream definitions file.
type streamsDocument struct {
	Streams []streamDefinition `json:"streams"`
}

type streamDefinition struct {
	Name       string   `json:"name"`
	Collection string   `json:"collection"`
	Method     string   `json:"replication_method"`
	Operations []string `json:"operation_types"`
	Selected   *bool    `json:"selected"`
}

// LoadStreams reads stream definitions from path and applies defaults:
// streams are selected unless marked otherwise, the replication method
// defaults to INCREMENTAL, and the operation allowlist falls back to
// defaultOperations (or the built-in default when that is empty too).
func LoadStreams(path string, defaultOperations []string) ([]tap.Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read streams file: %w", err)
	}

	var doc streamsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse streams file %s: %w", path, err)
	}
	if len(doc.Streams) == 0 {
		return nil, fmt.Errorf("streams file %s defines no streams", path)
	}

	fallback := tap.DefaultOperations()
	if len(defaultOperations) > 0 {
		fallback = make([]tap.Operation, 0, len(defaultOperations))
		for _, op := range defaultOperations {
			fallback = append(fallback, tap.Operation(op))
		}
	}

	seen := make(map[string]struct{}, len(doc.Streams))
	streams := make([]tap.Stream, 0, len(doc.Streams))
	for i, def := range doc.Streams {
		if def.Collection == "" {
			return nil, fmt.Errorf("stream %d: collection is required", i)
		}

		name := def.Name
		if name == "" {
			name = def.Collection
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate stream name %q", name)
		}
		seen[name] = struct{}{}

		method := tap.MethodIncremental
		switch def.Method {
		case "", string(tap.MethodIncremental):
		case string(tap.MethodLogBased):
			method = tap.MethodLogBased
		default:
			return nil, fmt.Errorf("stream %s: unknown replication method %q", name, def.Method)
		}

		operations := fallback
		if len(def.Operations) > 0 {
			operations = make([]tap.Operation, 0, len(def.Operations))
			for _, op := range def.Operations {
				operations = append(operations, tap.Operation(op))
			}
		}

		selected := true
		if def.Selected != nil {
			selected = *def.Selected
		}

		streams = append(streams, tap.Stream{
			Name:               name,
			Collection:         def.Collection,
			Method:             method,
			ReplicationKeyName: tap.ReplicationKeyProperty,
			Operations:         operations,
			Selected:           selected,
		})
	}

	return streams, nil
}
