package discovery

// RecordSchema returns the JSON schema describing the record envelope
// every stream emits. The envelope is fixed: document bodies are carried
// as free-form objects, so the schema does not vary per collection.
func RecordSchema() map[string]any {
	nullable := func(t string) []string { return []string{t, "null"} }
	namespace := map[string]any{
		"type":                 nullable("object"),
		"additionalProperties": false,
		"properties": map[string]any{
			"database":   map[string]any{"type": nullable("string")},
			"collection": map[string]any{"type": nullable("string")},
		},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"replication_key": map[string]any{
				"type":        nullable("string"),
				"description": "Replication key which uniquely identifies one record.",
			},
			"object_id": map[string]any{
				"type":        nullable("string"),
				"description": "ObjectId of the record, 24 character hex string.",
			},
			"operation_type": map[string]any{
				"type":        nullable("string"),
				"description": "Change stream operation type, null in incremental mode.",
			},
			"cluster_time": map[string]any{
				"type":        nullable("string"),
				"format":      "date-time",
				"description": "Cluster time of the change event, null in incremental mode.",
			},
			"document": map[string]any{
				"type":                 nullable("object"),
				"additionalProperties": true,
				"description":          "The collection document, or the fullDocument field of a change event.",
			},
			"update_description": map[string]any{
				"type":                 nullable("object"),
				"additionalProperties": true,
				"description":          "The updateDescription field of a change event, null in incremental mode.",
			},
			"namespace": namespace,
			"to": map[string]any{
				"type":                 nullable("object"),
				"additionalProperties": false,
				"description":          "New namespace of a renamed collection.",
				"properties": map[string]any{
					"database":   map[string]any{"type": nullable("string")},
					"collection": map[string]any{"type": nullable("string")},
				},
			},
			"_sdc_extracted_at": map[string]any{
				"type":   nullable("string"),
				"format": "date-time",
			},
			"_sdc_batched_at": map[string]any{
				"type":   nullable("string"),
				"format": "date-time",
			},
		},
	}
}
