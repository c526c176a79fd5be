package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// marshalData compacts a record's JSON state into TEXT for storage.
// Rejects documents that are not valid JSON.
func marshalData(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "null", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return buf.String(), nil
}

// unmarshalData converts stored TEXT back to a record's JSON state.
func unmarshalData(s string) json.RawMessage {
	return json.RawMessage(s)
}
