package database

import (
	"encoding/json"
	"fmt"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// toJSON encodes a nested document column.
func toJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("unable to encode column: %w", err)
	}
	return string(raw), nil
}

// fromJSON decodes a nested document column; empty text leaves v untouched.
func fromJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unable to decode column: %w", err)
	}
	return nil
}
