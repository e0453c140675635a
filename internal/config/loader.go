package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeStrict decodes a single JSON document into a Config, rejecting
// unknown top-level fields and trailing content.
func decodeStrict(data string) (*Config, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(data)))
	decoder.DisallowUnknownFields()
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("parsing config: expected a single JSON document")
	}
	return &cfg, nil
}
