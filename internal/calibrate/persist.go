package calibrate

import (
	"encoding/json"
	"fmt"
	"os"
)

// Save writes the calibration result to path as JSON so a later invocation
// can reconstruct against it.
func (r *Result) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("calibrate: marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("calibrate: write %s: %w", path, err)
	}
	return nil
}

// LoadResult reads a persisted calibration result.
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calibrate: read %s: %w", path, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("calibrate: decode %s: %w", path, err)
	}
	return &r, nil
}
