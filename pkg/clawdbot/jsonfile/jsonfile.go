// Package jsonfile provides tolerant JSON reads and atomic JSON writes for
// small state files that several processes may touch.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
)

// Load reads path and returns its raw JSON. A missing, empty or unparseable
// file yields nil, never an error: callers treat all of those as "no data".
func Load(path string) json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	if !json.Valid(data) {
		return nil
	}
	return json.RawMessage(data)
}

// LoadInto decodes path into v. It reports false when the file is missing
// or does not decode.
func LoadInto(path string, v any) bool {
	raw := Load(path)
	if raw == nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// Save writes v as indented JSON. The write goes through a temp file and a
// rename, so readers never observe a partially written document.
func Save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := atomicwriter.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
