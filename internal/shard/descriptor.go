// Package shard writes and reads the intermediate parquet shards that
// carry normalized rows from the import workers to the merge stage.
// Each shard is a flat all-optional-string parquet file plus a JSON
// sidecar describing its target table and ordered column list (the
// parquet group sorts fields, so order lives in the sidecar).
package shard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Shard family prefixes. The merge stage routes shards to staging
// tables by prefix first, falling back to column overlap.
const (
	FamilyTransit = "TEMP_TRANSIT"
	FamilyHeader  = "HEADER"
	FamilyDetail  = "DETAIL"
)

// Descriptor is the JSON sidecar written next to every shard.
type Descriptor struct {
	Family     string    `json:"family"`
	Table      string    `json:"table"`
	Columns    []string  `json:"columns"`
	RowCount   int64     `json:"row_count"`
	SourceFile string    `json:"source_file"`
	Sheet      string    `json:"sheet"`
	CreatedAt  time.Time `json:"created_at"`
}

func sidecarPath(shardPath string) string {
	return strings.TrimSuffix(shardPath, filepath.Ext(shardPath)) + ".json"
}

// writeDescriptor writes the sidecar atomically via temp file + rename.
func writeDescriptor(shardPath string, desc Descriptor) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling shard descriptor: %w", err)
	}

	target := sidecarPath(shardPath)
	tmp, err := os.CreateTemp(filepath.Dir(target), ".desc-*.tmp")
	if err != nil {
		return fmt.Errorf("creating descriptor temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing descriptor: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalizing descriptor: %w", err)
	}
	return nil
}

// ReadDescriptor loads the sidecar for a shard.
func ReadDescriptor(shardPath string) (Descriptor, error) {
	data, err := os.ReadFile(sidecarPath(shardPath))
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading shard descriptor: %w", err)
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("parsing shard descriptor %s: %w", sidecarPath(shardPath), err)
	}
	return desc, nil
}

// List returns the shard files under dir, skipping sidecars and
// leftover temp files.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing shard dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
