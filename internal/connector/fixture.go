package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"prism/internal/types"
)

// FixtureConnector serves canned payloads from a directory of JSON files.
// Used for dev runs and pipeline tests; it behaves like a real connector
// (deadline-aware, provenance-stamped) without any network IO.
type FixtureConnector struct {
	name string
	dir  string
}

// NewFixtureConnector creates a fixture connector reading *.json files from
// dir. Files are served in filename order for determinism.
func NewFixtureConnector(name, dir string) *FixtureConnector {
	return &FixtureConnector{name: name, dir: dir}
}

func (f *FixtureConnector) Name() string { return f.name }

// Execute loads every JSON fixture in the directory as one raw payload.
func (f *FixtureConnector) Execute(ctx context.Context, _ types.IngestRequest, _ types.QueryFeatures) ([]types.RawPayload, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("fixture dir %s: %w", f.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	payloads := make([]types.RawPayload, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return payloads, err
		}
		path := filepath.Join(f.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return payloads, fmt.Errorf("fixture %s: %w", path, err)
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return payloads, fmt.Errorf("fixture %s: %w", path, err)
		}
		sum := sha256.Sum256(raw)
		payloads = append(payloads, types.RawPayload{
			Source:    f.name,
			SourceURL: "file://" + path,
			FetchedAt: time.Now().UTC(),
			Hash:      hex.EncodeToString(sum[:]),
			Data:      data,
		})
	}
	return payloads, nil
}
