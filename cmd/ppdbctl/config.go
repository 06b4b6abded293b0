package main

import (
	"encoding/json"
	"os"

	"github.com/tailscale/hujson"
)

// fileConfig is the on-disk shape of a ppdbctl config file. Fields mirror
// ppdb.Options directly so the file can simply be unmarshaled into it.
type fileConfig struct {
	ShardCount          int   `json:"shard_count,omitempty"`
	MemtableBudgetBytes int64 `json:"memtable_budget_bytes,omitempty"`
	SegmentSize         int64 `json:"segment_size,omitempty"`
	MaxSegments         int   `json:"max_segments,omitempty"`
	SyncOnWrite         bool  `json:"sync_on_write,omitempty"`
}

// loadFileConfig reads a JSONC (JSON-with-comments) config file at path,
// tolerating the usual editor conveniences hujson standardizes away:
// trailing commas and `//`/`/* */` comments.
func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
