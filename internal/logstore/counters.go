package logstore

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Counters are cumulative history statistics that survive restarts.
type Counters struct {
	TotalEntries int64         `json:"total_entries"`
	TotalBytes   int64         `json:"total_bytes"`
	ClassCounts  map[int]int64 `json:"class_counts"`
}

const countersFileName = ".livequery.stats"

func newCounters() Counters {
	return Counters{ClassCounts: make(map[int]int64)}
}

// loadCounters reads counters from dataDir. A missing or corrupt file yields
// zero counters.
func loadCounters(dataDir string) Counters {
	c := newCounters()
	data, err := os.ReadFile(filepath.Join(dataDir, countersFileName))
	if err != nil {
		return c
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return newCounters()
	}
	if c.ClassCounts == nil {
		c.ClassCounts = make(map[int]int64)
	}
	return c
}

// saveCounters writes counters atomically.
func saveCounters(dataDir string, c Counters) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode counters")
	}
	path := filepath.Join(dataDir, countersFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write counters")
	}
	return errors.Wrap(os.Rename(tmp, path), "rename counters")
}
