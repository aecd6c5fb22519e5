package render

import (
	"io"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"
)

// Writer serializes one result set. Begin is called once, with nil headers
// when no header row is wanted, then Row once per result row, then End.
type Writer interface {
	Begin(headers []string) error
	Row(values []any) error
	End() error
}

// Options of a renderer.
type Options struct {
	Format     Format
	Separators Separators
	// Offset in seconds is added to time values (see Localtime).
	Offset int64
}

// New returns a Writer for opts.Format writing to w.
func New(w io.Writer, opts Options) Writer {
	switch opts.Format {
	case FormatCSVStrict:
		return newStrictCSV(w, opts)
	case FormatJSON, FormatWrappedJSON:
		return newJSON(w, opts)
	case FormatPython, FormatPython3:
		return newPython(w, opts)
	default:
		return newCSV(w, opts)
	}
}

// unixTime converts a time value for output. The zero time is 0.
func unixTime(t time.Time, offset int64) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix() + offset
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
