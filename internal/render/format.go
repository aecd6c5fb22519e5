// Package render serializes query results in the supported output formats.
package render

import (
	"fmt"
	"strconv"
	"strings"
)

type Format int

const (
	FormatCSV         Format = iota // csv: raw fields, configurable separators
	FormatCSVStrict                 // CSV: RFC 4180
	FormatJSON                      // json
	FormatWrappedJSON               // wrapped_json
	FormatPython                    // python
	FormatPython3                   // python3
)

var formatNames = [...]string{"csv", "CSV", "json", "wrapped_json", "python", "python3"}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return "unknown"
	}
	return formatNames[f]
}

// ParseFormat resolves an OutputFormat argument. Names are case sensitive:
// "csv" and "CSV" differ.
func ParseFormat(s string) (Format, bool) {
	for i, name := range formatNames {
		if name == s {
			return Format(i), true
		}
	}
	return FormatCSV, false
}

// Separators of the csv format.
type Separators struct {
	Dataset     byte
	Field       byte
	List        byte
	HostService byte
}

var DefaultSeparators = Separators{Dataset: '\n', Field: ';', List: ',', HostService: '|'}

// ParseSeparators reads up to four decimal byte values; missing ones keep
// their defaults.
func ParseSeparators(s string) (Separators, error) {
	seps := DefaultSeparators
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 4 {
		return seps, fmt.Errorf("expected 1 to 4 separators, got %d", len(fields))
	}
	dst := []*byte{&seps.Dataset, &seps.Field, &seps.List, &seps.HostService}
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			return seps, fmt.Errorf("invalid separator '%s'", f)
		}
		*dst[i] = byte(n)
	}
	return seps, nil
}
