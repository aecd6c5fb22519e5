package render

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

// csvWriter is the native format: fields joined by the field separator and
// every record terminated by the dataset separator. Values are not quoted.
type csvWriter struct {
	w      io.Writer
	seps   Separators
	offset int64
	buf    []byte
}

func newCSV(w io.Writer, opts Options) *csvWriter {
	return &csvWriter{w: w, seps: opts.Separators, offset: opts.Offset}
}

func (c *csvWriter) Begin(headers []string) error {
	if headers == nil {
		return nil
	}
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	return c.Row(row)
}

func (c *csvWriter) Row(values []any) error {
	c.buf = c.buf[:0]
	for i, v := range values {
		if i > 0 {
			c.buf = append(c.buf, c.seps.Field)
		}
		c.buf = c.appendValue(c.buf, v)
	}
	c.buf = append(c.buf, c.seps.Dataset)
	_, err := c.w.Write(c.buf)
	return err
}

func (c *csvWriter) End() error { return nil }

func (c *csvWriter) appendValue(b []byte, v any) []byte {
	switch v := v.(type) {
	case int64:
		return strconv.AppendInt(b, v, 10)
	case float64:
		return append(b, formatFloat(v)...)
	case string:
		return append(b, v...)
	case time.Time:
		return strconv.AppendInt(b, unixTime(v, c.offset), 10)
	case []byte:
		return append(b, v...)
	case []string:
		for i, s := range v {
			if i > 0 {
				b = append(b, c.seps.List)
			}
			b = append(b, s...)
		}
		return b
	case map[string]string:
		for i, k := range sortedKeys(v) {
			if i > 0 {
				b = append(b, c.seps.List)
			}
			b = append(b, k...)
			b = append(b, c.seps.HostService)
			b = append(b, v[k]...)
		}
		return b
	}
	return b
}

// strictCSV is RFC 4180 output. Lists are comma joined inside one field.
type strictCSV struct {
	w      *csv.Writer
	offset int64
	record []string
}

func newStrictCSV(w io.Writer, opts Options) *strictCSV {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	return &strictCSV{w: cw, offset: opts.Offset}
}

func (s *strictCSV) Begin(headers []string) error {
	if headers == nil {
		return nil
	}
	return s.w.Write(headers)
}

func (s *strictCSV) Row(values []any) error {
	s.record = s.record[:0]
	for _, v := range values {
		s.record = append(s.record, s.field(v))
	}
	return s.w.Write(s.record)
}

func (s *strictCSV) End() error {
	s.w.Flush()
	return s.w.Error()
}

func (s *strictCSV) field(v any) string {
	switch v := v.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatFloat(v)
	case string:
		return v
	case time.Time:
		return strconv.FormatInt(unixTime(v, s.offset), 10)
	case []byte:
		return string(v)
	case []string:
		return strings.Join(v, ",")
	case map[string]string:
		parts := make([]string, 0, len(v))
		for _, k := range sortedKeys(v) {
			parts = append(parts, k+"|"+v[k])
		}
		return strings.Join(parts, ",")
	}
	return ""
}
