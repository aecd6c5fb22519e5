package render

import (
	"bufio"
	"io"
	"strconv"
	"time"
)

// pythonWriter emits a python list literal of lists. python escapes
// non-ASCII text and prefixes strings with u; python3 keeps UTF-8 text and
// renders blobs as bytes literals.
type pythonWriter struct {
	w      *bufio.Writer
	py3    bool
	offset int64
	rows   int
	buf    []byte
}

func newPython(w io.Writer, opts Options) *pythonWriter {
	return &pythonWriter{w: bufio.NewWriterSize(w, 4096), py3: opts.Format == FormatPython3, offset: opts.Offset}
}

func (p *pythonWriter) Begin(headers []string) error {
	if err := p.w.WriteByte('['); err != nil {
		return err
	}
	if headers == nil {
		return nil
	}
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	return p.Row(row)
}

func (p *pythonWriter) Row(values []any) error {
	p.buf = p.buf[:0]
	if p.rows > 0 {
		p.buf = append(p.buf, ",\n"...)
	}
	p.rows++
	p.buf = append(p.buf, '[')
	for i, v := range values {
		if i > 0 {
			p.buf = append(p.buf, ", "...)
		}
		p.buf = p.appendValue(p.buf, v)
	}
	p.buf = append(p.buf, ']')
	_, err := p.w.Write(p.buf)
	return err
}

func (p *pythonWriter) End() error {
	if _, err := p.w.WriteString("]\n"); err != nil {
		return err
	}
	return p.w.Flush()
}

func (p *pythonWriter) appendString(b []byte, s string) []byte {
	if p.py3 {
		return strconv.AppendQuote(b, s)
	}
	return strconv.AppendQuoteToASCII(append(b, 'u'), s)
}

func (p *pythonWriter) appendValue(b []byte, v any) []byte {
	switch v := v.(type) {
	case int64:
		return strconv.AppendInt(b, v, 10)
	case float64:
		return append(b, formatFloat(v)...)
	case string:
		return p.appendString(b, v)
	case time.Time:
		return strconv.AppendInt(b, unixTime(v, p.offset), 10)
	case []byte:
		if p.py3 {
			return appendBytesLiteral(b, v)
		}
		return p.appendString(b, string(v))
	case []string:
		b = append(b, '[')
		for i, s := range v {
			if i > 0 {
				b = append(b, ", "...)
			}
			b = p.appendString(b, s)
		}
		return append(b, ']')
	case map[string]string:
		b = append(b, '{')
		for i, k := range sortedKeys(v) {
			if i > 0 {
				b = append(b, ", "...)
			}
			b = p.appendString(b, k)
			b = append(b, ": "...)
			b = p.appendString(b, v[k])
		}
		return append(b, '}')
	}
	return p.appendString(b, "")
}

// appendBytesLiteral writes b"..." escaping everything outside printable ASCII.
func appendBytesLiteral(b, v []byte) []byte {
	const hex = "0123456789abcdef"
	b = append(b, 'b', '"')
	for _, c := range v {
		switch {
		case c == '"' || c == '\\':
			b = append(b, '\\', c)
		case c >= 0x20 && c < 0x7f:
			b = append(b, c)
		default:
			b = append(b, '\\', 'x', hex[c>>4], hex[c&0xf])
		}
	}
	return append(b, '"')
}
