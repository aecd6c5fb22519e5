package render

import (
	"io"
	"math"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const flushThreshold = 32 << 10

// jsonWriter emits a list of lists, or {"data": [...], "total_count": n}
// when wrapped.
type jsonWriter struct {
	s       *jsoniter.Stream
	wrapped bool
	offset  int64
	rows    int
	total   int
}

func newJSON(w io.Writer, opts Options) *jsonWriter {
	return &jsonWriter{
		s:       jsoniter.NewStream(jsoniter.ConfigCompatibleWithStandardLibrary, w, 4096),
		wrapped: opts.Format == FormatWrappedJSON,
		offset:  opts.Offset,
	}
}

func (j *jsonWriter) Begin(headers []string) error {
	if j.wrapped {
		j.s.WriteObjectStart()
		j.s.WriteObjectField("data")
	}
	j.s.WriteArrayStart()
	if headers != nil {
		j.s.WriteArrayStart()
		for i, h := range headers {
			if i > 0 {
				j.s.WriteMore()
			}
			j.s.WriteString(h)
		}
		j.s.WriteArrayEnd()
		j.rows++
	}
	return j.s.Error
}

func (j *jsonWriter) Row(values []any) error {
	if j.rows > 0 {
		j.s.WriteRaw(",\n")
	}
	j.rows++
	j.total++

	j.s.WriteArrayStart()
	for i, v := range values {
		if i > 0 {
			j.s.WriteMore()
		}
		j.value(v)
	}
	j.s.WriteArrayEnd()

	if j.s.Buffered() > flushThreshold {
		return j.s.Flush()
	}
	return j.s.Error
}

func (j *jsonWriter) End() error {
	j.s.WriteArrayEnd()
	if j.wrapped {
		j.s.WriteMore()
		j.s.WriteObjectField("total_count")
		j.s.WriteInt(j.total)
		j.s.WriteObjectEnd()
	}
	j.s.WriteRaw("\n")
	return j.s.Flush()
}

func (j *jsonWriter) value(v any) {
	switch v := v.(type) {
	case int64:
		j.s.WriteInt64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		j.s.WriteFloat64(v)
	case string:
		j.s.WriteString(v)
	case time.Time:
		j.s.WriteInt64(unixTime(v, j.offset))
	case []byte:
		j.s.WriteString(string(v))
	case []string:
		j.s.WriteArrayStart()
		for i, s := range v {
			if i > 0 {
				j.s.WriteMore()
			}
			j.s.WriteString(s)
		}
		j.s.WriteArrayEnd()
	case map[string]string:
		j.s.WriteObjectStart()
		for i, k := range sortedKeys(v) {
			if i > 0 {
				j.s.WriteMore()
			}
			j.s.WriteObjectField(k)
			j.s.WriteString(v[k])
		}
		j.s.WriteObjectEnd()
	default:
		j.s.WriteString("")
	}
}
