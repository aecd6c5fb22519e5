// Package storage reads and writes compressed log history segments.
//
// A segment is a column-oriented file: an 8 byte magic header, one zstd
// compressed block per column (each prefixed with its uint32 compressed size)
// and a fixed footer holding the row count and the time range.
package storage

import (
	"encoding/binary"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/coffersTech/livequery/internal/core"
)

// MagicHeader identifies a log segment file.
var MagicHeader = []byte("LQLOG001")

// footerSize is RowCount(4) + MinTime(8) + MaxTime(8).
const footerSize = 20

// int columns, in file order
var intColumns = []func(e *core.LogEntry) *int64{
	func(e *core.LogEntry) *int64 { return &e.Time },
	func(e *core.LogEntry) *int64 { return &e.Lineno },
}

// small int columns stored as int32
var smallColumns = []func(e *core.LogEntry) *int{
	func(e *core.LogEntry) *int { return &e.Class },
	func(e *core.LogEntry) *int { return &e.State },
	func(e *core.LogEntry) *int { return &e.Attempt },
}

var stringColumns = []func(e *core.LogEntry) *string{
	func(e *core.LogEntry) *string { return &e.Type },
	func(e *core.LogEntry) *string { return &e.HostName },
	func(e *core.LogEntry) *string { return &e.ServiceDescription },
	func(e *core.LogEntry) *string { return &e.StateType },
	func(e *core.LogEntry) *string { return &e.PluginOutput },
	func(e *core.LogEntry) *string { return &e.ContactName },
	func(e *core.LogEntry) *string { return &e.CommandName },
	func(e *core.LogEntry) *string { return &e.Message },
}

type ColumnWriter struct {
	encoder *zstd.Encoder
}

func NewColumnWriter() (*ColumnWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	return &ColumnWriter{encoder: enc}, nil
}

// WriteSegment writes rows, which must be in time order, to filename.
// The file is written under a temporary name and renamed into place.
func (cw *ColumnWriter) WriteSegment(filename string, rows []core.LogEntry) error {
	tmp := filename + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create segment")
	}

	if err := cw.write(f, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write segment %s", filename)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close segment")
	}
	return errors.Wrap(os.Rename(tmp, filename), "rename segment")
}

func (cw *ColumnWriter) write(f *os.File, rows []core.LogEntry) error {
	if _, err := f.Write(MagicHeader); err != nil {
		return err
	}

	var minT, maxT int64
	if len(rows) > 0 {
		minT, maxT = rows[0].Time, rows[len(rows)-1].Time
	}

	for _, col := range intColumns {
		buf := make([]byte, 0, len(rows)*8)
		for i := range rows {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(*col(&rows[i])))
		}
		if err := cw.compressAndWrite(f, buf); err != nil {
			return err
		}
	}
	for _, col := range smallColumns {
		buf := make([]byte, 0, len(rows)*4)
		for i := range rows {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(*col(&rows[i]))))
		}
		if err := cw.compressAndWrite(f, buf); err != nil {
			return err
		}
	}
	for _, col := range stringColumns {
		// [Len uint32][Bytes]...
		var buf []byte
		for i := range rows {
			s := *col(&rows[i])
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
			buf = append(buf, s...)
		}
		if err := cw.compressAndWrite(f, buf); err != nil {
			return err
		}
	}

	footer := make([]byte, 0, footerSize)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(rows)))
	footer = binary.LittleEndian.AppendUint64(footer, uint64(minT))
	footer = binary.LittleEndian.AppendUint64(footer, uint64(maxT))
	_, err := f.Write(footer)
	return err
}

func (cw *ColumnWriter) compressAndWrite(f *os.File, raw []byte) error {
	compressed := cw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2+16))

	size := binary.LittleEndian.AppendUint32(nil, uint32(len(compressed)))
	if _, err := f.Write(size); err != nil {
		return err
	}
	_, err := f.Write(compressed)
	return err
}
