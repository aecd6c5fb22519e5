package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/coffersTech/livequery/internal/core"
)

var ErrInvalidHeader = errors.New("invalid segment header")

// SegmentExt is the file extension of log segments.
const SegmentExt = ".lqs"

// SegmentName returns the file name of segment seq covering [minT, maxT].
// Format: log_{minT}_{maxT}_{seq}.lqs
func SegmentName(minT, maxT, seq int64) string {
	return fmt.Sprintf("log_%d_%d_%d%s", minT, maxT, seq, SegmentExt)
}

// ParseSegmentName extracts the time range and sequence number encoded in a
// segment file name.
func ParseSegmentName(name string) (minT, maxT, seq int64, err error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "log_") || !strings.HasSuffix(base, SegmentExt) {
		return 0, 0, 0, errors.Errorf("not a segment: %s", base)
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(base, "log_"), SegmentExt), "_")
	if len(parts) != 3 {
		return 0, 0, 0, errors.Errorf("invalid segment name: %s", base)
	}
	var nums [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, 0, 0, errors.Errorf("invalid number in %s", base)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// SegmentInfo is the footer of a segment.
type SegmentInfo struct {
	Rows    int
	MinTime int64
	MaxTime int64
}

type ColumnReader struct {
	decoder *zstd.Decoder
}

func NewColumnReader() (*ColumnReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return &ColumnReader{decoder: dec}, nil
}

func (cr *ColumnReader) Close() {
	cr.decoder.Close()
}

func readInfo(f *os.File) (SegmentInfo, error) {
	header := make([]byte, len(MagicHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return SegmentInfo{}, err
	}
	if !bytes.Equal(header, MagicHeader) {
		return SegmentInfo{}, ErrInvalidHeader
	}

	st, err := f.Stat()
	if err != nil {
		return SegmentInfo{}, err
	}
	if st.Size() < int64(len(MagicHeader)+footerSize) {
		return SegmentInfo{}, errors.New("segment too small")
	}
	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, st.Size()-footerSize); err != nil {
		return SegmentInfo{}, err
	}
	return SegmentInfo{
		Rows:    int(binary.LittleEndian.Uint32(footer[0:4])),
		MinTime: int64(binary.LittleEndian.Uint64(footer[4:12])),
		MaxTime: int64(binary.LittleEndian.Uint64(footer[12:20])),
	}, nil
}

// ReadInfo returns the footer of a segment without decompressing it.
func (cr *ColumnReader) ReadInfo(filename string) (SegmentInfo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return SegmentInfo{}, errors.Wrap(err, "open segment")
	}
	defer f.Close()
	info, err := readInfo(f)
	return info, errors.Wrapf(err, "read segment %s", filename)
}

// ReadSegment returns the rows of a segment with minT <= Time <= maxT, in
// file order. A bound of 0 is open.
func (cr *ColumnReader) ReadSegment(filename string, minT, maxT int64) ([]core.LogEntry, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "open segment")
	}
	defer f.Close()

	rows, err := cr.read(f, minT, maxT)
	if err != nil {
		return nil, errors.Wrapf(err, "read segment %s", filename)
	}
	return rows, nil
}

func (cr *ColumnReader) read(f *os.File, minT, maxT int64) ([]core.LogEntry, error) {
	info, err := readInfo(f)
	if err != nil {
		return nil, err
	}
	if info.Rows == 0 {
		return nil, nil
	}
	// file-level pruning
	if (minT > 0 && info.MaxTime < minT) || (maxT > 0 && info.MinTime > maxT) {
		return nil, nil
	}

	rows := make([]core.LogEntry, info.Rows)
	for _, col := range intColumns {
		data, err := cr.readAndDecompress(f)
		if err != nil {
			return nil, err
		}
		if len(data) != info.Rows*8 {
			return nil, errors.New("column length mismatch")
		}
		for i := range rows {
			*col(&rows[i]) = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}
	}
	for _, col := range smallColumns {
		data, err := cr.readAndDecompress(f)
		if err != nil {
			return nil, err
		}
		if len(data) != info.Rows*4 {
			return nil, errors.New("column length mismatch")
		}
		for i := range rows {
			*col(&rows[i]) = int(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
	}
	for _, col := range stringColumns {
		data, err := cr.readAndDecompress(f)
		if err != nil {
			return nil, err
		}
		strs := bytesToStrings(data)
		if len(strs) != info.Rows {
			return nil, errors.New("column length mismatch")
		}
		for i := range rows {
			*col(&rows[i]) = strs[i]
		}
	}

	if minT <= 0 && maxT <= 0 {
		return rows, nil
	}
	out := rows[:0]
	for _, r := range rows {
		if (minT > 0 && r.Time < minT) || (maxT > 0 && r.Time > maxT) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// readAndDecompress reads one block (size + data).
func (cr *ColumnReader) readAndDecompress(r io.Reader) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	compressed := make([]byte, binary.LittleEndian.Uint32(sizeBuf[:]))
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, err
	}
	return cr.decoder.DecodeAll(compressed, nil)
}

// bytesToStrings splits [Len uint32][Bytes]... into strings.
func bytesToStrings(data []byte) []string {
	var out []string
	for len(data) >= 4 {
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if n > len(data) {
			break
		}
		out = append(out, string(data[:n]))
		data = data[n:]
	}
	return out
}
