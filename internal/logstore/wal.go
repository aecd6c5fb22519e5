package logstore

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/livequery/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// walRecord is the on-disk form of an entry. Empty fields are omitted.
type walRecord struct {
	Time      int64  `json:"t"`
	Lineno    int64  `json:"n"`
	Class     int    `json:"c"`
	Type      string `json:"y,omitempty"`
	Host      string `json:"h,omitempty"`
	Service   string `json:"s,omitempty"`
	State     int    `json:"st,omitempty"`
	StateType string `json:"sty,omitempty"`
	Attempt   int    `json:"a,omitempty"`
	Output    string `json:"o,omitempty"`
	Contact   string `json:"co,omitempty"`
	Command   string `json:"cm,omitempty"`
	Message   string `json:"m,omitempty"`
}

// WAL appends every entry before it reaches the MemTable so a crash loses
// nothing that was not yet flushed to a segment.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open wal")
	}
	return &WAL{file: f, path: path}, nil
}

// Write records e. Frame format: [Len uint32][JSON bytes].
func (w *WAL) Write(e core.LogEntry) error {
	data, err := json.Marshal(walRecord{
		Time: e.Time, Lineno: e.Lineno, Class: e.Class, Type: e.Type,
		Host: e.HostName, Service: e.ServiceDescription, State: e.State,
		StateType: e.StateType, Attempt: e.Attempt, Output: e.PluginOutput,
		Contact: e.ContactName, Command: e.CommandName, Message: e.Message,
	})
	if err != nil {
		return errors.Wrap(err, "encode wal record")
	}
	frame := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(data)), uint32(len(data)))
	frame = append(frame, data...)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.file.Write(frame)
	return errors.Wrap(err, "write wal")
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Reset truncates the log.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return errors.Wrap(err, "truncate wal")
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

func (w *WAL) Close() error {
	return w.file.Close()
}

// Replay reads back every complete frame. A torn frame at the end of the file
// stops the replay and is reported together with the rows read so far.
func (w *WAL) Replay() ([]core.LogEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var (
		rows   []core.LogEntry
		parser fastjson.Parser
		lenBuf [4]byte
	)
	for {
		if _, err := io.ReadFull(w.file, lenBuf[:]); err != nil {
			if err == io.EOF {
				return rows, nil
			}
			return rows, errors.Wrap(err, "wal replay (len)")
		}
		data := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(w.file, data); err != nil {
			return rows, errors.Wrap(err, "wal replay (data)")
		}
		v, err := parser.ParseBytes(data)
		if err != nil {
			return rows, errors.Wrap(err, "wal replay (parse)")
		}
		rows = append(rows, core.LogEntry{
			Time:               v.GetInt64("t"),
			Lineno:             v.GetInt64("n"),
			Class:              v.GetInt("c"),
			Type:               string(v.GetStringBytes("y")),
			HostName:           string(v.GetStringBytes("h")),
			ServiceDescription: string(v.GetStringBytes("s")),
			State:              v.GetInt("st"),
			StateType:          string(v.GetStringBytes("sty")),
			Attempt:            v.GetInt("a"),
			PluginOutput:       string(v.GetStringBytes("o")),
			ContactName:        string(v.GetStringBytes("co")),
			CommandName:        string(v.GetStringBytes("cm")),
			Message:            string(v.GetStringBytes("m")),
		})
	}
}
