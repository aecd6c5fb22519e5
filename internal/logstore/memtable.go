// Package logstore keeps the monitoring history behind the log table: a
// write-ahead log, an in-memory columnar table and compressed segments on disk.
package logstore

import (
	"sync"
	"sync/atomic"

	"github.com/coffersTech/livequery/internal/core"
)

// MemTable stores recent log entries column by column.
type MemTable struct {
	mu sync.RWMutex

	TimeCol      []int64
	LinenoCol    []int64
	ClassCol     []uint8
	StateCol     []int32
	AttemptCol   []int32
	TypeCol      []string
	HostCol      []string
	ServiceCol   []string
	StateTypeCol []string
	OutputCol    []string
	ContactCol   []string
	CommandCol   []string
	MessageCol   []string

	sizeBytes atomic.Int64
}

func NewMemTable() *MemTable {
	const n = 4096
	return &MemTable{
		TimeCol:      make([]int64, 0, n),
		LinenoCol:    make([]int64, 0, n),
		ClassCol:     make([]uint8, 0, n),
		StateCol:     make([]int32, 0, n),
		AttemptCol:   make([]int32, 0, n),
		TypeCol:      make([]string, 0, n),
		HostCol:      make([]string, 0, n),
		ServiceCol:   make([]string, 0, n),
		StateTypeCol: make([]string, 0, n),
		OutputCol:    make([]string, 0, n),
		ContactCol:   make([]string, 0, n),
		CommandCol:   make([]string, 0, n),
		MessageCol:   make([]string, 0, n),
	}
}

func entrySize(e *core.LogEntry) int64 {
	return int64(len(e.Type) + len(e.HostName) + len(e.ServiceDescription) + len(e.StateType) +
		len(e.PluginOutput) + len(e.ContactName) + len(e.CommandName) + len(e.Message) + 8 + 8 + 1 + 4 + 4)
}

func (mt *MemTable) Append(e core.LogEntry) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.TimeCol = append(mt.TimeCol, e.Time)
	mt.LinenoCol = append(mt.LinenoCol, e.Lineno)
	mt.ClassCol = append(mt.ClassCol, uint8(e.Class))
	mt.StateCol = append(mt.StateCol, int32(e.State))
	mt.AttemptCol = append(mt.AttemptCol, int32(e.Attempt))
	mt.TypeCol = append(mt.TypeCol, e.Type)
	mt.HostCol = append(mt.HostCol, e.HostName)
	mt.ServiceCol = append(mt.ServiceCol, e.ServiceDescription)
	mt.StateTypeCol = append(mt.StateTypeCol, e.StateType)
	mt.OutputCol = append(mt.OutputCol, e.PluginOutput)
	mt.ContactCol = append(mt.ContactCol, e.ContactName)
	mt.CommandCol = append(mt.CommandCol, e.CommandName)
	mt.MessageCol = append(mt.MessageCol, e.Message)

	mt.sizeBytes.Add(entrySize(&e))
}

// Size returns the estimated memory usage in bytes.
func (mt *MemTable) Size() int64 {
	return mt.sizeBytes.Load()
}

func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.TimeCol)
}

// Row materializes row i. The caller holds no lock.
func (mt *MemTable) Row(i int) core.LogEntry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.rowLocked(i)
}

func (mt *MemTable) rowLocked(i int) core.LogEntry {
	return core.LogEntry{
		Time:               mt.TimeCol[i],
		Lineno:             mt.LinenoCol[i],
		Class:              int(mt.ClassCol[i]),
		State:              int(mt.StateCol[i]),
		Attempt:            int(mt.AttemptCol[i]),
		Type:               mt.TypeCol[i],
		HostName:           mt.HostCol[i],
		ServiceDescription: mt.ServiceCol[i],
		StateType:          mt.StateTypeCol[i],
		PluginOutput:       mt.OutputCol[i],
		ContactName:        mt.ContactCol[i],
		CommandName:        mt.CommandCol[i],
		Message:            mt.MessageCol[i],
	}
}

// Rows returns every row in append order.
func (mt *MemTable) Rows() []core.LogEntry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	out := make([]core.LogEntry, len(mt.TimeCol))
	for i := range out {
		out[i] = mt.rowLocked(i)
	}
	return out
}

// TimeRange returns the first and last timestamp.
func (mt *MemTable) TimeRange() (minT, maxT int64) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if len(mt.TimeCol) == 0 {
		return 0, 0
	}
	return mt.TimeCol[0], mt.TimeCol[len(mt.TimeCol)-1]
}

// ClassCounts counts rows per log class.
func (mt *MemTable) ClassCounts() map[int]int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	counts := make(map[int]int64)
	for _, c := range mt.ClassCol {
		counts[int(c)]++
	}
	return counts
}
