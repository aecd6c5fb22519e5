package logstore

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/storage"
)

const DefaultMaxTableSize = 16 << 20

type Options struct {
	DataDir      string
	MaxTableSize int64
	Retention    time.Duration
	Logger       *slog.Logger
}

// generation is one MemTable together with the WAL file that backs it.
type generation struct {
	seq int64
	mt  *MemTable
	wal *WAL
}

func walPath(dir string, seq int64) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%d.log", seq))
}

// Store is the history behind the log table. It implements core.LogSink.
type Store struct {
	opts   Options
	logger *slog.Logger

	// mu guards active and flushing. Appends hold it shared, rotation exclusively.
	mu       sync.RWMutex
	active   *generation
	flushing []*generation
	nextSeq  int64

	writer *storage.ColumnWriter
	reader *storage.ColumnReader

	countersMu sync.RWMutex
	counters   Counters

	flushWG  sync.WaitGroup
	appended atomic.Int64
	rate     atomic.Uint64
}

// Open prepares dataDir and replays any WAL left by a previous run.
func Open(opts Options) (*Store, error) {
	if opts.MaxTableSize <= 0 {
		opts.MaxTableSize = DefaultMaxTableSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}

	w, err := storage.NewColumnWriter()
	if err != nil {
		return nil, err
	}
	r, err := storage.NewColumnReader()
	if err != nil {
		return nil, err
	}

	s := &Store{
		opts:     opts,
		logger:   opts.Logger,
		writer:   w,
		reader:   r,
		counters: loadCounters(opts.DataDir),
	}

	oldWALs, maxSeq, err := s.scanDir()
	if err != nil {
		return nil, err
	}
	s.nextSeq = maxSeq + 1
	if s.active, err = s.newGeneration(); err != nil {
		return nil, err
	}

	// crash recovery: move whatever the old WALs hold into the new generation
	var recovered int
	for _, path := range oldWALs {
		old, err := OpenWAL(path)
		if err != nil {
			return nil, err
		}
		rows, err := old.Replay()
		if err != nil {
			s.logger.Warn("wal replay stopped early", "file", path, "err", err)
		}
		for _, e := range rows {
			if err := s.active.wal.Write(e); err != nil {
				old.Close()
				return nil, err
			}
			s.active.mt.Append(e)
		}
		recovered += len(rows)
		old.Close()
		if err := os.Remove(path); err != nil {
			return nil, errors.Wrap(err, "remove replayed wal")
		}
	}
	if recovered > 0 {
		s.logger.Info("recovered log entries from wal", "entries", recovered)
	}
	return s, nil
}

// scanDir returns leftover WAL files in order and the highest sequence number in use.
func (s *Store) scanDir() ([]string, int64, error) {
	entries, err := os.ReadDir(s.opts.DataDir)
	if err != nil {
		return nil, 0, errors.Wrap(err, "read data dir")
	}
	type walFile struct {
		seq  int64
		path string
	}
	var (
		wals   []walFile
		maxSeq int64
	)
	for _, e := range entries {
		name := e.Name()
		if _, _, seq, err := storage.ParseSegmentName(name); err == nil {
			maxSeq = max(maxSeq, seq)
			continue
		}
		if strings.HasPrefix(name, "wal-") && strings.HasSuffix(name, ".log") {
			seq, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".log"), 10, 64)
			if err != nil {
				continue
			}
			maxSeq = max(maxSeq, seq)
			wals = append(wals, walFile{seq, filepath.Join(s.opts.DataDir, name)})
		}
	}
	slices.SortFunc(wals, func(a, b walFile) int { return int(a.seq - b.seq) })
	paths := make([]string, len(wals))
	for i, w := range wals {
		paths[i] = w.path
	}
	return paths, maxSeq, nil
}

// newGeneration must be called with mu held or before the store is shared.
func (s *Store) newGeneration() (*generation, error) {
	seq := s.nextSeq
	s.nextSeq++
	wal, err := OpenWAL(walPath(s.opts.DataDir, seq))
	if err != nil {
		return nil, err
	}
	return &generation{seq: seq, mt: NewMemTable(), wal: wal}, nil
}

// Append stores e. It never fails; write errors are logged.
func (s *Store) Append(e core.LogEntry) {
	s.mu.RLock()
	g := s.active
	if err := g.wal.Write(e); err != nil {
		s.logger.Error("wal write failed", "err", err)
	}
	g.mt.Append(e)
	s.mu.RUnlock()
	s.appended.Add(1)

	if g.mt.Size() >= s.opts.MaxTableSize {
		s.rotate(g)
	}
}

// rotate swaps g out for a fresh generation and flushes it in the background.
func (s *Store) rotate(g *generation) {
	s.mu.Lock()
	if s.active != g {
		s.mu.Unlock()
		return
	}
	next, err := s.newGeneration()
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("cannot open new wal, keeping current table", "err", err)
		return
	}
	s.active = next
	s.flushing = append(s.flushing, g)
	s.mu.Unlock()

	s.logger.Debug("memtable rotated", "size", humanize.Bytes(uint64(g.mt.Size())), "rows", g.mt.Len())
	s.flushWG.Add(1)
	go func() {
		defer s.flushWG.Done()
		if err := s.flush(g); err != nil {
			s.logger.Error("background flush failed", "err", err)
		}
	}()
}

// flush writes g to a segment, folds its rows into the counters and drops its WAL.
func (s *Store) flush(g *generation) error {
	rows := g.mt.Rows()
	if len(rows) > 0 {
		minT, maxT := g.mt.TimeRange()
		name := storage.SegmentName(minT, maxT, g.seq)
		if err := s.writer.WriteSegment(filepath.Join(s.opts.DataDir, name), rows); err != nil {
			return err
		}

		s.countersMu.Lock()
		s.counters.TotalEntries += int64(len(rows))
		s.counters.TotalBytes += g.mt.Size()
		for class, n := range g.mt.ClassCounts() {
			s.counters.ClassCounts[class] += n
		}
		if err := saveCounters(s.opts.DataDir, s.counters); err != nil {
			s.logger.Warn("counters not persisted", "err", err)
		}
		s.countersMu.Unlock()
		s.logger.Info("log segment written", "file", name, "rows", len(rows),
			"memory", humanize.Bytes(uint64(g.mt.Size())))
	}

	s.mu.Lock()
	s.flushing = slices.DeleteFunc(s.flushing, func(x *generation) bool { return x == g })
	s.mu.Unlock()

	g.wal.Close()
	return errors.Wrap(os.Remove(g.wal.path), "remove wal")
}

// Flush synchronously writes everything in memory to a segment.
func (s *Store) Flush() error {
	s.mu.Lock()
	g := s.active
	if g.mt.Len() == 0 {
		s.mu.Unlock()
		return nil
	}
	next, err := s.newGeneration()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.active = next
	s.flushing = append(s.flushing, g)
	s.mu.Unlock()
	return s.flush(g)
}

// Close waits for background flushes and syncs the active WAL. Entries still
// in memory are recovered from the WAL on the next Open.
func (s *Store) Close() error {
	s.flushWG.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reader.Close()
	if err := s.active.wal.Sync(); err != nil {
		return errors.Wrap(err, "sync wal")
	}
	return s.active.wal.Close()
}

// SyncWAL flushes the active WAL to disk.
func (s *Store) SyncWAL() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.wal.Sync()
}

type segmentFile struct {
	path       string
	minT, maxT int64
	seq        int64
}

func (s *Store) segments() ([]segmentFile, error) {
	entries, err := os.ReadDir(s.opts.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read data dir")
	}
	var out []segmentFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		minT, maxT, seq, err := storage.ParseSegmentName(e.Name())
		if err != nil {
			continue
		}
		out = append(out, segmentFile{filepath.Join(s.opts.DataDir, e.Name()), minT, maxT, seq})
	}
	return out, nil
}

func inRange(t, minT, maxT int64) bool {
	return (minT <= 0 || t >= minT) && (maxT <= 0 || t <= maxT)
}

// Scan yields entries with minT <= Time <= maxT, newest first. A bound of 0 is
// open. Every yielded entry is a fresh copy.
func (s *Store) Scan(ctx context.Context, minT, maxT int64) iter.Seq[*core.LogEntry] {
	return func(yield func(*core.LogEntry) bool) {
		s.mu.RLock()
		active := s.active.mt
		n := active.Len()
		tables := []*MemTable{active}
		inMemory := make(map[int64]bool, len(s.flushing))
		for i := len(s.flushing) - 1; i >= 0; i-- {
			tables = append(tables, s.flushing[i].mt)
			inMemory[s.flushing[i].seq] = true
		}
		files, err := s.segments()
		s.mu.RUnlock()
		if err != nil {
			s.logger.Warn("cannot list log segments", "err", err)
		}

		for ti, mt := range tables {
			rows := n
			if ti > 0 {
				rows = mt.Len()
			}
			for i := rows - 1; i >= 0; i-- {
				e := mt.Row(i)
				if !inRange(e.Time, minT, maxT) {
					continue
				}
				if !yield(&e) {
					return
				}
			}
		}

		slices.SortFunc(files, func(a, b segmentFile) int { return int(b.seq - a.seq) })
		for _, f := range files {
			if ctx.Err() != nil {
				return
			}
			if inMemory[f.seq] {
				continue
			}
			if (minT > 0 && f.maxT < minT) || (maxT > 0 && f.minT > maxT) {
				continue
			}
			rows, err := s.reader.ReadSegment(f.path, minT, maxT)
			if err != nil {
				// the cleaner may have removed it meanwhile
				if !os.IsNotExist(errors.Cause(err)) {
					s.logger.Warn("skipping unreadable segment", "err", err)
				}
				continue
			}
			for i := len(rows) - 1; i >= 0; i-- {
				if !yield(&rows[i]) {
					return
				}
			}
		}
	}
}

type Stats struct {
	Cached    int
	Total     int64
	Rate      float64
	Segments  int
	DiskBytes int64
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	cached := s.active.mt.Len()
	for _, g := range s.flushing {
		cached += g.mt.Len()
	}
	s.mu.RUnlock()

	s.countersMu.RLock()
	total := s.counters.TotalEntries
	s.countersMu.RUnlock()

	st := Stats{
		Cached: cached,
		Total:  total + int64(cached),
		Rate:   math.Float64frombits(s.rate.Load()),
	}
	files, _ := s.segments()
	st.Segments = len(files)
	for _, f := range files {
		if info, err := os.Stat(f.path); err == nil {
			st.DiskBytes += info.Size()
		}
	}
	return st
}

// RunRateTicker recomputes the append rate every interval until ctx is done.
func (s *Store) RunRateTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.appended.Swap(0)
			s.rate.Store(math.Float64bits(float64(n) / interval.Seconds()))
		}
	}
}
