package logstore

import (
	"context"
	"os"
	"time"
)

// RunCleaner removes segments older than the retention every interval until
// ctx is done. A retention of zero keeps everything.
func (s *Store) RunCleaner(ctx context.Context, interval time.Duration) {
	if s.opts.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("cleaner started", "retention", s.opts.Retention, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.PurgeExpired(now)
		}
	}
}

// PurgeExpired deletes every segment whose newest entry is older than now
// minus the retention, and returns how many were removed.
func (s *Store) PurgeExpired(now time.Time) int {
	if s.opts.Retention <= 0 {
		return 0
	}
	files, err := s.segments()
	if err != nil {
		s.logger.Warn("cleaner cannot list segments", "err", err)
		return 0
	}
	threshold := now.Add(-s.opts.Retention).Unix()

	var removed int
	for _, f := range files {
		if f.maxT >= threshold {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			s.logger.Warn("cleaner cannot delete segment", "file", f.path, "err", err)
			continue
		}
		removed++
		s.logger.Info("expired segment deleted", "file", f.path)
	}
	return removed
}
