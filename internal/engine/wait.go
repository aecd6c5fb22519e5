package engine

import (
	"context"
	"time"

	"github.com/coffersTech/livequery/internal/filter"
	"github.com/coffersTech/livequery/internal/query"
)

type waitStopKey struct{}

// WithWaitStop returns a context whose waits also end when stop is closed.
// The query then runs against the current state, as after a timeout.
func WithWaitStop(ctx context.Context, stop <-chan struct{}) context.Context {
	return context.WithValue(ctx, waitStopKey{}, stop)
}

// wait blocks until the wait condition holds, the timeout elapses, the wait
// is stopped or ctx is done. Only the latter is an error: a timeout lets the
// query run against the current state. Without a condition the next
// notification of the trigger ends the wait.
func (e *Engine) wait(ctx context.Context, w *query.Wait) error {
	if e.hub == nil {
		return nil
	}
	watch := e.hub.Watch(w.Trigger)
	defer watch.Close()

	var deadline <-chan time.Time
	if w.HasTimeout && w.Timeout > 0 {
		timer := time.NewTimer(w.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	stop, _ := ctx.Value(waitStopKey{}).(<-chan struct{})

	for {
		// subscribe before testing so a change in between is not missed
		changed := watch.Changed()
		if w.Condition != nil && e.holds(w) {
			return nil
		}
		if w.HasTimeout && w.Timeout == 0 {
			return nil
		}

		select {
		case <-changed:
			if w.Condition == nil {
				return nil
			}
		case <-deadline:
			return nil
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) holds(w *query.Wait) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("wait condition panicked", "object", w.ObjectKey, "panic", r)
			ok = false
		}
	}()
	return filter.Match(w.Condition, w.Object)
}
