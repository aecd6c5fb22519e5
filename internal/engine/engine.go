// Package engine executes query plans: it drives a table's rows through the
// filter, the projection or aggregation, sorting and the limit, and hands
// the result to a renderer.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/filter"
	"github.com/coffersTech/livequery/internal/query"
	"github.com/coffersTech/livequery/internal/render"
	"github.com/coffersTech/livequery/internal/stats"
	"github.com/coffersTech/livequery/internal/table"
)

// checkEvery is how many rows are scanned between context checks.
const checkEvery = 256

// Result summarizes one execution.
type Result struct {
	Rows    int // rows rendered
	Scanned int // rows read from the table
	Faults  int // rows skipped because an accessor panicked
}

type Engine struct {
	hub    *core.Hub
	logger *slog.Logger
}

// New returns an engine. hub may be nil if no plan ever waits.
func New(hub *core.Hub, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{hub: hub, logger: logger}
}

// Execute runs p and renders the result to w. A cancelled ctx aborts the
// query and returns ctx.Err(); a panic outside row evaluation becomes a 502.
func (e *Engine) Execute(ctx context.Context, p *query.Plan, w io.Writer) (res Result, err error) {
	x := &execution{plan: p, logger: e.logger.With("table", p.Table.Name)}
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("query panicked", "panic", r, "stack", string(debug.Stack()))
			err = &query.Error{Code: query.StatusInternal, Msg: fmt.Sprintf("internal error: %v", r)}
		}
		res = x.res
	}()

	if p.Wait != nil {
		x.phase("waiting")
		if err := e.wait(ctx, p.Wait); err != nil {
			return x.res, err
		}
	}

	out := render.New(w, render.Options{Format: p.Format, Separators: p.Separators, Offset: p.Offset})
	if p.StatsMode() {
		err = x.aggregate(ctx, out)
	} else {
		err = x.project(ctx, out)
	}
	if err != nil {
		return x.res, err
	}
	x.phase("done", "rows", x.res.Rows, "scanned", x.res.Scanned)
	return x.res, nil
}

type execution struct {
	plan   *query.Plan
	logger *slog.Logger
	res    Result
}

func (x *execution) phase(name string, args ...any) {
	x.logger.Debug("query phase", append([]any{"phase", name}, args...)...)
}

// guard evaluates one row. A panic in an accessor skips the row.
func (x *execution) guard(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			x.res.Faults++
			x.logger.Warn("accessor fault, row skipped", "panic", r)
			ok = false
		}
	}()
	fn()
	return true
}

// scan yields the rows passing the filter and checks ctx periodically.
func (x *execution) scan(ctx context.Context, yield func(table.Row) bool) error {
	p := x.plan
	hints := &table.Hints{IntRange: func(column string) (int64, int64) {
		return filter.IntRange(p.Filter, column)
	}}
	x.phase("filtering")
	for row := range p.Table.Rows(ctx, hints) {
		x.res.Scanned++
		if x.res.Scanned%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var match bool
		if !x.guard(func() { match = filter.Match(p.Filter, row) }) || !match {
			continue
		}
		if !yield(row) {
			break
		}
	}
	return ctx.Err()
}

func (x *execution) headers() []string {
	p := x.plan
	if !p.ColumnHeaders {
		return nil
	}
	names := make([]string, 0, len(p.Columns)+len(p.Stats))
	for _, c := range p.Columns {
		names = append(names, c.Name())
	}
	for i := range p.Stats {
		names = append(names, "stats_"+strconv.Itoa(i+1))
	}
	return names
}

type record struct {
	values []any
	keys   []any
}

// project renders plain rows. Without a sort the rows are streamed and the
// limit ends the scan early; with a sort the filtered rows are buffered.
func (x *execution) project(ctx context.Context, out render.Writer) error {
	p := x.plan
	if err := out.Begin(x.headers()); err != nil {
		return err
	}

	if len(p.Sort) == 0 {
		if p.Limit == 0 {
			return out.End()
		}
		var werr error
		err := x.scan(ctx, func(row table.Row) bool {
			var values []any
			if !x.guard(func() { values = projectRow(p.Columns, row) }) {
				return true
			}
			if werr = out.Row(values); werr != nil {
				return false
			}
			x.res.Rows++
			return p.Limit < 0 || x.res.Rows < p.Limit
		})
		if werr != nil {
			return werr
		}
		if err != nil {
			return err
		}
		return out.End()
	}

	x.phase("projecting")
	var records []record
	err := x.scan(ctx, func(row table.Row) bool {
		var r record
		ok := x.guard(func() {
			r.values = projectRow(p.Columns, row)
			r.keys = make([]any, len(p.Sort))
			for i, k := range p.Sort {
				r.keys[i] = k.Column.Value(row)
			}
		})
		if ok {
			records = append(records, r)
		}
		return true
	})
	if err != nil {
		return err
	}

	x.phase("sorting", "records", len(records))
	slices.SortStableFunc(records, func(a, b record) int {
		return compareKeys(p.Sort, a.keys, b.keys)
	})
	records = limit(records, p.Limit)

	x.phase("rendering")
	for _, r := range records {
		if err := out.Row(r.values); err != nil {
			return err
		}
		x.res.Rows++
	}
	return out.End()
}

// aggregate folds the filtered rows into groups. Only one accumulator
// record per distinct group key is kept.
func (x *execution) aggregate(ctx context.Context, out render.Writer) error {
	p := x.plan
	agg := stats.NewAggregator(p.Stats, p.Columns)
	x.phase("aggregating")
	err := x.scan(ctx, func(row table.Row) bool {
		x.guard(func() { agg.Add(row) })
		return true
	})
	if err != nil {
		return err
	}

	groups := agg.Results()
	if len(p.Sort) > 0 {
		x.phase("sorting", "groups", len(groups))
		slices.SortStableFunc(groups, func(a, b stats.Group) int {
			return compareKeys(p.Sort, groupKeys(p.Sort, a), groupKeys(p.Sort, b))
		})
	}
	groups = limit(groups, p.Limit)

	x.phase("rendering")
	if err := out.Begin(x.headers()); err != nil {
		return err
	}
	for _, g := range groups {
		if err := out.Row(append(slices.Clone(g.Key), g.Values...)); err != nil {
			return err
		}
		x.res.Rows++
	}
	return out.End()
}

func projectRow(cols []table.Column, row table.Row) []any {
	values := make([]any, len(cols))
	for i, c := range cols {
		values[i] = c.Value(row)
	}
	return values
}

func groupKeys(keys []query.SortKey, g stats.Group) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		if k.Stat >= 0 {
			out[i] = g.Values[k.Stat]
		} else {
			out[i] = g.Key[k.Group]
		}
	}
	return out
}

func limit[T any](s []T, n int) []T {
	if n >= 0 && len(s) > n {
		return s[:n]
	}
	return s
}
