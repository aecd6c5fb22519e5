package table

import (
	"context"
	"fmt"
	"iter"
)

// Hints describe what the query will filter on so a table can skip rows
// early. They are advisory; the engine filters every yielded row anyway.
type Hints struct {
	// IntRange returns inclusive bounds the filter implies for an int or time
	// column; 0 means unbounded.
	IntRange func(column string) (lo, hi int64)
}

// Range is IntRange that tolerates nil hints.
func (h *Hints) Range(column string) (lo, hi int64) {
	if h == nil || h.IntRange == nil {
		return 0, 0
	}
	return h.IntRange(column)
}

// RowsFunc enumerates the live rows of a table. It must not hold core locks
// while yielding.
type RowsFunc func(ctx context.Context, hints *Hints) iter.Seq[Row]

// LookupFunc resolves an object key (as given to WaitObject) to a row.
type LookupFunc func(key string) (Row, bool)

// Table is a named, ordered list of columns over a row source. Tables never
// own their rows.
type Table struct {
	Name        string
	Description string

	rows    RowsFunc
	lookup  LookupFunc
	columns []Column
	index   map[string]Column
}

// New builds a table and rejects duplicate column names.
func New(name, description string, rows RowsFunc, cols ...Column) (*Table, error) {
	t := &Table{
		Name:        name,
		Description: description,
		rows:        rows,
		columns:     cols,
		index:       make(map[string]Column, len(cols)),
	}
	for _, c := range cols {
		if _, ok := t.index[c.Name()]; ok {
			return nil, fmt.Errorf("table %s: duplicate column %s", name, c.Name())
		}
		t.index[c.Name()] = c
	}
	return t, nil
}

// WithLookup sets the object lookup used by WaitObject.
func (t *Table) WithLookup(fn LookupFunc) *Table {
	t.lookup = fn
	return t
}

func (t *Table) Columns() []Column { return t.columns }

func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.index[name]
	return c, ok
}

func (t *Table) Rows(ctx context.Context, hints *Hints) iter.Seq[Row] {
	return t.rows(ctx, hints)
}

// Lookup resolves key. Tables without a lookup find nothing.
func (t *Table) Lookup(key string) (Row, bool) {
	if t.lookup == nil {
		return nil, false
	}
	return t.lookup(key)
}

func (t *Table) HasLookup() bool { return t.lookup != nil }

// Slice is a RowsFunc over a snapshot function such as core.Store.Hosts.
func Slice[T any](snapshot func() []T) RowsFunc {
	return func(_ context.Context, _ *Hints) iter.Seq[Row] {
		return func(yield func(Row) bool) {
			for _, v := range snapshot() {
				if !yield(v) {
					return
				}
			}
		}
	}
}
