package tables

import (
	"context"
	"iter"

	"github.com/coffersTech/livequery/internal/table"
)

type columnRow struct {
	table  string
	column table.Column
}

// columnsTable describes every column of every registered table, itself
// included.
func columnsTable(reg *table.Registry) (*table.Table, error) {
	rows := func(context.Context, *table.Hints) iter.Seq[table.Row] {
		return func(yield func(table.Row) bool) {
			for _, t := range reg.Tables() {
				for _, c := range t.Columns() {
					if !yield(&columnRow{table: t.Name, column: c}) {
						return
					}
				}
			}
		}
	}
	return table.New("columns", "Columns of all tables", rows,
		table.String("table", "Table name", func(r *columnRow) string { return r.table }),
		table.String("name", "Column name", func(r *columnRow) string { return r.column.Name() }),
		table.String("type", "int, float, string, list, time, blob or dict", func(r *columnRow) string { return r.column.Type().String() }),
		table.String("description", "Description", func(r *columnRow) string { return r.column.Description() }),
	)
}
