// Package query parses request programs into immutable plans.
package query

import (
	"time"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/filter"
	"github.com/coffersTech/livequery/internal/render"
	"github.com/coffersTech/livequery/internal/stats"
	"github.com/coffersTech/livequery/internal/table"
)

// SortKey orders result rows. In stats mode it refers either to a group
// column (Group >= 0) or to a stats column (Stat >= 0); otherwise Column is set.
type SortKey struct {
	Column table.Column
	Group  int
	Stat   int
	Desc   bool
}

// Wait describes a blocking precondition of a query.
type Wait struct {
	Object     table.Row // nil when only a trigger is awaited
	ObjectKey  string
	Condition  filter.Filter
	Trigger    core.Trigger
	Timeout    time.Duration
	HasTimeout bool
}

// Plan is a parsed request. It is never modified after Parse returns.
type Plan struct {
	Table *table.Table

	// Columns is the projection, or the group-by key in stats mode.
	Columns         []table.Column
	ExplicitColumns bool

	Filter filter.Filter
	Stats  []*stats.Spec
	Sort   []SortKey
	Limit  int // -1 for no limit

	Format         render.Format
	Separators     render.Separators
	ColumnHeaders  bool
	ResponseHeader bool // fixed16
	KeepAlive      bool

	// Offset is the client clock minus the server clock in seconds,
	// rounded to half an hour.
	Offset int64

	Wait *Wait
}

// StatsMode reports whether the plan aggregates.
func (p *Plan) StatsMode() bool { return len(p.Stats) > 0 }
