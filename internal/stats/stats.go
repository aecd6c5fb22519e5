// Package stats computes Stats: aggregates over filtered rows, optionally
// grouped by column values.
package stats

import (
	"fmt"
	"math"

	"github.com/coffersTech/livequery/internal/filter"
	"github.com/coffersTech/livequery/internal/table"
)

type Kind int

const (
	Count Kind = iota
	Sum
	Min
	Max
	Avg
	Std
	SumInv
	AvgInv
)

var kindNames = [...]string{"count", "sum", "min", "max", "avg", "std", "suminv", "avginv"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind resolves an aggregate function name. "count" is not accepted;
// counts are expressed as filters.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames[1:] {
		if name == s {
			return Kind(i + 1), true
		}
	}
	return Count, false
}

// Spec is one Stats: column of the result.
type Spec struct {
	Kind   Kind
	Filter filter.Filter // Count only
	Column table.Column  // aggregates only

	value func(table.Row) float64
}

// NewCount counts the rows matching f.
func NewCount(f filter.Filter) *Spec {
	return &Spec{Kind: Count, Filter: f}
}

// NewAggregate applies k to a numeric column.
func NewAggregate(k Kind, c table.Column) (*Spec, error) {
	if k == Count {
		return nil, fmt.Errorf("count needs a filter")
	}
	value, ok := table.Numeric(c)
	if !ok {
		return nil, fmt.Errorf("cannot compute %s of %s column %s", k, c.Type(), c.Name())
	}
	return &Spec{Kind: k, Column: c, value: value}, nil
}

// accumulator holds running state for one spec in one group.
type accumulator struct {
	count  int64
	sum    float64
	sumSq  float64
	sumInv float64
	min    float64
	max    float64
}

func (a *accumulator) update(s *Spec, r table.Row) {
	if s.Kind == Count {
		if filter.Match(s.Filter, r) {
			a.count++
		}
		return
	}

	v := s.value(r)
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += v
	a.sumSq += v * v
	if v != 0 {
		a.sumInv += 1 / v
	}
}

// result finalizes the accumulator. Count yields int64, everything else float64.
func (a *accumulator) result(k Kind) any {
	switch k {
	case Count:
		return a.count
	case Sum:
		return a.sum
	case Min:
		return a.min
	case Max:
		return a.max
	case Avg:
		if a.count == 0 {
			return 0.0
		}
		return a.sum / float64(a.count)
	case Std:
		// sample standard deviation
		if a.count < 2 {
			return 0.0
		}
		n := float64(a.count)
		variance := (a.sumSq - a.sum*a.sum/n) / (n - 1)
		if variance < 0 {
			variance = 0
		}
		return math.Sqrt(variance)
	case SumInv:
		return a.sumInv
	case AvgInv:
		if a.count == 0 {
			return 0.0
		}
		return a.sumInv / float64(a.count)
	}
	return nil
}
