// Package filter compiles and evaluates row filters.
package filter

import (
	"github.com/coffersTech/livequery/internal/table"
)

// Filter is implemented by every filter node.
type Filter interface {
	node() // marker method
}

// And matches when every child matches. An empty And matches everything.
type And struct {
	Children []Filter
}

func (*And) node() {}

// Or matches when any child matches. An empty Or matches nothing.
type Or struct {
	Children []Filter
}

func (*Or) node() {}

// Not negates its inner filter.
type Not struct {
	Expr Filter
}

func (*Not) node() {}

// Compare tests one column of a row against a reference value. It is built
// by Compile, which checks the value against the column type.
type Compare struct {
	Column table.Column
	Op     Op
	Value  string

	// ref is the parsed reference of int and time comparisons.
	ref    int64
	hasRef bool
	match  func(table.Row) bool
}

func (*Compare) node() {}

// Match evaluates f against r. A nil filter matches every row.
func Match(f Filter, r table.Row) bool {
	if f == nil {
		return true
	}
	switch n := f.(type) {
	case *And:
		for _, c := range n.Children {
			if !Match(c, r) {
				return false
			}
		}
		return true
	case *Or:
		for _, c := range n.Children {
			if Match(c, r) {
				return true
			}
		}
		return false
	case *Not:
		return !Match(n.Expr, r)
	case *Compare:
		return n.match(r)
	default:
		return false
	}
}

// Combine builds the And (or Or) of fs, collapsing the single-child case.
func Combine(or bool, fs ...Filter) Filter {
	if len(fs) == 1 {
		return fs[0]
	}
	if or {
		return &Or{Children: fs}
	}
	return &And{Children: fs}
}
