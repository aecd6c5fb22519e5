package stats

import (
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/coffersTech/livequery/internal/table"
)

// Group is one distinct group key with its finalized stats.
type Group struct {
	Key    []any
	Values []any
}

type group struct {
	key   []any
	canon string
	accs  []accumulator
}

// Aggregator folds rows into groups in first-seen order.
type Aggregator struct {
	specs   []*Spec
	by      []table.Column
	groups  []*group
	index   map[uint64][]int
	scratch []byte
}

// NewAggregator prepares an aggregation of specs grouped by the given
// columns. Without group columns there is exactly one group.
func NewAggregator(specs []*Spec, by []table.Column) *Aggregator {
	a := &Aggregator{specs: specs, by: by, index: make(map[uint64][]int)}
	if len(by) == 0 {
		a.groups = append(a.groups, &group{accs: make([]accumulator, len(specs))})
	}
	return a
}

// Add folds r into its group.
func (a *Aggregator) Add(r table.Row) {
	g := a.find(r)
	for i, s := range a.specs {
		g.accs[i].update(s, r)
	}
}

func (a *Aggregator) find(r table.Row) *group {
	if len(a.by) == 0 {
		return a.groups[0]
	}

	key := make([]any, len(a.by))
	buf := a.scratch[:0]
	for i, c := range a.by {
		key[i] = c.Value(r)
		buf = appendCanonical(buf, key[i])
		buf = append(buf, 0)
	}
	a.scratch = buf

	h := xxhash.Sum64(buf)
	for _, idx := range a.index[h] {
		if a.groups[idx].canon == string(buf) {
			return a.groups[idx]
		}
	}
	g := &group{key: key, canon: string(buf), accs: make([]accumulator, len(a.specs))}
	a.index[h] = append(a.index[h], len(a.groups))
	a.groups = append(a.groups, g)
	return g
}

// appendCanonical encodes v so that equal column values encode equally and
// different ones differently. Strings are length prefixed, so no byte they
// contain can be mistaken for a separator.
func appendCanonical(buf []byte, v any) []byte {
	switch v := v.(type) {
	case int64:
		return strconv.AppendInt(append(buf, 'i'), v, 10)
	case float64:
		return strconv.AppendUint(append(buf, 'f'), math.Float64bits(v), 16)
	case string:
		return appendString(append(buf, 's'), v)
	case time.Time:
		if v.IsZero() {
			return append(buf, 't', '0')
		}
		return strconv.AppendInt(append(buf, 't'), v.UnixNano(), 10)
	case []byte:
		return appendString(append(buf, 'b'), string(v))
	case []string:
		buf = strconv.AppendInt(append(buf, 'l'), int64(len(v)), 10)
		for _, s := range v {
			buf = appendString(buf, s)
		}
		return buf
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		buf = strconv.AppendInt(append(buf, 'd'), int64(len(keys)), 10)
		for _, k := range keys {
			buf = appendString(appendString(buf, k), v[k])
		}
		return buf
	}
	return append(buf, '?')
}

func appendString(buf []byte, s string) []byte {
	buf = strconv.AppendInt(append(buf, ':'), int64(len(s)), 10)
	return append(append(buf, ':'), s...)
}

// Len returns the number of groups seen so far.
func (a *Aggregator) Len() int { return len(a.groups) }

// Results finalizes every group in first-seen order.
func (a *Aggregator) Results() []Group {
	out := make([]Group, len(a.groups))
	for i, g := range a.groups {
		vals := make([]any, len(a.specs))
		for j, s := range a.specs {
			vals[j] = g.accs[j].result(s.Kind)
		}
		out[i] = Group{Key: g.key, Values: vals}
	}
	return out
}
