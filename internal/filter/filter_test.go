package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/livequery/internal/table"
)

type obj struct {
	name   string
	state  int64
	load   float64
	last   time.Time
	groups []string
	vars   map[string]string
}

var (
	colName   = table.String("name", "", func(o *obj) string { return o.name })
	colState  = table.Int("state", "", func(o *obj) int64 { return o.state })
	colLoad   = table.Float("load", "", func(o *obj) float64 { return o.load })
	colLast   = table.Time("last", "", func(o *obj) time.Time { return o.last })
	colGroups = table.List("groups", "", func(o *obj) []string { return o.groups })
	colVars   = table.Dict("vars", "", func(o *obj) map[string]string { return o.vars })
	colRaw    = table.Blob("raw", "", func(o *obj) []byte { return nil })
)

var sample = &obj{
	name:   "web01",
	state:  2,
	load:   0.75,
	last:   time.Unix(1000, 0),
	groups: []string{"Linux", "web"},
	vars:   map[string]string{"TAG": "prod"},
}

func mustCompile(t *testing.T, c table.Column, op string, value string) *Compare {
	t.Helper()
	o, ok := ParseOp(op)
	require.True(t, ok, "op %s", op)
	cmp, err := Compile(c, o, value, 0)
	require.NoError(t, err)
	return cmp
}

func TestCompare(t *testing.T) {
	empty := &obj{}
	tests := []struct {
		name  string
		col   table.Column
		op    string
		value string
		row   *obj
		want  bool
	}{
		{"int eq", colState, "=", "2", sample, true},
		{"int ne", colState, "!=", "2", sample, false},
		{"int lt", colState, "<", "3", sample, true},
		{"int ge", colState, ">=", "3", sample, false},
		{"float gt", colLoad, ">", "0.5", sample, true},
		{"float le", colLoad, "<=", "0.5", sample, false},
		{"time gt", colLast, ">", "999", sample, true},
		{"zero time is 0", colLast, "=", "0", empty, true},
		{"string eq", colName, "=", "web01", sample, true},
		{"string lexicographic", colName, "<", "web02", sample, true},
		{"string regex", colName, "~", "^web[0-9]+$", sample, true},
		{"string regex partial", colName, "~", "eb0", sample, true},
		{"string not regex", colName, "!~", "^db", sample, true},
		{"string icase eq", colName, "=~", "WEB01", sample, true},
		{"string icase ne", colName, "!=~", "WEB01", sample, false},
		{"string icase regex", colName, "~~", "^WEB", sample, true},
		{"string not icase regex", colName, "!~~", "^WEB", sample, false},
		{"list empty", colGroups, "=", "", empty, true},
		{"list not empty", colGroups, "!=", "", sample, true},
		{"list contains", colGroups, ">=", "web", sample, true},
		{"list contains is exact", colGroups, ">=", "linux", sample, false},
		{"list not contains", colGroups, "<", "db", sample, true},
		{"list icase contains", colGroups, "<=", "linux", sample, true},
		{"list icase not contains", colGroups, ">", "LINUX", sample, false},
		{"list element regex", colGroups, "~", "^we", sample, true},
		{"list element icase regex", colGroups, "~~", "^LIN", sample, true},
		{"list no element matches", colGroups, "!~", "^db", sample, true},
		{"list no element icase", colGroups, "!~~", "^LIN", sample, false},
		{"dict entry", colVars, "=", "TAG prod", sample, true},
		{"dict missing entry is empty", colVars, "=", "OTHER ", sample, true},
		{"dict regex", colVars, "~", "TAG ^pr", sample, true},
		{"dict icase", colVars, "=~", "TAG PROD", sample, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp := mustCompile(t, tt.col, tt.op, tt.value)
			assert.Equal(t, tt.want, Match(cmp, tt.row))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		col   table.Column
		op    Op
		value string
	}{
		{"int not a number", colState, OpEqual, "two"},
		{"float not a number", colLoad, OpEqual, "x"},
		{"regex on int", colState, OpMatch, "2"},
		{"bad regex", colName, OpMatch, "("},
		{"list equality with value", colGroups, OpEqual, "web"},
		{"list icase equality", colGroups, OpEqualICase, ""},
		{"blob", colRaw, OpEqual, ""},
		{"dict without key", colVars, OpEqual, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.col, tt.op, tt.value, 0)
			assert.Error(t, err)
		})
	}

	_, err := Compile(colRaw, OpEqual, "", 0)
	assert.ErrorIs(t, err, ErrBlobFilter)
}

func TestCombinators(t *testing.T) {
	yes := mustCompile(t, colState, "=", "2")
	no := mustCompile(t, colState, "=", "0")

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"nil matches", nil, true},
		{"empty and is true", &And{}, true},
		{"empty or is false", &Or{}, false},
		{"and", &And{Children: []Filter{yes, no}}, false},
		{"or", &Or{Children: []Filter{no, yes}}, true},
		{"not", &Not{Expr: no}, true},
		{"nested", &Not{Expr: &And{Children: []Filter{yes, &Or{Children: []Filter{no}}}}}, true},
		{"combine single", Combine(false, yes), true},
		{"combine or", Combine(true, no, no), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.f, sample))
		})
	}
}

func TestLocaltimeOffset(t *testing.T) {
	// client clock one hour ahead: its 4600 is our 1000
	cmp, err := Compile(colLast, OpEqual, "4600", 3600)
	require.NoError(t, err)
	assert.True(t, Match(cmp, sample))
}

func TestIntRange(t *testing.T) {
	gt := mustCompile(t, colLast, ">", "100")
	le := mustCompile(t, colLast, "<=", "200")
	ge := mustCompile(t, colLast, ">=", "150")
	other := mustCompile(t, colState, "<", "5")
	name := mustCompile(t, colName, "<", "x")

	tests := []struct {
		name   string
		f      Filter
		lo, hi int64
	}{
		{"none", nil, 0, 0},
		{"single", gt, 101, 0},
		{"and", &And{Children: []Filter{gt, le, ge, other}}, 150, 200},
		{"or ignored", &Or{Children: []Filter{gt, le}}, 0, 0},
		{"not ignored", &Not{Expr: gt}, 0, 0},
		{"other column", other, 0, 0},
		{"string column same name", name, 0, 0},
		{"equal", mustCompile(t, colLast, "=", "7"), 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := IntRange(tt.f, "last")
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}
