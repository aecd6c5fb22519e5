package table

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parent struct {
	name string
	tags map[string]string
}

type child struct {
	name   string
	parent *parent
	load   float64
	seen   time.Time
	groups []string
}

func childColumns() []Column {
	return []Column{
		String("name", "Name", func(c *child) string { return c.name }),
		Float("load", "Load", func(c *child) float64 { return c.load }),
		Time("seen", "Last seen", func(c *child) time.Time { return c.seen }),
		List("groups", "Groups", func(c *child) []string { return c.groups }),
		Bool("orphan", "Whether the child has no parent", func(c *child) bool { return c.parent == nil }),
	}
}

func parentColumns() []Column {
	return []Column{
		String("name", "Name", func(p *parent) string { return p.name }),
		Int("tag_count", "Number of tags", func(p *parent) int64 { return int64(len(p.tags)) }),
		Dict("tags", "Tags", func(p *parent) map[string]string { return p.tags }),
		Blob("raw", "Raw", func(p *parent) []byte { return []byte(p.name) }),
	}
}

func TestColumnsAndJoin(t *testing.T) {
	p := &parent{name: "p1", tags: map[string]string{"a": "1"}}
	withParent := &child{name: "c1", parent: p, load: 0.5, seen: time.Unix(100, 0), groups: []string{"x"}}
	orphan := &child{name: "c2"}

	cols := append(childColumns(), Prefixed("parent_", Via(func(c *child) *parent { return c.parent }), parentColumns())...)
	tbl, err := New("children", "test table", Slice(func() []*child { return []*child{withParent, orphan} }), cols...)
	require.NoError(t, err)

	tests := []struct {
		column string
		row    Row
		want   any
	}{
		{"name", withParent, "c1"},
		{"load", withParent, 0.5},
		{"seen", withParent, time.Unix(100, 0)},
		{"groups", withParent, []string{"x"}},
		{"orphan", withParent, int64(0)},
		{"orphan", orphan, int64(1)},
		{"parent_name", withParent, "p1"},
		{"parent_tag_count", withParent, int64(1)},
		{"parent_tags", withParent, map[string]string{"a": "1"}},
		{"parent_raw", withParent, []byte("p1")},
		// missing join target yields empty values
		{"parent_name", orphan, ""},
		{"parent_tag_count", orphan, int64(0)},
		{"parent_tags", orphan, map[string]string(nil)},
		{"parent_raw", orphan, []byte(nil)},
		// foreign row type yields empty values
		{"name", "not a child", ""},
		{"seen", 42, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			c, ok := tbl.Column(tt.column)
			require.True(t, ok)
			assert.Equal(t, tt.want, c.Value(tt.row))
		})
	}

	c, _ := tbl.Column("parent_tags")
	assert.Equal(t, TypeDict, c.Type())
	assert.Equal(t, "dict", c.Type().String())

	var names []string
	for r := range tbl.Rows(context.Background(), nil) {
		names = append(names, r.(*child).name)
	}
	assert.Equal(t, []string{"c1", "c2"}, names)
}

func TestNewRejectsDuplicateColumns(t *testing.T) {
	cols := append(childColumns(), String("name", "again", func(c *child) string { return c.name }))
	_, err := New("dup", "", Slice(func() []*child { return nil }), cols...)
	assert.ErrorContains(t, err, "duplicate column name")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(New("a", "", Slice(func() []*child { return nil }), childColumns()...))
	r.MustRegister(New("b", "", Slice(func() []*parent { return nil }), parentColumns()...))

	tbl, ok := r.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "b", tbl.Name)
	_, ok = r.Lookup("c")
	assert.False(t, ok)

	assert.Equal(t, "a", r.Tables()[0].Name)
	assert.Len(t, r.Tables(), 2)

	other, _ := New("a", "", Slice(func() []*child { return nil }))
	assert.Error(t, r.Register(other))
	assert.Panics(t, func() {
		r.MustRegister(New("x", "", Slice(func() []*child { return nil }), append(childColumns(), childColumns()...)...))
	})
}

func TestNumeric(t *testing.T) {
	row := &child{load: 1.5, seen: time.Unix(7, 0)}
	cols := childColumns()

	load, ok := Numeric(cols[1])
	require.True(t, ok)
	assert.Equal(t, 1.5, load(row))

	seen, ok := Numeric(cols[2])
	require.True(t, ok)
	assert.Equal(t, 7.0, seen(row))

	_, ok = Numeric(cols[0])
	assert.False(t, ok)

	var h *Hints
	lo, hi := h.Range("seen")
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}
