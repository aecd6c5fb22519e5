// Package table defines tables and typed columns over core-owned objects.
//
// A column binds a name and a type to an accessor. Accessors receive an opaque
// Row and must not change it; a row of an unexpected type, including the nil
// row of a missing join target, yields the empty value of the column type.
package table

import (
	"time"
)

type Type int

const (
	TypeInt Type = iota
	TypeFloat
	TypeString
	TypeList
	TypeTime
	TypeBlob
	TypeDict
)

var typeNames = [...]string{"int", "float", "string", "list", "time", "blob", "dict"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// Row is one object of a table: a *core.Host, a *core.LogEntry and so on.
type Row = any

// Column is implemented by IntColumn, FloatColumn, StringColumn, ListColumn,
// TimeColumn, BlobColumn and DictColumn.
type Column interface {
	Name() string
	Description() string
	Type() Type
	// Value returns the typed value as int64, float64, string, []string,
	// time.Time, []byte or map[string]string.
	Value(r Row) any

	rebind(prefix string, through func(Row) Row) Column
}

type base struct {
	name string
	desc string
}

func (b base) Name() string        { return b.name }
func (b base) Description() string { return b.desc }

func prefixed(b base, prefix string) base {
	return base{name: prefix + b.name, desc: b.desc}
}

// bind adapts a typed accessor to Row, returning the zero value for rows of other types.
func bind[T, V any](fn func(T) V) func(Row) V {
	return func(r Row) V {
		t, ok := r.(T)
		if !ok {
			var zero V
			return zero
		}
		return fn(t)
	}
}

func chain[V any](through func(Row) Row, get func(Row) V) func(Row) V {
	return func(r Row) V { return get(through(r)) }
}

type IntColumn struct {
	base
	get func(Row) int64
}

func Int[T any](name, desc string, fn func(T) int64) *IntColumn {
	return &IntColumn{base{name, desc}, bind(fn)}
}

// Bool is an int column holding 0 or 1.
func Bool[T any](name, desc string, fn func(T) bool) *IntColumn {
	return Int(name, desc, func(t T) int64 {
		if fn(t) {
			return 1
		}
		return 0
	})
}

func (c *IntColumn) Type() Type        { return TypeInt }
func (c *IntColumn) Get(r Row) int64   { return c.get(r) }
func (c *IntColumn) Value(r Row) any   { return c.get(r) }
func (c *IntColumn) rebind(p string, through func(Row) Row) Column {
	return &IntColumn{prefixed(c.base, p), chain(through, c.get)}
}

type FloatColumn struct {
	base
	get func(Row) float64
}

func Float[T any](name, desc string, fn func(T) float64) *FloatColumn {
	return &FloatColumn{base{name, desc}, bind(fn)}
}

func (c *FloatColumn) Type() Type        { return TypeFloat }
func (c *FloatColumn) Get(r Row) float64 { return c.get(r) }
func (c *FloatColumn) Value(r Row) any   { return c.get(r) }
func (c *FloatColumn) rebind(p string, through func(Row) Row) Column {
	return &FloatColumn{prefixed(c.base, p), chain(through, c.get)}
}

type StringColumn struct {
	base
	get func(Row) string
}

func String[T any](name, desc string, fn func(T) string) *StringColumn {
	return &StringColumn{base{name, desc}, bind(fn)}
}

func (c *StringColumn) Type() Type       { return TypeString }
func (c *StringColumn) Get(r Row) string { return c.get(r) }
func (c *StringColumn) Value(r Row) any  { return c.get(r) }
func (c *StringColumn) rebind(p string, through func(Row) Row) Column {
	return &StringColumn{prefixed(c.base, p), chain(through, c.get)}
}

type ListColumn struct {
	base
	get func(Row) []string
}

func List[T any](name, desc string, fn func(T) []string) *ListColumn {
	return &ListColumn{base{name, desc}, bind(fn)}
}

func (c *ListColumn) Type() Type         { return TypeList }
func (c *ListColumn) Get(r Row) []string { return c.get(r) }
func (c *ListColumn) Value(r Row) any    { return c.get(r) }
func (c *ListColumn) rebind(p string, through func(Row) Row) Column {
	return &ListColumn{prefixed(c.base, p), chain(through, c.get)}
}

// TimeColumn holds a point in time; the zero time is the empty value and is
// rendered as 0.
type TimeColumn struct {
	base
	get func(Row) time.Time
}

func Time[T any](name, desc string, fn func(T) time.Time) *TimeColumn {
	return &TimeColumn{base{name, desc}, bind(fn)}
}

func (c *TimeColumn) Type() Type           { return TypeTime }
func (c *TimeColumn) Get(r Row) time.Time  { return c.get(r) }
func (c *TimeColumn) Value(r Row) any      { return c.get(r) }
func (c *TimeColumn) rebind(p string, through func(Row) Row) Column {
	return &TimeColumn{prefixed(c.base, p), chain(through, c.get)}
}

// Unix returns the column value in epoch seconds, 0 for the zero time.
func (c *TimeColumn) Unix(r Row) int64 {
	t := c.get(r)
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

type BlobColumn struct {
	base
	get func(Row) []byte
}

func Blob[T any](name, desc string, fn func(T) []byte) *BlobColumn {
	return &BlobColumn{base{name, desc}, bind(fn)}
}

func (c *BlobColumn) Type() Type       { return TypeBlob }
func (c *BlobColumn) Get(r Row) []byte { return c.get(r) }
func (c *BlobColumn) Value(r Row) any  { return c.get(r) }
func (c *BlobColumn) rebind(p string, through func(Row) Row) Column {
	return &BlobColumn{prefixed(c.base, p), chain(through, c.get)}
}

type DictColumn struct {
	base
	get func(Row) map[string]string
}

func Dict[T any](name, desc string, fn func(T) map[string]string) *DictColumn {
	return &DictColumn{base{name, desc}, bind(fn)}
}

func (c *DictColumn) Type() Type                  { return TypeDict }
func (c *DictColumn) Get(r Row) map[string]string { return c.get(r) }
func (c *DictColumn) Value(r Row) any             { return c.get(r) }
func (c *DictColumn) rebind(p string, through func(Row) Row) Column {
	return &DictColumn{prefixed(c.base, p), chain(through, c.get)}
}

// Numeric returns an accessor reading c as a number. Int, float and time
// columns are numeric; time reads as epoch seconds.
func Numeric(c Column) (func(Row) float64, bool) {
	switch c := c.(type) {
	case *IntColumn:
		return func(r Row) float64 { return float64(c.Get(r)) }, true
	case *FloatColumn:
		return c.Get, true
	case *TimeColumn:
		return func(r Row) float64 { return float64(c.Unix(r)) }, true
	}
	return nil, false
}
