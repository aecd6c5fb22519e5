package filter

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/grafana/regexp"

	"github.com/coffersTech/livequery/internal/table"
)

type Op int

const (
	OpEqual Op = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpMatch         // ~
	OpNotMatch      // !~
	OpEqualICase    // =~
	OpNotEqualICase // !=~
	OpMatchICase    // ~~
	OpNotMatchICase // !~~
)

var opNames = [...]string{"=", "!=", "<", "<=", ">", ">=", "~", "!~", "=~", "!=~", "~~", "!~~"}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "?"
	}
	return opNames[o]
}

func ParseOp(s string) (Op, bool) {
	for i, name := range opNames {
		if name == s {
			return Op(i), true
		}
	}
	return 0, false
}

// negated reports whether o is the negative form of another operator, and that operator.
func (o Op) negated() (Op, bool) {
	switch o {
	case OpNotEqual:
		return OpEqual, true
	case OpNotMatch:
		return OpMatch, true
	case OpNotEqualICase:
		return OpEqualICase, true
	case OpNotMatchICase:
		return OpMatchICase, true
	}
	return o, false
}

var ErrBlobFilter = errors.New("cannot filter on blob column")

// Compile builds a comparison of column c against value. offset is the
// client's clock offset in seconds (see Localtime); time references are
// shifted by it so they compare against server time.
func Compile(c table.Column, op Op, value string, offset int64) (*Compare, error) {
	cmp := &Compare{Column: c, Op: op, Value: value}
	var err error
	switch col := c.(type) {
	case *table.IntColumn:
		err = cmp.compileInt(col.Get, value, 0)
	case *table.TimeColumn:
		err = cmp.compileInt(col.Unix, value, offset)
	case *table.FloatColumn:
		err = cmp.compileFloat(col, value)
	case *table.StringColumn:
		var m func(string) bool
		if m, err = stringMatcher(op, value); err == nil {
			cmp.match = func(r table.Row) bool { return m(col.Get(r)) }
		}
	case *table.ListColumn:
		err = cmp.compileList(col, value)
	case *table.DictColumn:
		err = cmp.compileDict(col, value)
	case *table.BlobColumn:
		err = ErrBlobFilter
	default:
		err = fmt.Errorf("column %s: unsupported type", c.Name())
	}
	if err != nil {
		return nil, err
	}
	return cmp, nil
}

func numericOp[T int64 | float64](op Op) (func(a, b T) bool, error) {
	switch op {
	case OpEqual:
		return func(a, b T) bool { return a == b }, nil
	case OpNotEqual:
		return func(a, b T) bool { return a != b }, nil
	case OpLess:
		return func(a, b T) bool { return a < b }, nil
	case OpLessEqual:
		return func(a, b T) bool { return a <= b }, nil
	case OpGreater:
		return func(a, b T) bool { return a > b }, nil
	case OpGreaterEqual:
		return func(a, b T) bool { return a >= b }, nil
	}
	return nil, fmt.Errorf("operator %s not supported on numbers", op)
}

func (cmp *Compare) compileInt(get func(table.Row) int64, value string, offset int64) error {
	ref, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer '%s'", value)
	}
	ref -= offset
	test, err := numericOp[int64](cmp.Op)
	if err != nil {
		return err
	}
	cmp.ref, cmp.hasRef = ref, true
	cmp.match = func(r table.Row) bool { return test(get(r), ref) }
	return nil
}

func (cmp *Compare) compileFloat(col *table.FloatColumn, value string) error {
	ref, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("invalid number '%s'", value)
	}
	test, err := numericOp[float64](cmp.Op)
	if err != nil {
		return err
	}
	cmp.match = func(r table.Row) bool { return test(col.Get(r), ref) }
	return nil
}

func compileRegexp(pattern string, icase bool) (*regexp.Regexp, error) {
	if icase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression '%s': %w", pattern, err)
	}
	return re, nil
}

// stringMatcher returns the string test for op against ref.
func stringMatcher(op Op, ref string) (func(string) bool, error) {
	if pos, ok := op.negated(); ok {
		m, err := stringMatcher(pos, ref)
		if err != nil {
			return nil, err
		}
		return func(s string) bool { return !m(s) }, nil
	}
	switch op {
	case OpEqual:
		return func(s string) bool { return s == ref }, nil
	case OpLess:
		return func(s string) bool { return s < ref }, nil
	case OpLessEqual:
		return func(s string) bool { return s <= ref }, nil
	case OpGreater:
		return func(s string) bool { return s > ref }, nil
	case OpGreaterEqual:
		return func(s string) bool { return s >= ref }, nil
	case OpEqualICase:
		return func(s string) bool { return strings.EqualFold(s, ref) }, nil
	case OpMatch, OpMatchICase:
		re, err := compileRegexp(ref, op == OpMatchICase)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}

func (cmp *Compare) compileList(col *table.ListColumn, value string) error {
	var test func([]string) bool
	switch cmp.Op {
	case OpEqual, OpNotEqual:
		if value != "" {
			return fmt.Errorf("operator %s on list column %s needs an empty value", cmp.Op, col.Name())
		}
		empty := cmp.Op == OpEqual
		test = func(l []string) bool { return (len(l) == 0) == empty }
	case OpGreaterEqual:
		test = func(l []string) bool { return slices.Contains(l, value) }
	case OpLess:
		test = func(l []string) bool { return !slices.Contains(l, value) }
	case OpLessEqual, OpGreater:
		want := cmp.Op == OpLessEqual
		test = func(l []string) bool {
			found := slices.ContainsFunc(l, func(s string) bool { return strings.EqualFold(s, value) })
			return found == want
		}
	case OpMatch, OpMatchICase, OpNotMatch, OpNotMatchICase:
		re, err := compileRegexp(value, cmp.Op == OpMatchICase || cmp.Op == OpNotMatchICase)
		if err != nil {
			return err
		}
		want := cmp.Op == OpMatch || cmp.Op == OpMatchICase
		test = func(l []string) bool { return slices.ContainsFunc(l, re.MatchString) == want }
	default:
		return fmt.Errorf("operator %s not supported on list column %s", cmp.Op, col.Name())
	}
	cmp.match = func(r table.Row) bool { return test(col.Get(r)) }
	return nil
}

// compileDict handles "KEY REF": the string op applies to the entry KEY,
// which is empty when absent.
func (cmp *Compare) compileDict(col *table.DictColumn, value string) error {
	key, ref, _ := strings.Cut(strings.TrimLeft(value, " \t"), " ")
	if key == "" {
		return fmt.Errorf("dict filter on %s needs a key", col.Name())
	}
	m, err := stringMatcher(cmp.Op, strings.TrimLeft(ref, " \t"))
	if err != nil {
		return err
	}
	cmp.match = func(r table.Row) bool { return m(col.Get(r)[key]) }
	return nil
}
