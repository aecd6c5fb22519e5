package query

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/filter"
	"github.com/coffersTech/livequery/internal/render"
	"github.com/coffersTech/livequery/internal/stats"
	"github.com/coffersTech/livequery/internal/table"
)

// Resolver finds tables by name. *table.Registry implements it.
type Resolver interface {
	Lookup(name string) (*table.Table, bool)
}

// IgnoredHeaders are accepted and ignored for compatibility with existing
// clients. Every other unknown header is an error.
var IgnoredHeaders = map[string]string{
	"AuthUser": "authorization is done by the embedding process",
}

type Option func(*parser)

// WithNow sets the server clock used to compute the Localtime offset.
func WithNow(now func() time.Time) Option {
	return func(p *parser) { p.now = now }
}

type sortSpec struct {
	name string
	desc bool
	line string
}

type parser struct {
	now  func() time.Time
	plan *Plan

	filters     []filter.Filter
	statSpecs   []*stats.Spec
	waitFilters []filter.Filter
	sorts       []sortSpec
	headersSet  bool
	waitSeen    bool
	waitTimeout time.Duration
	hasTimeout  bool
	waitObject  *string
	waitTrigger core.Trigger
}

// Parse turns a request program into a plan. lines holds the request
// without its terminating blank line.
func Parse(lines []string, reg Resolver, opts ...Option) (*Plan, error) {
	p := &parser{now: time.Now, waitTrigger: core.TriggerAll}
	for _, opt := range opts {
		opt(p)
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, badRequest("empty request")
	}

	first := strings.TrimSpace(lines[0])
	name, ok := strings.CutPrefix(first, "GET ")
	if !ok {
		return nil, inLine(badRequest("invalid request method"), first)
	}
	name = strings.TrimSpace(name)
	tbl, ok := reg.Lookup(name)
	if !ok {
		return nil, notFound("Invalid GET request, no such table '%s'", name)
	}

	p.plan = &Plan{
		Table:      tbl,
		Limit:      -1,
		Format:     render.FormatCSV,
		Separators: render.DefaultSeparators,
	}

	// time filters depend on Localtime wherever it appears
	for _, line := range lines[1:] {
		if kw, args, ok := splitHeader(line); ok && kw == "Localtime" {
			if err := p.localtime(args); err != nil {
				return nil, inLine(err, line)
			}
		}
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kw, args, ok := splitHeader(line)
		if !ok {
			return nil, inLine(badRequest("missing ':' in header"), line)
		}
		if err := p.header(kw, args, line); err != nil {
			return nil, inLine(err, line)
		}
	}

	if err := p.finish(); err != nil {
		return nil, err
	}
	return p.plan, nil
}

func splitHeader(line string) (keyword, args string, ok bool) {
	keyword, args, ok = strings.Cut(line, ":")
	return strings.TrimSpace(keyword), strings.TrimSpace(args), ok
}

func (p *parser) header(kw, args, line string) error {
	switch kw {
	case "Columns":
		return p.columns(args)
	case "Filter":
		f, err := p.compare(args)
		if err != nil {
			return err
		}
		p.filters = append(p.filters, f)
	case "And", "Or":
		return combine(&p.filters, args, kw == "Or")
	case "Negate":
		return negate(&p.filters)
	case "Stats":
		return p.stats(args)
	case "StatsAnd", "StatsOr":
		return p.combineStats(args, kw == "StatsOr")
	case "StatsNegate":
		return p.negateStats()
	case "StatsGroupBy":
		return p.columns(args)
	case "Sort", "OrderBy":
		fields := strings.Fields(args)
		if len(fields) == 0 || len(fields) > 2 {
			return badRequest("Sort needs a column and an optional direction")
		}
		s := sortSpec{name: fields[0], line: line}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				s.desc = true
			default:
				return badRequest("invalid sort direction '%s'", fields[1])
			}
		}
		p.sorts = append(p.sorts, s)
	case "Limit":
		n, err := strconv.Atoi(args)
		if err != nil || n < 0 {
			return badRequest("expected a non-negative integer")
		}
		p.plan.Limit = n
	case "OutputFormat":
		f, ok := render.ParseFormat(args)
		if !ok {
			return badRequest("unknown output format '%s'", args)
		}
		p.plan.Format = f
	case "Separators":
		seps, err := render.ParseSeparators(args)
		if err != nil {
			return badRequest("%s", err)
		}
		p.plan.Separators = seps
	case "ColumnHeaders":
		on, err := onOff(args)
		if err != nil {
			return err
		}
		p.plan.ColumnHeaders = on
		p.headersSet = true
	case "Localtime":
		// handled before the main pass
	case "KeepAlive":
		on, err := onOff(args)
		if err != nil {
			return err
		}
		p.plan.KeepAlive = on
	case "ResponseHeader":
		switch args {
		case "fixed16":
			p.plan.ResponseHeader = true
		case "off":
			p.plan.ResponseHeader = false
		default:
			return badRequest("invalid response header '%s'", args)
		}
	case "WaitObject":
		p.waitSeen = true
		p.waitObject = &args
	case "WaitCondition":
		p.waitSeen = true
		f, err := p.compare(args)
		if err != nil {
			return err
		}
		p.waitFilters = append(p.waitFilters, f)
	case "WaitConditionAnd", "WaitConditionOr":
		p.waitSeen = true
		return combine(&p.waitFilters, args, kw == "WaitConditionOr")
	case "WaitConditionNegate":
		p.waitSeen = true
		return negate(&p.waitFilters)
	case "WaitTrigger":
		t, ok := core.ParseTrigger(args)
		if !ok {
			return badRequest("unknown wait trigger '%s'", args)
		}
		p.waitSeen = true
		p.waitTrigger = t
	case "WaitTimeout":
		ms, err := strconv.ParseInt(args, 10, 64)
		if err != nil || ms < 0 {
			return badRequest("expected a non-negative timeout in milliseconds")
		}
		p.waitSeen = true
		p.waitTimeout = time.Duration(ms) * time.Millisecond
		p.hasTimeout = true
	default:
		if _, ok := IgnoredHeaders[kw]; ok {
			return nil
		}
		return badRequest("Undefined request header '%s'", kw)
	}
	return nil
}

func onOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, badRequest("expected 'on' or 'off'")
}

func (p *parser) localtime(args string) error {
	client, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return badRequest("invalid Localtime '%s'", args)
	}
	const halfHour = 1800
	diff := float64(client - p.now().Unix())
	p.plan.Offset = int64(math.Round(diff/halfHour)) * halfHour
	return nil
}

func (p *parser) column(name string) (table.Column, error) {
	c, ok := p.plan.Table.Column(name)
	if !ok {
		return nil, badRequest("Table '%s' has no column '%s'", p.plan.Table.Name, name)
	}
	return c, nil
}

func (p *parser) columns(args string) error {
	for _, name := range strings.Fields(args) {
		c, err := p.column(name)
		if err != nil {
			return err
		}
		p.plan.Columns = append(p.plan.Columns, c)
	}
	p.plan.ExplicitColumns = true
	return nil
}

// compare parses "<column> <operator> <value>". The value is the rest of
// the line and may be empty or contain blanks.
func (p *parser) compare(args string) (filter.Filter, error) {
	name, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimLeft(rest, " ")
	opName, value, _ := strings.Cut(rest, " ")
	value = strings.TrimLeft(value, " ")
	if name == "" || opName == "" {
		return nil, badRequest("expected '<column> <operator> <value>'")
	}

	c, err := p.column(name)
	if err != nil {
		return nil, err
	}
	op, ok := filter.ParseOp(opName)
	if !ok {
		return nil, badRequest("unknown operator '%s'", opName)
	}
	cmp, err := filter.Compile(c, op, value, p.plan.Offset)
	if err != nil {
		return nil, badRequest("%s", err)
	}
	return cmp, nil
}

func parseCount(args string) (int, error) {
	n, err := strconv.Atoi(args)
	if err != nil || n < 0 {
		return 0, badRequest("expected a non-negative integer")
	}
	return n, nil
}

// combine pops n filters and pushes their conjunction or disjunction.
// n == 0 pushes the neutral element: true for And, false for Or.
func combine(stack *[]filter.Filter, args string, or bool) error {
	n, err := parseCount(args)
	if err != nil {
		return err
	}
	if n > len(*stack) {
		return badRequest("cannot combine %d filters, only %d on stack", n, len(*stack))
	}
	if n == 0 {
		if or {
			*stack = append(*stack, &filter.Or{})
		} else {
			*stack = append(*stack, &filter.And{})
		}
		return nil
	}
	at := len(*stack) - n
	children := append([]filter.Filter(nil), (*stack)[at:]...)
	*stack = append((*stack)[:at], filter.Combine(or, children...))
	return nil
}

func negate(stack *[]filter.Filter) error {
	if len(*stack) == 0 {
		return badRequest("nothing to negate")
	}
	last := len(*stack) - 1
	(*stack)[last] = &filter.Not{Expr: (*stack)[last]}
	return nil
}

// stats handles "<func> <column>", "<column> <func>" and count filters.
func (p *parser) stats(args string) error {
	if fields := strings.Fields(args); len(fields) == 2 {
		kindName, colName := fields[0], fields[1]
		k, ok := stats.ParseKind(kindName)
		if !ok {
			colName, kindName = fields[0], fields[1]
			k, ok = stats.ParseKind(kindName)
		}
		if ok {
			c, err := p.column(colName)
			if err != nil {
				return err
			}
			spec, err := stats.NewAggregate(k, c)
			if err != nil {
				return badRequest("%s", err)
			}
			p.statSpecs = append(p.statSpecs, spec)
			return nil
		}
	}

	f, err := p.compare(args)
	if err != nil {
		return err
	}
	p.statSpecs = append(p.statSpecs, stats.NewCount(f))
	return nil
}

func (p *parser) popCounts(n int) ([]filter.Filter, error) {
	if n > len(p.statSpecs) {
		return nil, badRequest("cannot combine %d stats, only %d on stack", n, len(p.statSpecs))
	}
	at := len(p.statSpecs) - n
	fs := make([]filter.Filter, 0, n)
	for _, s := range p.statSpecs[at:] {
		if s.Kind != stats.Count {
			return nil, badRequest("cannot combine %s stats", s.Kind)
		}
		fs = append(fs, s.Filter)
	}
	p.statSpecs = p.statSpecs[:at]
	return fs, nil
}

func (p *parser) combineStats(args string, or bool) error {
	n, err := parseCount(args)
	if err != nil {
		return err
	}
	fs, err := p.popCounts(n)
	if err != nil {
		return err
	}
	var f filter.Filter
	switch {
	case n == 0 && or:
		f = &filter.Or{}
	case n == 0:
		f = &filter.And{}
	default:
		f = filter.Combine(or, fs...)
	}
	p.statSpecs = append(p.statSpecs, stats.NewCount(f))
	return nil
}

func (p *parser) negateStats() error {
	fs, err := p.popCounts(1)
	if err != nil {
		return err
	}
	p.statSpecs = append(p.statSpecs, stats.NewCount(&filter.Not{Expr: fs[0]}))
	return nil
}

func (p *parser) finish() error {
	plan := p.plan
	if len(p.filters) > 0 {
		plan.Filter = filter.Combine(false, p.filters...)
	}
	plan.Stats = p.statSpecs

	if !plan.ExplicitColumns && !plan.StatsMode() {
		plan.Columns = plan.Table.Columns()
	}
	if !p.headersSet {
		plan.ColumnHeaders = !plan.ExplicitColumns && !plan.StatsMode()
	}

	for _, s := range p.sorts {
		key, err := p.sortKey(s)
		if err != nil {
			return inLine(err, s.line)
		}
		plan.Sort = append(plan.Sort, key)
	}

	if p.waitSeen {
		w, err := p.wait()
		if err != nil {
			return err
		}
		plan.Wait = w
	}
	return nil
}

func (p *parser) sortKey(s sortSpec) (SortKey, error) {
	key := SortKey{Group: -1, Stat: -1, Desc: s.desc}
	if !p.plan.StatsMode() {
		c, err := p.column(s.name)
		if err != nil {
			return key, err
		}
		key.Column = c
		return key, nil
	}

	if n, ok := strings.CutPrefix(s.name, "stats_"); ok {
		i, err := strconv.Atoi(n)
		if err != nil || i < 1 || i > len(p.plan.Stats) {
			return key, badRequest("no such stats column '%s'", s.name)
		}
		key.Stat = i - 1
		return key, nil
	}
	for i, c := range p.plan.Columns {
		if c.Name() == s.name {
			key.Group, key.Column = i, c
			return key, nil
		}
	}
	return key, badRequest("can only sort by a group column or stats_N, not '%s'", s.name)
}

func (p *parser) wait() (*Wait, error) {
	tbl := p.plan.Table
	w := &Wait{
		Trigger:    p.waitTrigger,
		Timeout:    p.waitTimeout,
		HasTimeout: p.hasTimeout,
	}
	if len(p.waitFilters) > 0 {
		w.Condition = filter.Combine(false, p.waitFilters...)
	}

	switch {
	case p.waitObject != nil:
		if !tbl.HasLookup() {
			return nil, badRequest("table '%s' does not support WaitObject", tbl.Name)
		}
		obj, ok := tbl.Lookup(*p.waitObject)
		if !ok {
			return nil, notFound("WaitObject '%s' not found in table '%s'", *p.waitObject, tbl.Name)
		}
		w.Object, w.ObjectKey = obj, *p.waitObject
	case w.Condition != nil:
		// single-row tables resolve the empty key to their only row
		obj, ok := tbl.Lookup("")
		if !ok {
			return nil, badRequest("WaitCondition needs a WaitObject on table '%s'", tbl.Name)
		}
		w.Object = obj
	}
	return w, nil
}
