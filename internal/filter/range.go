package filter

// IntRange returns inclusive bounds on an int or time column implied by the
// conjunctive part of f. A bound of 0 means unbounded. Comparisons below an
// Or or a Not are ignored, so the range may be wider than the filter but
// never narrower.
func IntRange(f Filter, column string) (lo, hi int64) {
	switch n := f.(type) {
	case *And:
		for _, c := range n.Children {
			clo, chi := IntRange(c, column)
			lo, hi = tighten(lo, hi, clo, chi)
		}
	case *Compare:
		if n.Column.Name() != column || !n.hasRef {
			return 0, 0
		}
		switch n.Op {
		case OpEqual:
			return n.ref, n.ref
		case OpGreater:
			return n.ref + 1, 0
		case OpGreaterEqual:
			return n.ref, 0
		case OpLess:
			return 0, n.ref - 1
		case OpLessEqual:
			return 0, n.ref
		}
	}
	return lo, hi
}

func tighten(lo, hi, clo, chi int64) (int64, int64) {
	if clo != 0 && (lo == 0 || clo > lo) {
		lo = clo
	}
	if chi != 0 && (hi == 0 || chi < hi) {
		hi = chi
	}
	return lo, hi
}
