package table

// Prefixed re-binds cols so they read from through(row) and carry prefix in
// their names. It expresses joins such as the host_ columns of a service.
// through must return an untyped nil when the row has no join target.
func Prefixed(prefix string, through func(Row) Row, cols []Column) []Column {
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = c.rebind(prefix, through)
	}
	return out
}

// Via builds a join function from a typed accessor.
func Via[T any, U comparable](fn func(T) U) func(Row) Row {
	var none U
	return func(r Row) Row {
		t, ok := r.(T)
		if !ok {
			return nil
		}
		u := fn(t)
		if u == none {
			return nil
		}
		return u
	}
}
