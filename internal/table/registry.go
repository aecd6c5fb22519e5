package table

import (
	"fmt"
	"sync"
)

// Registry maps table names to tables.
type Registry struct {
	mu     sync.RWMutex
	tables []*Table
	index  map[string]*Table
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]*Table)}
}

func (r *Registry) Register(t *Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[t.Name]; ok {
		return fmt.Errorf("table %s already registered", t.Name)
	}
	r.index[t.Name] = t
	r.tables = append(r.tables, t)
	return nil
}

// MustRegister registers tables built with New and panics on any error.
// Registration happens once at startup, where a broken table is fatal.
func (r *Registry) MustRegister(t *Table, err error) {
	if err != nil {
		panic(err)
	}
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.index[name]
	return t, ok
}

// Tables returns the tables in registration order.
func (r *Registry) Tables() []*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Table(nil), r.tables...)
}
