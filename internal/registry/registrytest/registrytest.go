// Package registrytest provides in-memory registry doubles for tests.
package registrytest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/registry"
)

// Row is one record of an in-memory table.
type Row map[string]any

// LookupCall records the arguments of one Lookup invocation.
type LookupCall struct {
	Properties []string
	Tables     []string
	Clause     registry.Clause
}

// Static serves lookups from tables held in memory, emulating the natural
// join and DISTINCT semantics of the SQL registries. It records every call
// for assertions.
type Static struct {
	Tables map[string][]Row

	mu    sync.Mutex
	Calls []LookupCall
}

// NewStatic builds a Static registry over the given tables.
func NewStatic(tables map[string][]Row) *Static {
	return &Static{Tables: tables}
}

// Open implements registry.Interface.
func (s *Static) Open() error { return nil }

// Close implements registry.Interface.
func (s *Static) Close() error { return nil }

// LastCall returns the most recent lookup, or nil if none happened.
func (s *Static) LastCall() *LookupCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return nil
	}
	call := s.Calls[len(s.Calls)-1]
	return &call
}

// CallCount returns how many lookups have been served.
func (s *Static) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Lookup implements registry.Interface over the in-memory tables.
func (s *Static) Lookup(ctx context.Context, properties, tables []string, clause registry.Clause) (registry.Rows, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, LookupCall{
		Properties: append([]string(nil), properties...),
		Tables:     append([]string(nil), tables...),
		Clause:     clause,
	})
	s.mu.Unlock()

	if len(tables) == 0 {
		return nil, errors.Newf("no registry tables configured for lookup").
			Component("registry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	joined, err := s.join(tables)
	if err != nil {
		return nil, err
	}

	out := registry.Rows{}
	seen := map[string]bool{}
	for _, row := range joined {
		if !matches(row, clause) {
			continue
		}
		values := make([]any, len(properties))
		for i, p := range properties {
			v, ok := row[p]
			if !ok {
				return nil, errors.Newf("unknown column %q", p).
					Component("registry").
					Category(errors.CategoryRegistry).
					Build()
			}
			values[i] = v
		}
		key := fmt.Sprintf("%v", values)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, values)
	}
	return out, nil
}

// join natural-joins the named tables on their shared column names.
func (s *Static) join(tables []string) ([]Row, error) {
	result, ok := s.Tables[tables[0]]
	if !ok {
		return nil, errors.Newf("unknown table %q", tables[0]).
			Component("registry").
			Category(errors.CategoryRegistry).
			Build()
	}
	for _, name := range tables[1:] {
		next, ok := s.Tables[name]
		if !ok {
			return nil, errors.Newf("unknown table %q", name).
				Component("registry").
				Category(errors.CategoryRegistry).
				Build()
		}
		var merged []Row
		for _, left := range result {
			for _, right := range next {
				if m, ok := naturalMerge(left, right); ok {
					merged = append(merged, m)
				}
			}
		}
		result = merged
	}
	return result, nil
}

// naturalMerge combines two rows when all shared columns agree.
func naturalMerge(left, right Row) (Row, bool) {
	for k, rv := range right {
		if lv, shared := left[k]; shared && fmt.Sprint(lv) != fmt.Sprint(rv) {
			return nil, false
		}
	}
	merged := make(Row, len(left)+len(right))
	for k, v := range left {
		merged[k] = v
	}
	for k, v := range right {
		merged[k] = v
	}
	return merged, true
}

// matches applies the clause to one joined row. Range bounds are inclusive,
// compared as strings the way the registry stores observation times.
func matches(row Row, clause registry.Clause) bool {
	for _, eq := range clause.Equalities {
		v, ok := row[eq.Column]
		if !ok || fmt.Sprint(v) != fmt.Sprint(eq.Value) {
			return false
		}
	}
	for _, rg := range clause.Ranges {
		start, okStart := row[rg.StartColumn]
		end, okEnd := row[rg.EndColumn]
		if !okStart || !okEnd {
			return false
		}
		v := fmt.Sprint(rg.Value)
		if v < fmt.Sprint(start) || v > fmt.Sprint(end) {
			return false
		}
	}
	return true
}

// Columns lists the column names of a table, sorted. Helper for building
// test assertions.
func (s *Static) Columns(table string) []string {
	rows := s.Tables[table]
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Failing refuses every lookup. It proves code paths that must not touch
// the registry.
type Failing struct {
	Err error
}

// Open implements registry.Interface.
func (f *Failing) Open() error { return nil }

// Close implements registry.Interface.
func (f *Failing) Close() error { return nil }

// Lookup implements registry.Interface by always failing.
func (f *Failing) Lookup(ctx context.Context, properties, tables []string, clause registry.Clause) (registry.Rows, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, errors.Newf("unexpected registry lookup for %v", properties).
		Component("registry").
		Category(errors.CategoryRegistry).
		Build()
}
