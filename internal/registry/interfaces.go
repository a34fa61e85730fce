// interfaces.go: this code defines the interface for metadata registry operations
package registry

import (
	"context"
	"strings"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/observability/metrics"
)

// Rows is the result of a registry lookup: one row per matching dataset,
// column values ordered like the requested properties.
type Rows [][]any

// Equality is one equality constraint of a lookup.
type Equality struct {
	Column string
	Value  any
}

// Range constrains a lookup to rows whose [StartColumn, EndColumn] interval
// contains Value. Both bounds are inclusive.
type Range struct {
	StartColumn string
	EndColumn   string
	Value       any
}

// Clause carries the constraints of one lookup. Equalities keep the order
// the caller built them in so the generated SQL is deterministic.
type Clause struct {
	Equalities []Equality
	Ranges     []Range
}

// Equal appends one equality constraint and returns the clause for chaining.
func (c Clause) Equal(column string, value any) Clause {
	c.Equalities = append(c.Equalities, Equality{Column: column, Value: value})
	return c
}

// Within appends one validity range constraint and returns the clause.
func (c Clause) Within(startColumn, endColumn string, value any) Clause {
	c.Ranges = append(c.Ranges, Range{StartColumn: startColumn, EndColumn: endColumn, Value: value})
	return c
}

// Empty reports whether the clause carries no constraints.
func (c Clause) Empty() bool {
	return len(c.Equalities) == 0 && len(c.Ranges) == 0
}

// Interface abstracts the underlying registry database and defines the
// lookup operation the mapper engine consumes.
type Interface interface {
	Open() error
	// Lookup returns the values of properties for every dataset matching
	// the clause across the joined tables. Property values keep the order
	// of the properties argument.
	Lookup(ctx context.Context, properties, tables []string, clause Clause) (Rows, error)
	Close() error
}

// New creates a registry client for the configured backend. The repository
// root anchors relative sqlite paths. A nil metrics collector disables
// instrumentation.
func New(cfg *conf.RegistryConfig, root string, m *metrics.RegistryMetrics) Interface {
	switch cfg.Driver {
	case conf.DriverSQLite:
		r := &SQLiteRegistry{Config: cfg, Root: root}
		r.SetMetrics(m)
		return r
	case conf.DriverMySQL:
		r := &MySQLRegistry{Config: cfg}
		r.SetMetrics(m)
		return r
	default:
		return nil
	}
}

// tablesLabel renders a table list as a stable metrics label.
func tablesLabel(tables []string) string {
	return strings.Join(tables, ",")
}
