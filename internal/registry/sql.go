// sql.go: shared GORM-backed lookup implementation
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/observability/metrics"
)

// SQLRegistry answers lookups on a GORM database connection. It is embedded
// by the driver-specific registry types.
type SQLRegistry struct {
	DB      *gorm.DB // GORM database instance
	metrics *metrics.RegistryMetrics
}

// SetMetrics attaches Prometheus metrics to the registry client. Must be
// called before Open.
func (r *SQLRegistry) SetMetrics(m *metrics.RegistryMetrics) {
	r.metrics = m
}

// Lookup runs one metadata query: the values of properties for every
// dataset matching the clause across the natural join of tables.
func (r *SQLRegistry) Lookup(ctx context.Context, properties, tables []string, clause Clause) (Rows, error) {
	if r.DB == nil {
		return nil, errors.Newf("registry is not open").
			Component("registry").
			Category(errors.CategoryRegistry).
			Build()
	}
	if len(properties) == 0 {
		return nil, errors.Newf("registry lookup requested no properties").
			Component("registry").
			Category(errors.CategoryRegistry).
			Build()
	}
	if len(tables) == 0 {
		return nil, errors.Newf("no registry tables configured for lookup").
			Component("registry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	query, args := buildLookupSQL(properties, tables, clause)
	label := tablesLabel(tables)

	start := time.Now()
	rows, err := r.DB.WithContext(ctx).Raw(query, args...).Rows()
	if r.metrics != nil {
		r.metrics.RecordLookupDuration(label, time.Since(start).Seconds())
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordLookup(label, metrics.StatusError)
			r.metrics.RecordLookupError(label, "query")
		}
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryRegistry).
			Context("sql", query).
			Build()
	}
	defer func() {
		_ = rows.Close()
	}()

	out := Rows{}
	for rows.Next() {
		values := make([]any, len(properties))
		targets := make([]any, len(properties))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			if r.metrics != nil {
				r.metrics.RecordLookup(label, metrics.StatusError)
				r.metrics.RecordLookupError(label, "scan")
			}
			return nil, errors.New(err).
				Component("registry").
				Category(errors.CategoryRegistry).
				Context("sql", query).
				Build()
		}
		for i, v := range values {
			values[i] = dataid.Normalize(v)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		if r.metrics != nil {
			r.metrics.RecordLookup(label, metrics.StatusError)
			r.metrics.RecordLookupError(label, "rows")
		}
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryRegistry).
			Context("sql", query).
			Build()
	}

	if r.metrics != nil {
		r.metrics.RecordLookup(label, metrics.StatusSuccess)
		r.metrics.RecordLookupResultSize(label, len(out))
	}
	return out, nil
}

// Close closes the underlying database connection.
func (r *SQLRegistry) Close() error {
	if r.DB == nil {
		return nil
	}
	sqlDB, err := r.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve generic DB object: %w", err)
	}
	return sqlDB.Close()
}

// buildLookupSQL renders one lookup as a SELECT DISTINCT over the natural
// join of the mapping's tables. Column and table names come from the policy;
// values always bind through placeholders.
func buildLookupSQL(properties, tables []string, clause Clause) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT DISTINCT ")
	sb.WriteString(strings.Join(properties, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(strings.Join(tables, " NATURAL JOIN "))

	wheres := make([]string, 0, len(clause.Equalities)+len(clause.Ranges))
	args := make([]any, 0, len(clause.Equalities)+len(clause.Ranges))
	for _, eq := range clause.Equalities {
		wheres = append(wheres, eq.Column+" = ?")
		args = append(args, eq.Value)
	}
	for _, rg := range clause.Ranges {
		wheres = append(wheres, fmt.Sprintf("(? BETWEEN %s AND %s)", rg.StartColumn, rg.EndColumn))
		args = append(args, rg.Value)
	}
	if len(wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(wheres, " AND "))
	}
	return sb.String(), args
}
