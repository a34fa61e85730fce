package mapper

import (
	"context"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/observability/metrics"
	"github.com/mwittgen/obs-base/internal/registry"
	"github.com/mwittgen/obs-base/internal/storage"
)

// skyMapKeys are never looked up in a registry: they must be supplied in
// the identifier and are spliced back into query results.
var skyMapKeys = []string{"tract", "patch"}

// fastPathProperties can be answered from the denormalized visit table when
// the visit is pinned.
var fastPathProperties = []string{"filter", "expTime", "taiObs"}

// ValidityRange names the columns bounding a calibration's validity window.
// Both bounds are inclusive.
type ValidityRange struct {
	Start string
	End   string
}

// Mapping binds one dataset type to its path template, registry tables and
// storage tree. Mappings are immutable after construction; every operation
// is a pure function of its inputs and the registry contents.
type Mapping struct {
	DatasetType string
	Section     string
	Python      string // opaque in-memory type tag
	Persistable string // opaque on-disk type tag
	Storage     string // storage kind
	Level       string
	Tables      []string
	Columns     []string // lookup column allow-list, nil means any
	ObsTimeName string
	RecipeName  string

	// Calibration wiring. Reference names the exposure registry tables
	// consulted before the calibration registry; Range bounds validity.
	Reference    []string
	RefCols      []string
	Range        *ValidityRange
	SetFilter    bool
	MetadataKeys []string

	template  *Template
	keySchema KeySchema

	registry    registry.Interface // registry serving lookups for this type
	refRegistry registry.Interface // exposure registry behind reference lookups
	root        storage.Interface  // tree resolved paths live in
	dataRoot    storage.Interface  // output tree for calibration writes
	metrics     *metrics.ResolverMetrics
}

// mappingDeps carries the shared collaborators a Mapping is wired with.
type mappingDeps struct {
	registry    registry.Interface
	refRegistry registry.Interface
	root        storage.Interface
	dataRoot    storage.Interface
	provided    []string
	metrics     *metrics.ResolverMetrics
}

// newMapping builds the mapping for one dataset type from its merged policy
// record. An empty template is tolerated here so the key schema can be
// inspected; it fails on first use by Map.
func newMapping(section, datasetType string, policy conf.DatasetPolicy, deps mappingDeps) (*Mapping, error) {
	m := &Mapping{
		DatasetType: datasetType,
		Section:     section,
		Python:      policy.Python,
		Persistable: policy.Persistable,
		Storage:     policy.Storage,
		Level:       policy.Level,
		Tables:      policy.Tables,
		Columns:     policy.Columns,
		ObsTimeName: policy.ObsTimeName,
		RecipeName:  policy.Recipe,
		keySchema:   KeySchema{},
		registry:    deps.registry,
		refRegistry: deps.refRegistry,
		root:        deps.root,
		dataRoot:    deps.dataRoot,
		metrics:     deps.metrics,
	}
	if section == conf.SectionDatasets && m.Storage == "" {
		return nil, errors.Newf("dataset type %s declares no storage kind", datasetType).
			Component("mapper").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if policy.Template != "" {
		template, err := ParseTemplate(policy.Template, datasetType)
		if err != nil {
			return nil, err
		}
		m.template = template
		m.keySchema = template.Schema().Copy()
		for _, p := range deps.provided {
			delete(m.keySchema, p)
		}
	}
	if section == conf.SectionCalibrations {
		m.Reference = policy.Reference
		m.RefCols = policy.RefCols
		m.SetFilter = policy.Filter
		m.MetadataKeys = policy.MetadataKey
		if policy.ValidRange {
			m.Range = &ValidityRange{Start: policy.ValidStartName, End: policy.ValidEndName}
		}
	}
	return m, nil
}

// Keys returns the identifier keys and value types the path template
// demands.
func (m *Mapping) Keys() KeySchema {
	return m.keySchema.Copy()
}

// Template returns the parsed path template, or nil when the policy left it
// empty.
func (m *Mapping) Template() *Template {
	return m.template
}

// Have reports whether the identifier already carries every property. It
// never touches the registry.
func (m *Mapping) Have(properties []string, id dataid.DataID) bool {
	for _, prop := range properties {
		if !id.Has(prop) {
			return false
		}
	}
	return true
}

// Lookup queries the registry for the values of properties matching a
// partial identifier. Calibration mappings first resolve reference columns
// against the exposure registry, then query the calibration registry.
func (m *Mapping) Lookup(ctx context.Context, properties []string, id dataid.DataID) (registry.Rows, error) {
	if m.Reference != nil {
		return m.calibLookup(ctx, properties, id)
	}
	return m.baseLookup(ctx, properties, id)
}

// spliceEntry records how one output column of a lookup is produced: from
// the identifier (skymap keys) or from a query result column.
type spliceEntry struct {
	fromID bool
	value  any
	index  int
}

func (m *Mapping) baseLookup(ctx context.Context, properties []string, id dataid.DataID) (registry.Rows, error) {
	if m.registry == nil {
		return nil, errors.Newf("no registry for lookup").
			Component("mapper").
			Category(errors.CategoryConfiguration).
			DatasetContext(m.DatasetType, id).
			Build()
	}

	// Skymap keys cannot be queried; they are taken from the identifier
	// and spliced back into each result row at their requested position.
	queried := make([]string, 0, len(properties))
	splice := make([]spliceEntry, 0, len(properties))
	for _, p := range properties {
		if slices.Contains(skyMapKeys, p) {
			value, ok := id[p]
			if !ok {
				return nil, errors.Newf("cannot look up skymap key %q; it must be explicitly included in the data id", p).
					Component("mapper").
					Category(errors.CategoryMissingKey).
					DatasetContext(m.DatasetType, id).
					Build()
			}
			splice = append(splice, spliceEntry{fromID: true, value: value})
			continue
		}
		splice = append(splice, spliceEntry{index: len(queried)})
		queried = append(queried, p)
	}

	rows, err := m.queryRegistry(ctx, queried, id)
	if err != nil {
		return nil, err
	}
	if len(queried) == len(properties) {
		return rows, nil
	}
	merged := make(registry.Rows, len(rows))
	for i, row := range rows {
		out := make([]any, len(splice))
		for j, entry := range splice {
			if entry.fromID {
				out[j] = entry.value
			} else {
				out[j] = row[entry.index]
			}
		}
		merged[i] = out
	}
	return merged, nil
}

// queryRegistry issues the registry query for already-filtered properties.
// When the visit is pinned and only visit-level metadata is wanted, the
// denormalized visit table answers without a join.
func (m *Mapping) queryRegistry(ctx context.Context, properties []string, id dataid.DataID) (registry.Rows, error) {
	fastPath := true
	for _, p := range properties {
		if !slices.Contains(fastPathProperties, p) {
			fastPath = false
			break
		}
	}
	if fastPath && id.Has("visit") && slices.Contains(m.Tables, "raw") {
		if m.metrics != nil {
			m.metrics.RecordFastPathLookup()
		}
		clause := registry.Clause{}.Equal("visit", id["visit"])
		return m.registry.Lookup(ctx, properties, []string{"raw_visit"}, clause)
	}

	clause := registry.Clause{}
	for _, k := range id.Keys() {
		if len(m.Columns) > 0 && !slices.Contains(m.Columns, k) {
			continue
		}
		if k == m.ObsTimeName {
			continue
		}
		if slices.Contains(skyMapKeys, k) {
			continue
		}
		clause = clause.Equal(k, id[k])
	}
	if m.Range != nil {
		value, ok := id[m.ObsTimeName]
		if !ok {
			return nil, errors.Newf("no %s value in the data id for the validity range", m.ObsTimeName).
				Component("mapper").
				Category(errors.CategoryMissingKey).
				DatasetContext(m.DatasetType, id).
				Build()
		}
		clause = clause.Within(m.Range.Start, m.Range.End, value)
	}
	return m.registry.Lookup(ctx, properties, m.Tables, clause)
}

// calibLookup resolves reference columns from the exposure registry before
// delegating to the calibration registry. The reference query must match
// exactly one exposure: calibration validity is timestamped against the
// observation being calibrated, and that time lives only in the exposure
// registry.
func (m *Mapping) calibLookup(ctx context.Context, properties []string, id dataid.DataID) (registry.Rows, error) {
	if m.refRegistry == nil {
		return nil, errors.Newf("no reference registry for lookup").
			Component("mapper").
			Category(errors.CategoryConfiguration).
			DatasetContext(m.DatasetType, id).
			Build()
	}

	// Reference columns still missing: the declared allow-list minus keys
	// already present, or everything requested when none is declared.
	var columns []string
	if m.Columns != nil {
		for _, c := range m.Columns {
			if !id.Has(c) {
				columns = append(columns, c)
			}
		}
	} else {
		columns = slices.Clone(properties)
	}
	if len(columns) == 0 {
		return m.baseLookup(ctx, properties, id)
	}

	clause := registry.Clause{}
	for _, k := range id.Keys() {
		if len(m.RefCols) > 0 && !slices.Contains(m.RefCols, k) {
			continue
		}
		clause = clause.Equal(k, id[k])
	}
	rows, err := m.refRegistry.Lookup(ctx, columns, m.Reference, clause)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, errors.Newf("no unique reference lookup for %v from %s: %d matches", columns, id, len(rows)).
			Component("mapper").
			Category(errors.CategoryReferenceLookup).
			DatasetContext(m.DatasetType, id).
			Context("matches", len(rows)).
			Build()
	}
	if equalSets(columns, properties) {
		return reorderRows(rows, columns, properties), nil
	}
	newID := id.Copy()
	for i, column := range columns {
		newID[column] = dataid.Normalize(rows[0][i])
	}
	return m.baseLookup(ctx, properties, newID)
}

// Need returns a copy of the identifier with every listed property present,
// looking missing ones up in the registry. The lookup must match exactly
// one dataset.
func (m *Mapping) Need(ctx context.Context, properties []string, id dataid.DataID) (dataid.DataID, error) {
	newID := id.Copy()
	var missing []string
	for _, prop := range properties {
		if !newID.Has(prop) {
			missing = append(missing, prop)
		}
	}
	if len(missing) == 0 {
		return newID, nil
	}
	rows, err := m.Lookup(ctx, missing, newID)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, errors.Newf("no unique lookup for %v from %s: %d matches", missing, newID, len(rows)).
			Component("mapper").
			Category(errors.CategoryAmbiguity).
			DatasetContext(m.DatasetType, newID).
			Context("matches", len(rows)).
			Build()
	}
	for i, prop := range missing {
		newID[prop] = dataid.Normalize(rows[0][i])
	}
	return newID, nil
}

// Map resolves the identifier into a storage location. Missing template
// keys are filled through Need, the rendered path must be relative, and
// reads probe for compressed variants of the path. Calibration writes are
// redirected to the output tree so the calibration source tree stays
// read-only.
func (m *Mapping) Map(ctx context.Context, id dataid.DataID, write bool) (*StorageLocation, error) {
	if m.template == nil {
		return nil, errors.Newf("template is not defined for the %s dataset type, it must be set before it can be used", m.DatasetType).
			Component("mapper").
			Category(errors.CategoryConfiguration).
			Build()
	}
	actualID, err := m.Need(ctx, m.keySchema.Keys(), id)
	if err != nil {
		return nil, err
	}
	usedID := dataid.New(nil)
	for key := range m.keySchema {
		usedID[key] = actualID[key]
	}
	rendered, err := m.template.Render(actualID)
	if err != nil {
		return nil, err
	}
	if path.IsAbs(rendered) {
		return nil, errors.Newf("mapped path must not be absolute: %s", rendered).
			Component("mapper").
			Category(errors.CategoryConfiguration).
			DatasetContext(m.DatasetType, actualID).
			Build()
	}
	if !write {
		// Repositories may hold compressed files the template does not
		// mention. Probe the plain path first, then the compressed
		// variants, skipping a suffix the path already carries.
		for _, ext := range []string{"", ".gz", ".fz"} {
			if ext != "" && strings.HasSuffix(rendered, ext) {
				continue
			}
			if found := m.root.InstanceSearch(rendered + ext); len(found) > 0 {
				rendered = found[0]
				break
			}
		}
	}

	location := &StorageLocation{
		DatasetType:     m.DatasetType,
		PythonType:      m.Python,
		PersistableType: m.Persistable,
		StorageKind:     m.Storage,
		Locations:       []string{rendered},
		DataID:          actualID,
		UsedDataID:      usedID,
		Storage:         m.root,
	}
	if write && m.dataRoot != nil {
		location.Storage = m.dataRoot
	}
	return location, nil
}

// equalSets reports whether two column lists name the same set.
func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	sort.Strings(as)
	sort.Strings(bs)
	return slices.Equal(as, bs)
}

// reorderRows remaps row columns from one property order to another.
func reorderRows(rows registry.Rows, from, to []string) registry.Rows {
	indexOf := make(map[string]int, len(from))
	for i, column := range from {
		indexOf[column] = i
	}
	out := make(registry.Rows, len(rows))
	for i, row := range rows {
		reordered := make([]any, len(to))
		for j, column := range to {
			reordered[j] = row[indexOf[column]]
		}
		out[i] = reordered
	}
	return out
}
