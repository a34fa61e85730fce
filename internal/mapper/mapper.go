package mapper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/observability/metrics"
	"github.com/mwittgen/obs-base/internal/recipe"
	"github.com/mwittgen/obs-base/internal/registry"
	"github.com/mwittgen/obs-base/internal/storage"
)

// LevelDefault selects the policy's default key hierarchy level in GetKeys.
const LevelDefault = "default"

// Entry points a dataset type can expose through the dispatch table.
type (
	// MapFunc resolves an identifier into a storage location.
	MapFunc func(ctx context.Context, id dataid.DataID, write bool) (*StorageLocation, error)
	// QueryFunc returns registry metadata matching a partial identifier.
	QueryFunc func(ctx context.Context, properties []string, id dataid.DataID) (registry.Rows, error)
	// StandardizeFunc converts a loaded item into its standard shape.
	StandardizeFunc func(ctx context.Context, item *Item, id dataid.DataID) (*Item, error)
	// BypassFunc derives a value from a resolved location without loading
	// the dataset through the normal machinery.
	BypassFunc func(ctx context.Context, location *StorageLocation, id dataid.DataID) (any, error)
	// AdditionalDataFunc supplies write-time configuration attached to a
	// resolved location.
	AdditionalDataFunc func(ctx context.Context, datasetType string, id dataid.DataID) (map[string]any, error)
)

// Operations bundles the entry points of one dataset type. Map and Query
// are always set; Standardize and Bypass only where the dataset supports
// them.
type Operations struct {
	Map         MapFunc
	Query       QueryFunc
	Standardize StandardizeFunc
	Bypass      BypassFunc
}

// Config wires a Mapper engine.
type Config struct {
	Policy        *conf.Policy
	Registry      registry.Interface // exposure registry, may be nil for template-only use
	CalibRegistry registry.Interface // nil falls back to Registry
	Root          storage.Interface
	CalibRoot     storage.Interface // nil falls back to Root
	Recipes       *recipe.Resolver  // nil disables write-recipe attachment
	Provided      []string          // identifier keys the caller always supplies
	DetectorNamer DetectorNamer
	Hooks         map[string]AdditionalDataFunc // per-type write-time config, wins over recipes
	Metrics       *metrics.ResolverMetrics
}

// Mapper is the resolution engine: one Mapping per declared dataset type
// plus the dispatch table of their operations. It is immutable after New
// and safe for concurrent use.
type Mapper struct {
	registry      registry.Interface
	root          storage.Interface
	mappings      map[string]*Mapping
	operations    map[string]*Operations
	keySchema     KeySchema
	levels        map[string][]string
	defaultLevel  string
	subLevels     map[string]string
	recipes       *recipe.Resolver
	hooks         map[string]AdditionalDataFunc
	detectorNamer DetectorNamer
	metrics       *metrics.ResolverMetrics
}

// New builds the engine from a dataset policy. Every declared dataset type
// gets a Mapping and its dispatch entry; derived entries (filename lookup,
// sub-region maps) are added where their names are free.
func New(cfg Config) (*Mapper, error) {
	if cfg.Policy == nil {
		return nil, errors.Newf("no dataset policy provided").
			Component("mapper").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Root == nil {
		return nil, errors.Newf("no repository root provided").
			Component("mapper").
			Category(errors.CategoryConfiguration).
			Build()
	}
	calibRegistry := cfg.CalibRegistry
	if calibRegistry == nil {
		calibRegistry = cfg.Registry
	}
	calibRoot := cfg.CalibRoot
	if calibRoot == nil {
		calibRoot = cfg.Root
	}

	m := &Mapper{
		registry:      cfg.Registry,
		root:          cfg.Root,
		mappings:      make(map[string]*Mapping),
		operations:    make(map[string]*Operations),
		keySchema:     KeySchema{},
		levels:        cfg.Policy.Levels,
		defaultLevel:  cfg.Policy.DefaultLevel,
		subLevels:     cfg.Policy.DefaultSubLevels,
		recipes:       cfg.Recipes,
		hooks:         cfg.Hooks,
		detectorNamer: cfg.DetectorNamer,
		metrics:       cfg.Metrics,
	}

	for _, section := range cfg.Policy.Sections() {
		deps := mappingDeps{
			registry: cfg.Registry,
			root:     cfg.Root,
			provided: cfg.Provided,
			metrics:  cfg.Metrics,
		}
		if section.Name == conf.SectionCalibrations {
			deps.registry = calibRegistry
			deps.refRegistry = cfg.Registry
			deps.root = calibRoot
			deps.dataRoot = cfg.Root
		}
		for _, datasetType := range sortedNames(section.Datasets) {
			if _, ok := m.mappings[datasetType]; ok {
				return nil, errors.Newf("duplicate mapping policy for dataset type %s", datasetType).
					Component("mapper").
					Category(errors.CategoryConfiguration).
					Build()
			}
			policy := section.Datasets[datasetType].WithDefaults(section.Name)
			mapping, err := newMapping(section.Name, datasetType, policy, deps)
			if err != nil {
				return nil, err
			}
			m.mappings[datasetType] = mapping
			m.operations[datasetType] = m.buildOperations(mapping)
			for key, fieldType := range mapping.keySchema {
				m.keySchema[key] = fieldType
			}
		}
	}
	m.registerDerived()

	getLogger().Info("mapper initialized",
		"dataset_types", len(m.mappings),
		"operations", len(m.operations),
		"default_level", m.defaultLevel)
	return m, nil
}

// buildOperations wires the dispatch entry of one declared dataset type.
func (m *Mapper) buildOperations(mapping *Mapping) *Operations {
	ops := &Operations{
		Map: func(ctx context.Context, id dataid.DataID, write bool) (*StorageLocation, error) {
			location, err := mapping.Map(ctx, id, write)
			if err != nil {
				return nil, err
			}
			if err := m.attachAdditionalData(ctx, mapping, location); err != nil {
				return nil, err
			}
			return location, nil
		},
		Query: mapping.Lookup,
	}
	switch mapping.Section {
	case conf.SectionExposures:
		ops.Standardize = func(ctx context.Context, item *Item, id dataid.DataID) (*Item, error) {
			return m.standardizeExposure(ctx, mapping, item, id, true)
		}
	case conf.SectionCalibrations:
		// Calibrations standardize only when they hold an image-like
		// type. Opaque products (defect lists, kernels) have no
		// standardizer at all.
		if KindOf(mapping.Python) != KindOpaque {
			ops.Standardize = func(ctx context.Context, item *Item, id dataid.DataID) (*Item, error) {
				return m.standardizeExposure(ctx, mapping, item, id, mapping.SetFilter)
			}
		}
	}
	return ops
}

// attachAdditionalData runs the write-time configuration hook for the
// dataset type. A caller-registered hook wins; FITS-storage types otherwise
// carry their write recipe.
func (m *Mapper) attachAdditionalData(ctx context.Context, mapping *Mapping, location *StorageLocation) error {
	hook := m.hooks[mapping.DatasetType]
	if hook == nil && m.recipes != nil && mapping.Storage == "FitsStorage" {
		hook = m.recipeHook(mapping)
	}
	if hook == nil {
		return nil
	}
	data, err := hook(ctx, mapping.DatasetType, location.DataID)
	if err != nil {
		return err
	}
	for key, value := range data {
		location.SetAdditional(key, value)
	}
	return nil
}

func (m *Mapper) recipeHook(mapping *Mapping) AdditionalDataFunc {
	return func(ctx context.Context, datasetType string, id dataid.DataID) (map[string]any, error) {
		rec, err := m.recipes.Settings(mapping.Storage, mapping.RecipeName, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		return map[string]any{"writeRecipe": rec}, nil
	}
}

// registerDerived adds the filename and sub-region entries for every
// declared dataset type whose derived names are still free.
func (m *Mapper) registerDerived() {
	for _, name := range sortedNames(m.mappings) {
		mapping := m.mappings[name]
		parent := m.operations[name]
		if derived := name + "_filename"; m.operations[derived] == nil {
			m.operations[derived] = &Operations{
				Map:   parent.Map,
				Query: parent.Query,
				Bypass: func(_ context.Context, location *StorageLocation, _ dataid.DataID) (any, error) {
					return location.AbsolutePaths(), nil
				},
			}
		}
		if mapping.Storage != "FitsStorage" {
			continue
		}
		if derived := name + "_sub"; m.operations[derived] == nil {
			m.operations[derived] = m.subOperations(parent)
		}
	}
}

// subOperations derives the sub-region entry: the parent dataset resolved
// without the bbox key, with the requested region attached as write-time
// data.
func (m *Mapper) subOperations(parent *Operations) *Operations {
	return &Operations{
		Map: func(ctx context.Context, id dataid.DataID, write bool) (*StorageLocation, error) {
			bbox, ok := id["bbox"]
			if !ok {
				return nil, errors.Newf("no bbox in the data id for a sub-region dataset").
					Component("mapper").
					Category(errors.CategoryMissingKey).
					Build()
			}
			region, err := parseBBox(bbox)
			if err != nil {
				return nil, err
			}
			location, err := parent.Map(ctx, id.Without("bbox"), write)
			if err != nil {
				return nil, err
			}
			location.SetAdditional("llcX", region.llcX)
			location.SetAdditional("llcY", region.llcY)
			location.SetAdditional("width", region.width)
			location.SetAdditional("height", region.height)
			if origin, ok := id["imageOrigin"]; ok {
				location.SetAdditional("imageOrigin", origin)
			}
			return location, nil
		},
		Query: func(ctx context.Context, properties []string, id dataid.DataID) (registry.Rows, error) {
			return parent.Query(ctx, properties, id.Without("bbox"))
		},
	}
}

type region struct {
	llcX, llcY, width, height int64
}

// parseBBox reads a sub-region declaration of the form llcX:llcY:width:height.
func parseBBox(v any) (region, error) {
	s, ok := dataid.Normalize(v).(string)
	if !ok {
		return region{}, errors.Newf("bbox must be a llcX:llcY:width:height string, got %T", v).
			Component("mapper").
			Category(errors.CategoryGeneric).
			Build()
	}
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return region{}, errors.Newf("bbox must be llcX:llcY:width:height, got %q", s).
			Component("mapper").
			Category(errors.CategoryGeneric).
			Build()
	}
	var out [4]int64
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return region{}, errors.Newf("bbox element %q is not an integer", part).
				Component("mapper").
				Category(errors.CategoryGeneric).
				Build()
		}
		out[i] = n
	}
	return region{llcX: out[0], llcY: out[1], width: out[2], height: out[3]}, nil
}

// Operations returns the dispatch entry for a dataset type.
func (m *Mapper) Operations(datasetType string) (*Operations, error) {
	ops, ok := m.operations[datasetType]
	if !ok {
		return nil, errors.Newf("unknown dataset type %s", datasetType).
			Component("mapper").
			Category(errors.CategoryNotFound).
			Build()
	}
	return ops, nil
}

// Mapping returns the mapping behind a declared dataset type. Derived
// entries carry no mapping of their own.
func (m *Mapper) Mapping(datasetType string) (*Mapping, bool) {
	mapping, ok := m.mappings[datasetType]
	return mapping, ok
}

// DatasetTypes returns every dispatchable dataset type, derived entries
// included, sorted.
func (m *Mapper) DatasetTypes() []string {
	return sortedNames(m.operations)
}

// CanStandardize reports whether the dataset type has a standardizer.
func (m *Mapper) CanStandardize(datasetType string) bool {
	ops, ok := m.operations[datasetType]
	return ok && ops.Standardize != nil
}

// Keys returns the union of every mapping's key schema.
func (m *Mapper) Keys() KeySchema {
	return m.keySchema.Copy()
}

// DefaultLevel returns the policy's default key hierarchy level.
func (m *Mapper) DefaultLevel() string {
	return m.defaultLevel
}

// DefaultSubLevel returns the sub-level registered beneath a level, or "".
func (m *Mapper) DefaultSubLevel(level string) string {
	return m.subLevels[level]
}

// GetKeys returns the key schema of one dataset type, or the union for "".
// A non-empty level subtracts the keys beneath it in the hierarchy;
// LevelDefault selects the policy's default level.
func (m *Mapper) GetKeys(datasetType, level string) (KeySchema, error) {
	var schema KeySchema
	if datasetType == "" {
		schema = m.keySchema.Copy()
	} else {
		mapping, ok := m.mappings[datasetType]
		if !ok {
			return nil, errors.Newf("unknown dataset type %s", datasetType).
				Component("mapper").
				Category(errors.CategoryNotFound).
				Build()
		}
		schema = mapping.Keys()
	}
	if level == LevelDefault {
		level = m.defaultLevel
	}
	if level != "" {
		for _, key := range m.levels[level] {
			delete(schema, key)
		}
	}
	return schema, nil
}

// Resolve maps a dataset type and partial identifier to a storage location.
func (m *Mapper) Resolve(ctx context.Context, datasetType string, id dataid.DataID, write bool) (*StorageLocation, error) {
	ops, err := m.Operations(datasetType)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	location, err := ops.Map(ctx, id, write)
	m.record(metrics.OpMap, datasetType, start, err)
	if err != nil {
		return nil, err
	}
	getLogger().Debug("resolved dataset",
		"dataset_type", datasetType,
		"data_id", id.String(),
		"path", location.Locations[0],
		"write", write)
	return location, nil
}

// QueryMetadata looks up property values matching a partial identifier.
func (m *Mapper) QueryMetadata(ctx context.Context, datasetType string, properties []string, id dataid.DataID) (registry.Rows, error) {
	ops, err := m.Operations(datasetType)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := ops.Query(ctx, properties, id)
	m.record(metrics.OpQuery, datasetType, start, err)
	return rows, err
}

// Standardize converts a loaded item into the dataset type's standard
// shape.
func (m *Mapper) Standardize(ctx context.Context, datasetType string, item *Item, id dataid.DataID) (*Item, error) {
	ops, err := m.Operations(datasetType)
	if err != nil {
		return nil, err
	}
	if ops.Standardize == nil {
		return nil, errors.Newf("no standardization for dataset type %s", datasetType).
			Component("mapper").
			Category(errors.CategoryNotFound).
			Build()
	}
	start := time.Now()
	out, err := ops.Standardize(ctx, item, id)
	m.record(metrics.OpStandardize, datasetType, start, err)
	return out, err
}

// Bypass resolves the dataset's location and derives its bypass value, for
// dataset types that expose one.
func (m *Mapper) Bypass(ctx context.Context, datasetType string, id dataid.DataID) (any, error) {
	ops, err := m.Operations(datasetType)
	if err != nil {
		return nil, err
	}
	if ops.Bypass == nil {
		return nil, errors.Newf("no bypass for dataset type %s", datasetType).
			Component("mapper").
			Category(errors.CategoryNotFound).
			Build()
	}
	start := time.Now()
	location, err := ops.Map(ctx, id, false)
	if err != nil {
		m.record(metrics.OpBypass, datasetType, start, err)
		return nil, err
	}
	value, err := ops.Bypass(ctx, location, id)
	m.record(metrics.OpBypass, datasetType, start, err)
	return value, err
}

// Backup shifts existing copies of the dataset up a versioned chain
// (path~1, path~2, ...) in the output tree, so a following write cannot
// clobber them.
func (m *Mapper) Backup(ctx context.Context, datasetType string, id dataid.DataID) error {
	start := time.Now()
	err := m.backup(ctx, datasetType, id)
	m.record(metrics.OpBackup, datasetType, start, err)
	return err
}

func (m *Mapper) backup(ctx context.Context, datasetType string, id dataid.DataID) error {
	location, err := m.Resolve(ctx, datasetType, id, true)
	if err != nil {
		return err
	}
	store := location.Storage
	newPath := location.Locations[0]

	type version struct {
		n    int
		path string
	}
	var chain []version
	n := 0
	found := store.InstanceSearch(newPath)
	for len(found) > 0 {
		n++
		chain = append(chain, version{n: n, path: found[0]})
		found = store.InstanceSearch(fmt.Sprintf("%s~%d", newPath, n))
	}
	// Shift from the highest version down so nothing is overwritten
	// before it has been copied.
	for i := len(chain) - 1; i >= 0; i-- {
		target := fmt.Sprintf("%s~%d", newPath, chain[i].n)
		if err := store.CopyFile(chain[i].path, target); err != nil {
			return err
		}
		getLogger().Debug("backed up dataset version",
			"dataset_type", datasetType,
			"from", chain[i].path,
			"to", target)
	}
	return nil
}

// record captures operation metrics when a collector is wired.
func (m *Mapper) record(operation, datasetType string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	m.metrics.RecordOperation(operation, datasetType, status)
	m.metrics.RecordOperationDuration(operation, datasetType, time.Since(start).Seconds())
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
