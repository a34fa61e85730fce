package mapper

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/observability/metrics"
	"github.com/mwittgen/obs-base/internal/recipe"
	"github.com/mwittgen/obs-base/internal/registry/registrytest"
	"github.com/mwittgen/obs-base/internal/storage"
)

const testPolicyYAML = `
defaultLevel: sensor
defaultSubLevels:
  visit: sensor
levels:
  sensor: [ccd]
  visit: [ccd]
  skyTile: [visit, ccd]

exposures:
  raw:
    template: raw/v%(visit)07d_f%(filter)s/c%(ccd)02d.fits
    python: lsst.afw.image.DecoratedImageU
    persistable: DecoratedImageU
    level: Ccd
    tables: [raw, raw_visit]
  calexp:
    template: calexp/v%(visit)07d_f%(filter)s/c%(ccd)02d.fits
    tables: [raw, raw_visit]

calibrations:
  bias:
    template: calib/bias/%(calibDate)s/c%(ccd)02d.fits
    tables: [bias]
    columns: [ccd, taiObs]
    reference: [raw, raw_visit]
    refCols: [visit, ccd]
    validRange: true
  flat:
    template: calib/flat/%(calibDate)s/f%(filter)s_c%(ccd)02d.fits
    tables: [flat]
    columns: [ccd, filter, taiObs]
    reference: [raw, raw_visit]
    refCols: [visit, ccd]
    validRange: true
    filter: true
  defects:
    template: defects/%(calibDate)s/c%(ccd)02d.defects
    python: lsst.meas.algorithms.Defects
    persistable: Defects
    storage: TextStorage
    tables: [defects]
    columns: [ccd, taiObs]
    validRange: true

datasets:
  processCcd_config:
    template: config/processCcd.py
    python: lsst.pipe.tasks.ProcessCcdConfig
    persistable: Config
    storage: ConfigStorage
    tables: [raw]
`

type engineFixture struct {
	mapper    *Mapper
	expReg    *registrytest.Static
	calibReg  *registrytest.Static
	root      *storage.Posix
	calibRoot *storage.Posix
	rootDir   string
	calibDir  string
}

// newEngineFixture builds a Mapper over in-memory registries and two empty
// repository trees. mutate may adjust the config before New runs.
func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()

	policy, err := conf.ParsePolicy([]byte(testPolicyYAML))
	require.NoError(t, err)

	recipes, err := recipe.Load("")
	require.NoError(t, err)

	f := &engineFixture{
		expReg:   registrytest.NewStatic(rawTables()),
		calibReg: registrytest.NewStatic(calibTables()),
		rootDir:  t.TempDir(),
		calibDir: t.TempDir(),
	}
	f.root = storage.NewPosix(f.rootDir)
	f.calibRoot = storage.NewPosix(f.calibDir)

	cfg := Config{
		Policy:        policy,
		Registry:      f.expReg,
		CalibRegistry: f.calibReg,
		Root:          f.root,
		CalibRoot:     f.calibRoot,
		Recipes:       recipes,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.mapper, err = New(cfg)
	require.NoError(t, err)
	return f
}

func TestNewValidation(t *testing.T) {
	t.Run("policy is required", func(t *testing.T) {
		_, err := New(Config{Root: storage.NewPosix(t.TempDir())})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})

	t.Run("root is required", func(t *testing.T) {
		policy, err := conf.ParsePolicy([]byte(testPolicyYAML))
		require.NoError(t, err)
		_, err = New(Config{Policy: policy})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})

	t.Run("dataset type may appear in one section only", func(t *testing.T) {
		policy, err := conf.ParsePolicy([]byte(`
exposures:
  raw:
    template: raw/v%(visit)d.fits
    tables: [raw]
datasets:
  raw:
    template: other/v%(visit)d.fits
    storage: ConfigStorage
    tables: [raw]
`))
		require.NoError(t, err)
		_, err = New(Config{Policy: policy, Root: storage.NewPosix(t.TempDir())})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate mapping policy for dataset type raw")
	})

	t.Run("plain datasets need a storage kind", func(t *testing.T) {
		policy, err := conf.ParsePolicy([]byte(`
datasets:
  someConfig:
    template: config/some.py
    tables: [raw]
`))
		require.NoError(t, err)
		_, err = New(Config{Policy: policy, Root: storage.NewPosix(t.TempDir())})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declares no storage kind")
	})
}

func TestDatasetTypes(t *testing.T) {
	f := newEngineFixture(t, nil)
	types := f.mapper.DatasetTypes()

	// Six declared types, a _filename for each, a _sub for the four
	// FitsStorage ones.
	assert.Len(t, types, 16)
	assert.IsIncreasing(t, types)

	for _, name := range []string{
		"raw", "raw_filename", "raw_sub",
		"bias_filename", "bias_sub",
		"defects_filename", "processCcd_config_filename",
	} {
		assert.Contains(t, types, name)
	}
	assert.NotContains(t, types, "defects_sub")
	assert.NotContains(t, types, "processCcd_config_sub")
}

func TestResolve(t *testing.T) {
	t.Run("fills the identifier and attaches the write recipe", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		loc, err := f.mapper.Resolve(context.Background(), "raw",
			dataid.New(map[string]any{"visit": 42, "ccd": 3}), false)
		require.NoError(t, err)

		assert.Equal(t, []string{"raw/v0000042_fg/c03.fits"}, loc.Locations)
		assert.Equal(t, "FitsStorage", loc.StorageKind)
		assert.Equal(t, "g", loc.DataID["filter"])
		assert.Same(t, f.root, loc.Storage)

		rec, ok := loc.AdditionalData["writeRecipe"].(*recipe.Recipe)
		require.True(t, ok, "FitsStorage locations carry their write recipe")
		assert.Equal(t, "GZIP_SHUFFLE", rec.Image.Compression.Algorithm)
		assert.NotZero(t, rec.Image.Scaling.Seed)
	})

	t.Run("calibration reads come from the calibration root", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		id := dataid.New(map[string]any{"visit": 42, "ccd": 3})

		loc, err := f.mapper.Resolve(context.Background(), "bias", id, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"calib/bias/2020-01-01/c03.fits"}, loc.Locations)
		assert.Same(t, f.calibRoot, loc.Storage)

		loc, err = f.mapper.Resolve(context.Background(), "bias", id, true)
		require.NoError(t, err)
		assert.Same(t, f.root, loc.Storage)
	})

	t.Run("fixed template resolves with an empty identifier", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		loc, err := f.mapper.Resolve(context.Background(), "processCcd_config", dataid.New(nil), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"config/processCcd.py"}, loc.Locations)
		assert.Nil(t, loc.AdditionalData)
	})

	t.Run("unknown dataset type", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		_, err := f.mapper.Resolve(context.Background(), "postISRCCD", dataid.New(nil), false)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
	})
}

func TestResolveHookWins(t *testing.T) {
	hooked := map[string]any{"compression": "custom"}
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.Hooks = map[string]AdditionalDataFunc{
			"raw": func(ctx context.Context, datasetType string, id dataid.DataID) (map[string]any, error) {
				return hooked, nil
			},
		}
	})

	loc, err := f.mapper.Resolve(context.Background(), "raw",
		dataid.New(map[string]any{"visit": 42, "ccd": 3}), false)
	require.NoError(t, err)
	assert.Equal(t, "custom", loc.AdditionalData["compression"])
	assert.NotContains(t, loc.AdditionalData, "writeRecipe")
}

func TestQueryMetadata(t *testing.T) {
	f := newEngineFixture(t, nil)
	rows, err := f.mapper.QueryMetadata(context.Background(), "raw",
		[]string{"filter", "expTime"}, dataid.New(map[string]any{"visit": 42}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"g", 30.0}, rows[0])

	_, err = f.mapper.QueryMetadata(context.Background(), "nope", []string{"filter"}, dataid.New(nil))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestBypassFilename(t *testing.T) {
	f := newEngineFixture(t, nil)
	id := dataid.New(map[string]any{"visit": 42, "ccd": 3, "filter": "g"})

	value, err := f.mapper.Bypass(context.Background(), "raw_filename", id)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(f.rootDir, "raw/v0000042_fg/c03.fits")}, value)

	_, err = f.mapper.Bypass(context.Background(), "raw", id)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestSubRegion(t *testing.T) {
	t.Run("attaches the region and resolves the parent", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		id := dataid.New(map[string]any{
			"visit": 42, "ccd": 3, "filter": "g",
			"bbox": "100:200:50:60", "imageOrigin": "LOCAL",
		})
		loc, err := f.mapper.Resolve(context.Background(), "raw_sub", id, false)
		require.NoError(t, err)

		assert.Equal(t, []string{"raw/v0000042_fg/c03.fits"}, loc.Locations)
		assert.Equal(t, int64(100), loc.AdditionalData["llcX"])
		assert.Equal(t, int64(200), loc.AdditionalData["llcY"])
		assert.Equal(t, int64(50), loc.AdditionalData["width"])
		assert.Equal(t, int64(60), loc.AdditionalData["height"])
		assert.Equal(t, "LOCAL", loc.AdditionalData["imageOrigin"])
		assert.Contains(t, loc.AdditionalData, "writeRecipe")
		assert.False(t, loc.DataID.Has("bbox"))
	})

	t.Run("bbox is required", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		_, err := f.mapper.Resolve(context.Background(), "raw_sub",
			dataid.New(map[string]any{"visit": 42, "ccd": 3, "filter": "g"}), false)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryMissingKey))
	})

	t.Run("malformed bbox", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		_, err := f.mapper.Resolve(context.Background(), "raw_sub",
			dataid.New(map[string]any{"visit": 42, "ccd": 3, "filter": "g", "bbox": "100:200"}), false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bbox")
	})

	t.Run("queries drop the bbox constraint", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		_, err := f.mapper.QueryMetadata(context.Background(), "raw_sub",
			[]string{"ccd"}, dataid.New(map[string]any{"visit": 42, "bbox": "1:2:3:4"}))
		require.NoError(t, err)

		call := f.expReg.LastCall()
		require.NotNil(t, call)
		require.Len(t, call.Clause.Equalities, 1)
		assert.Equal(t, "visit", call.Clause.Equalities[0].Column)
	})
}

func TestKeys(t *testing.T) {
	f := newEngineFixture(t, nil)

	assert.Equal(t, KeySchema{
		"visit":     FieldInt,
		"ccd":       FieldInt,
		"filter":    FieldString,
		"calibDate": FieldString,
	}, f.mapper.Keys())

	assert.Equal(t, "sensor", f.mapper.DefaultLevel())
	assert.Equal(t, "sensor", f.mapper.DefaultSubLevel("visit"))
	assert.Empty(t, f.mapper.DefaultSubLevel("tract"))
}

func TestGetKeys(t *testing.T) {
	f := newEngineFixture(t, nil)

	tests := []struct {
		name        string
		datasetType string
		level       string
		want        []string
	}{
		{"union without level", "", "", []string{"calibDate", "ccd", "filter", "visit"}},
		{"per dataset type", "raw", "", []string{"ccd", "filter", "visit"}},
		{"level subtracts keys", "raw", "sensor", []string{"filter", "visit"}},
		{"default level", "raw", LevelDefault, []string{"filter", "visit"}},
		{"deeper level", "raw", "skyTile", []string{"filter"}},
		{"unknown level subtracts nothing", "raw", "focalplane", []string{"ccd", "filter", "visit"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := f.mapper.GetKeys(tt.datasetType, tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.want, schema.Keys())
		})
	}

	_, err := f.mapper.GetKeys("postISRCCD", "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestCanStandardize(t *testing.T) {
	f := newEngineFixture(t, nil)

	assert.True(t, f.mapper.CanStandardize("raw"))
	assert.True(t, f.mapper.CanStandardize("calexp"))
	assert.True(t, f.mapper.CanStandardize("flat"))
	// Opaque calibration products and plain datasets have no standardizer.
	assert.False(t, f.mapper.CanStandardize("defects"))
	assert.False(t, f.mapper.CanStandardize("processCcd_config"))
	assert.False(t, f.mapper.CanStandardize("raw_filename"))
}

func TestStandardize(t *testing.T) {
	newNamer := func() DetectorNamer {
		return func(id dataid.DataID) (string, error) {
			return "1_03", nil
		}
	}

	t.Run("promotes and completes an exposure", func(t *testing.T) {
		f := newEngineFixture(t, func(cfg *Config) { cfg.DetectorNamer = newNamer() })
		item := &Item{Kind: KindDecoratedImage, Metadata: map[string]any{"EXPTIME": 30.0}}

		out, err := f.mapper.Standardize(context.Background(), "raw", item,
			dataid.New(map[string]any{"visit": 42, "ccd": 3}))
		require.NoError(t, err)
		assert.Equal(t, KindExposure, out.Kind)
		assert.Equal(t, item.Metadata, out.Metadata)
		assert.Equal(t, "g", out.Filter)
		assert.Equal(t, "1_03", out.Detector)
	})

	t.Run("stored filter is kept", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		item := &Item{Kind: KindImage, Filter: "HSC-G"}

		out, err := f.mapper.Standardize(context.Background(), "raw", item,
			dataid.New(map[string]any{"visit": 42, "ccd": 3}))
		require.NoError(t, err)
		assert.Equal(t, "HSC-G", out.Filter)
		assert.Zero(t, f.expReg.CallCount())
	})

	t.Run("ambiguous filter lookup is tolerated", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		item := &Item{Kind: KindImage}

		// ccd 3 appears in two visits with different filters.
		out, err := f.mapper.Standardize(context.Background(), "raw", item,
			dataid.New(map[string]any{"ccd": 3}))
		require.NoError(t, err)
		assert.Equal(t, KindExposure, out.Kind)
		assert.Empty(t, out.Filter)
	})

	t.Run("calibration standardizes with its own filter rule", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		item := &Item{Kind: KindMaskedImage}

		out, err := f.mapper.Standardize(context.Background(), "flat", item,
			dataid.New(map[string]any{"visit": 42, "ccd": 3}))
		require.NoError(t, err)
		assert.Equal(t, KindExposure, out.Kind)
		assert.Equal(t, "g", out.Filter)
	})

	t.Run("opaque items pass through", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		item := &Item{Kind: KindOpaque}

		out, err := f.mapper.Standardize(context.Background(), "raw", item, dataid.New(nil))
		require.NoError(t, err)
		assert.Same(t, item, out)
	})

	t.Run("no standardizer is an error", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		_, err := f.mapper.Standardize(context.Background(), "defects", &Item{Kind: KindImage},
			dataid.New(map[string]any{"ccd": 3}))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
	})
}

func TestBackup(t *testing.T) {
	f := newEngineFixture(t, nil)
	id := dataid.New(map[string]any{"visit": 42, "ccd": 3, "filter": "g"})
	const rel = "raw/v0000042_fg/c03.fits"

	write := func(t *testing.T, rel, content string) {
		t.Helper()
		full := filepath.Join(f.rootDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	read := func(t *testing.T, rel string) string {
		t.Helper()
		data, err := os.ReadFile(filepath.Join(f.rootDir, rel))
		require.NoError(t, err)
		return string(data)
	}

	// Nothing on disk yet: backup is a no-op.
	require.NoError(t, f.mapper.Backup(context.Background(), "raw", id))
	assert.NoFileExists(t, filepath.Join(f.rootDir, rel+"~1"))

	write(t, rel, "v1")
	require.NoError(t, f.mapper.Backup(context.Background(), "raw", id))
	assert.Equal(t, "v1", read(t, rel+"~1"))

	write(t, rel, "v2")
	require.NoError(t, f.mapper.Backup(context.Background(), "raw", id))
	assert.Equal(t, "v1", read(t, rel+"~2"))
	assert.Equal(t, "v2", read(t, rel+"~1"))
	assert.Equal(t, "v2", read(t, rel))
}

func TestOperationMetrics(t *testing.T) {
	collector, err := metrics.NewResolverMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	f := newEngineFixture(t, func(cfg *Config) { cfg.Metrics = collector })

	_, err = f.mapper.Resolve(context.Background(), "raw",
		dataid.New(map[string]any{"visit": 42, "ccd": 3}), false)
	require.NoError(t, err)
	_, err = f.mapper.QueryMetadata(context.Background(), "raw",
		[]string{"filter"}, dataid.New(map[string]any{"visit": 42}))
	require.NoError(t, err)

	// One series per operation/dataset/status combination.
	assert.Equal(t, 2, testutil.CollectAndCount(collector, "resolver_operations_total"))
}
