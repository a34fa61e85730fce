package runtime

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/dataid"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Repository.Root = t.TempDir()
	settings.Registry = conf.RegistryConfig{Driver: conf.DriverSQLite, Path: "registry.sqlite3"}
	settings.CalibRegistry = conf.RegistryConfig{Driver: conf.DriverSQLite, Path: "calibRegistry.sqlite3"}
	return settings
}

func TestBuild(t *testing.T) {
	settings := testSettings(t)
	settings.Version = "v1.2.3"
	settings.BuildDate = "2026-01-02"

	rc, err := Build(settings)
	require.NoError(t, err)
	defer func() { assert.NoError(t, rc.Close()) }()

	assert.Equal(t, "v1.2.3", rc.Version)
	assert.Equal(t, "2026-01-02", rc.BuildDate)
	assert.NotNil(t, rc.Metrics)
	require.NotNil(t, rc.Mapper)

	// The embedded policy drives the dataset type table, derived types
	// included.
	types := rc.Mapper.DatasetTypes()
	assert.Contains(t, types, "raw")
	assert.Contains(t, types, "raw_filename")
	assert.Contains(t, types, "bias_sub")

	// Opening the registries creates the sqlite files under the root.
	assert.FileExists(t, filepath.Join(settings.Repository.Root, "registry.sqlite3"))
	assert.FileExists(t, filepath.Join(settings.Repository.Root, "calibRegistry.sqlite3"))

	// A complete identifier resolves without registry metadata.
	id := dataid.DataID{"visit": int64(42), "filter": "g", "ccd": int64(3)}
	loc, err := rc.Mapper.Resolve(context.Background(), "raw", id, true)
	require.NoError(t, err)
	want := filepath.Join(settings.Repository.Root, "raw/v0000042_fg/c03.fits")
	assert.Equal(t, []string{want}, loc.AbsolutePaths())
}

func TestBuildSeparateCalibRoot(t *testing.T) {
	settings := testSettings(t)
	settings.Repository.CalibRoot = t.TempDir()

	rc, err := Build(settings)
	require.NoError(t, err)
	defer func() { assert.NoError(t, rc.Close()) }()

	// The calibration registry lands in the calibration root.
	assert.FileExists(t, filepath.Join(settings.Repository.Root, "registry.sqlite3"))
	assert.FileExists(t, filepath.Join(settings.Repository.CalibRoot, "calibRegistry.sqlite3"))

	loc, err := rc.Mapper.Resolve(context.Background(), "bias", dataid.DataID{"ccd": int64(3), "calibDate": "2020-01-01"}, false)
	require.NoError(t, err)
	assert.Equal(t, settings.Repository.CalibRoot, loc.Storage.Root())
}

func TestBuildRequiresCalibRegistry(t *testing.T) {
	settings := testSettings(t)
	settings.CalibRegistry = conf.RegistryConfig{}

	_, err := Build(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calibration registry")
}

func TestBuildRejectsUnknownDriver(t *testing.T) {
	settings := testSettings(t)
	settings.Registry.Driver = "postgres"

	_, err := Build(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported registry driver")
}

func TestBuildMissingPolicyFile(t *testing.T) {
	settings := testSettings(t)
	settings.Policy.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Build(settings)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	settings := testSettings(t)

	rc, err := Build(settings)
	require.NoError(t, err)

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
}

func TestVersionString(t *testing.T) {
	var nilCtx *Context
	assert.Equal(t, "unknown", nilCtx.VersionString())
	assert.Equal(t, "unknown", (&Context{}).VersionString())
	assert.Equal(t, "v2.0.0", (&Context{Version: "v2.0.0"}).VersionString())
}
