package mapper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/registry"
	"github.com/mwittgen/obs-base/internal/registry/registrytest"
	"github.com/mwittgen/obs-base/internal/storage"
)

func biasPolicy() conf.DatasetPolicy {
	return conf.DatasetPolicy{
		Template:   "calib/bias/%(calibDate)s/c%(ccd)02d.fits",
		Tables:     []string{"bias"},
		Columns:    []string{"ccd", "taiObs"},
		Reference:  []string{"raw", "raw_visit"},
		RefCols:    []string{"visit", "ccd"},
		ValidRange: true,
	}
}

func calibTables() map[string][]registrytest.Row {
	return map[string][]registrytest.Row{
		"bias": {
			{"ccd": 3, "calibDate": "2020-01-01",
				"validStart": "2020-01-01T00:00:00", "validEnd": "2020-01-31T23:59:59"},
			{"ccd": 3, "calibDate": "2020-02-01",
				"validStart": "2020-02-01T00:00:00", "validEnd": "2020-02-28T23:59:59"},
		},
		"flat": {
			{"ccd": 3, "filter": "g", "calibDate": "2020-01-01",
				"validStart": "2020-01-01T00:00:00", "validEnd": "2020-12-31T23:59:59"},
			{"ccd": 3, "filter": "r", "calibDate": "2020-01-01",
				"validStart": "2020-01-01T00:00:00", "validEnd": "2020-12-31T23:59:59"},
		},
		"defects": {
			{"ccd": 3, "calibDate": "2020-01-01",
				"validStart": "2020-01-01T00:00:00", "validEnd": "2020-12-31T23:59:59"},
		},
	}
}

func newBiasMapping(t *testing.T, calibReg, expReg registry.Interface) *Mapping {
	t.Helper()
	return newTestMapping(t, conf.SectionCalibrations, "bias", biasPolicy(), mappingDeps{
		registry:    calibReg,
		refRegistry: expReg,
		root:        storage.NewPosix(t.TempDir()),
	})
}

func TestCalibrationLookupTwoStage(t *testing.T) {
	calibReg := registrytest.NewStatic(calibTables())
	expReg := registrytest.NewStatic(rawTables())
	m := newBiasMapping(t, calibReg, expReg)

	// The observation time comes from the exposure registry; the bias row
	// valid at that time comes from the calibration registry.
	id := dataid.New(map[string]any{"visit": 42, "ccd": 3})
	rows, err := m.Lookup(context.Background(), []string{"calibDate"}, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"2020-01-01"}, rows[0])

	refCall := expReg.LastCall()
	require.NotNil(t, refCall)
	assert.Equal(t, []string{"taiObs"}, refCall.Properties)
	assert.Equal(t, []string{"raw", "raw_visit"}, refCall.Tables)
	assert.Equal(t, registry.Clause{}.Equal("ccd", int64(3)).Equal("visit", int64(42)), refCall.Clause)

	calibCall := calibReg.LastCall()
	require.NotNil(t, calibCall)
	assert.Equal(t, []string{"bias"}, calibCall.Tables)
	assert.Equal(t,
		registry.Clause{}.
			Equal("ccd", int64(3)).
			Within("validStart", "validEnd", "2020-01-05T00:00:00"),
		calibCall.Clause)
}

func TestCalibrationReferenceMustBeUnique(t *testing.T) {
	tests := []struct {
		name    string
		id      map[string]any
		matches string
	}{
		{
			// visit 42 covers two ccds and ccd is not pinned.
			name:    "multiple reference rows",
			id:      map[string]any{"visit": 42},
			matches: "2 matches",
		},
		{
			name:    "no reference rows",
			id:      map[string]any{"visit": 99, "ccd": 3},
			matches: "0 matches",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calibReg := registrytest.NewStatic(calibTables())
			expReg := registrytest.NewStatic(rawTables())
			m := newBiasMapping(t, calibReg, expReg)

			_, err := m.Lookup(context.Background(), []string{"calibDate"}, dataid.New(tt.id))
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryReferenceLookup))
			assert.Contains(t, err.Error(), tt.matches)
			assert.Zero(t, calibReg.CallCount())
		})
	}
}

func TestCalibrationShortCircuit(t *testing.T) {
	// When the reference lookup already yields every requested property,
	// the calibration registry is never consulted, and the row is reordered
	// to the requested property order.
	calibReg := registrytest.NewStatic(calibTables())
	expReg := registrytest.NewStatic(rawTables())
	m := newBiasMapping(t, calibReg, expReg)

	id := dataid.New(map[string]any{"visit": 42})
	_, err := m.Lookup(context.Background(), []string{"calibDate"}, id)
	require.Error(t, err) // two ccds for visit 42, reference not unique

	id = dataid.New(map[string]any{"visit": 43})
	rows, err := m.Lookup(context.Background(), []string{"taiObs", "ccd"}, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"2020-01-06T00:00:00", 3}, rows[0])
	assert.Zero(t, calibReg.CallCount())
}

func TestCalibrationDelegatesWhenColumnsCovered(t *testing.T) {
	// An identifier that already carries every reference column skips the
	// exposure registry entirely.
	calibReg := registrytest.NewStatic(calibTables())
	expReg := registrytest.NewStatic(rawTables())
	m := newBiasMapping(t, calibReg, expReg)

	id := dataid.New(map[string]any{"ccd": 3, "taiObs": "2020-02-10T00:00:00"})
	rows, err := m.Lookup(context.Background(), []string{"calibDate"}, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"2020-02-01"}, rows[0])
	assert.Zero(t, expReg.CallCount())
	assert.Equal(t, 1, calibReg.CallCount())
}

func TestCalibrationValidityRange(t *testing.T) {
	t.Run("observation time picks the valid row", func(t *testing.T) {
		calibReg := registrytest.NewStatic(calibTables())
		m := newTestMapping(t, conf.SectionCalibrations, "bias", conf.DatasetPolicy{
			Template:   "calib/bias/%(calibDate)s/c%(ccd)02d.fits",
			Tables:     []string{"bias"},
			Columns:    []string{"ccd", "taiObs"},
			ValidRange: true,
		}, mappingDeps{registry: calibReg, root: storage.NewPosix(t.TempDir())})

		id := dataid.New(map[string]any{"ccd": 3, "taiObs": "2020-01-15T12:00:00"})
		got, err := m.Need(context.Background(), []string{"calibDate"}, id)
		require.NoError(t, err)
		assert.Equal(t, "2020-01-01", got["calibDate"])
	})

	t.Run("missing observation time is an error", func(t *testing.T) {
		calibReg := registrytest.NewStatic(calibTables())
		m := newTestMapping(t, conf.SectionCalibrations, "bias", conf.DatasetPolicy{
			Template:   "calib/bias/%(calibDate)s/c%(ccd)02d.fits",
			Tables:     []string{"bias"},
			Columns:    []string{"ccd", "taiObs"},
			ValidRange: true,
		}, mappingDeps{registry: calibReg, root: storage.NewPosix(t.TempDir())})

		_, err := m.Need(context.Background(), []string{"calibDate"}, dataid.New(map[string]any{"ccd": 3}))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryMissingKey))
		assert.Contains(t, err.Error(), "taiObs")
	})
}

func TestCalibrationMapRedirectsWrites(t *testing.T) {
	calibRoot := storage.NewPosix(t.TempDir())
	dataRoot := storage.NewPosix(t.TempDir())
	m := newTestMapping(t, conf.SectionCalibrations, "bias", conf.DatasetPolicy{
		Template: "calib/bias/%(calibDate)s/c%(ccd)02d.fits",
		Tables:   []string{"bias"},
	}, mappingDeps{
		registry: &registrytest.Failing{},
		root:     calibRoot,
		dataRoot: dataRoot,
	})

	id := dataid.New(map[string]any{"calibDate": "2020-01-01", "ccd": 3})

	loc, err := m.Map(context.Background(), id, false)
	require.NoError(t, err)
	assert.Same(t, calibRoot, loc.Storage)

	loc, err = m.Map(context.Background(), id, true)
	require.NoError(t, err)
	assert.Same(t, dataRoot, loc.Storage)
	assert.Equal(t, []string{"calib/bias/2020-01-01/c03.fits"}, loc.Locations)
}
