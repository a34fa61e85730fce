package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedPolicy(t *testing.T) {
	t.Parallel()

	policy, err := LoadPolicy("")
	require.NoError(t, err)

	require.Contains(t, policy.Exposures, "raw")
	raw := policy.Exposures["raw"]
	assert.Equal(t, []string{"raw", "raw_visit"}, raw.Tables)
	assert.NotEmpty(t, raw.Template)

	require.Contains(t, policy.Calibrations, "flat")
	flat := policy.Calibrations["flat"]
	assert.True(t, flat.ValidRange)
	assert.True(t, flat.Filter)
	assert.Equal(t, []string{"raw", "raw_visit"}, flat.Reference)

	assert.Equal(t, "Ccd", policy.DefaultLevel)
	assert.Contains(t, policy.Levels, "visit")
	assert.True(t, policy.NeedCalibRegistry)
}

func TestLoadPolicyFromFile(t *testing.T) {
	t.Parallel()

	doc := []byte(`
datasets:
  fluxMag0:
    template: fluxMag0/v%(visit)d.yaml
    python: builtins.dict
    persistable: ignored
    storage: YamlStorage
`)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, doc, 0o644))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	require.Contains(t, policy.Datasets, "fluxMag0")
	assert.Equal(t, "YamlStorage", policy.Datasets["fluxMag0"].Storage)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSectionsOrder(t *testing.T) {
	t.Parallel()

	policy := &Policy{
		Exposures: map[string]DatasetPolicy{"raw": {}},
	}
	sections := policy.Sections()
	require.Len(t, sections, 4)
	assert.Equal(t, SectionImages, sections[0].Name)
	assert.Equal(t, SectionExposures, sections[1].Name)
	assert.Equal(t, SectionCalibrations, sections[2].Name)
	assert.Equal(t, SectionDatasets, sections[3].Name)
	assert.Contains(t, sections[1].Datasets, "raw")
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	t.Run("fills unset fields from the section defaults", func(t *testing.T) {
		t.Parallel()
		p := DatasetPolicy{Template: "raw/v%(visit)d.fits"}
		merged := p.WithDefaults(SectionCalibrations)

		assert.Equal(t, "lsst.afw.image.ExposureF", merged.Python)
		assert.Equal(t, "FitsStorage", merged.Storage)
		assert.Equal(t, "taiObs", merged.ObsTimeName)
		assert.Equal(t, "validStart", merged.ValidStartName)
		assert.Equal(t, "validEnd", merged.ValidEndName)
		assert.Equal(t, "default", merged.Recipe)
	})

	t.Run("declared values win over defaults", func(t *testing.T) {
		t.Parallel()
		p := DatasetPolicy{
			Template:    "bias/b%(ccd)d.fits",
			Python:      "lsst.afw.image.ExposureU",
			Storage:     "FitsCatalogStorage",
			ObsTimeName: "mjdObs",
			Recipe:      "lossless",
		}
		merged := p.WithDefaults(SectionCalibrations)

		assert.Equal(t, "lsst.afw.image.ExposureU", merged.Python)
		assert.Equal(t, "FitsCatalogStorage", merged.Storage)
		assert.Equal(t, "mjdObs", merged.ObsTimeName)
		assert.Equal(t, "lossless", merged.Recipe)
	})

	t.Run("datasets section has no type defaults", func(t *testing.T) {
		t.Parallel()
		merged := DatasetPolicy{Template: "config/x.py"}.WithDefaults(SectionDatasets)
		assert.Empty(t, merged.Python)
		assert.Empty(t, merged.Storage)
		assert.Equal(t, "default", merged.Recipe)
	})
}
