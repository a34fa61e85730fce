// conf/policy.go dataset policy loading

package conf

import (
	"embed"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mwittgen/obs-base/internal/errors"
)

//go:embed policy.yaml
var policyFiles embed.FS

// Names of the four mapping sections of a policy document.
const (
	SectionImages       = "images"
	SectionExposures    = "exposures"
	SectionCalibrations = "calibrations"
	SectionDatasets     = "datasets"
)

// DatasetPolicy is the declarative record one dataset type's mapping is
// built from. Field absence falls back to the section defaults; fields the
// engine does not interpret (python, persistable, metadataKey) pass through
// to the resolved location untouched.
type DatasetPolicy struct {
	Template    string   `yaml:"template"`    // path template with %(key)fmt placeholders
	Python      string   `yaml:"python"`      // opaque in-memory type tag
	Persistable string   `yaml:"persistable"` // opaque on-disk type tag
	Storage     string   `yaml:"storage"`     // storage kind, e.g. FitsStorage
	Level       string   `yaml:"level"`       // level in the key hierarchy
	Tables      []string `yaml:"tables"`      // registry tables joined for lookups
	Columns     []string `yaml:"columns"`     // allowed lookup columns
	ObsTimeName string   `yaml:"obsTimeName"` // observation time column name
	Recipe      string   `yaml:"recipe"`      // write recipe name, default "default"

	// Calibration-only fields.
	Reference      []string `yaml:"reference"`      // exposure registry tables for reference lookups
	RefCols        []string `yaml:"refCols"`        // identifier keys usable against the reference tables
	ValidRange     bool     `yaml:"validRange"`     // true if rows carry a validity range
	ValidStartName string   `yaml:"validStartName"` // validity range start column
	ValidEndName   string   `yaml:"validEndName"`   // validity range end column
	Filter         bool     `yaml:"filter"`         // true to force the filter during standardization
	MetadataKey    []string `yaml:"metadataKey"`    // opaque metadata key list
}

// PolicySection pairs a section name with its dataset declarations.
type PolicySection struct {
	Name     string
	Datasets map[string]DatasetPolicy
}

// Policy declares every dataset type the resolver can map, grouped into the
// four mapping sections, plus the key level hierarchy.
type Policy struct {
	NeedCalibRegistry bool                `yaml:"needCalibRegistry"` // false lets the exposure registry serve calibrations
	DefaultLevel      string              `yaml:"defaultLevel"`
	DefaultSubLevels  map[string]string   `yaml:"defaultSubLevels"`
	Levels            map[string][]string `yaml:"levels"` // keys subtracted per level

	Images       map[string]DatasetPolicy `yaml:"images"`
	Exposures    map[string]DatasetPolicy `yaml:"exposures"`
	Calibrations map[string]DatasetPolicy `yaml:"calibrations"`
	Datasets     map[string]DatasetPolicy `yaml:"datasets"`
}

// LoadPolicy reads a dataset policy document. An empty path loads the
// embedded default policy.
func LoadPolicy(path string) (*Policy, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = fs.ReadFile(policyFiles, "policy.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("policy_path", path).
			Build()
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a dataset policy document from YAML.
func ParsePolicy(data []byte) (*Policy, error) {
	policy := &Policy{}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse-policy").
			Build()
	}
	return policy, nil
}

// Sections returns the four mapping sections in declaration order. Sections
// absent from the document yield empty maps.
func (p *Policy) Sections() []PolicySection {
	return []PolicySection{
		{Name: SectionImages, Datasets: p.Images},
		{Name: SectionExposures, Datasets: p.Exposures},
		{Name: SectionCalibrations, Datasets: p.Calibrations},
		{Name: SectionDatasets, Datasets: p.Datasets},
	}
}

// WithDefaults returns a copy of the dataset policy with unset fields filled
// from the section's defaults. Declared values always win; defaults only
// supplement. Boolean flags never have section defaults.
func (p DatasetPolicy) WithDefaults(section string) DatasetPolicy {
	defaults := sectionDefaults(section)
	out := p
	if out.Python == "" {
		out.Python = defaults.Python
	}
	if out.Persistable == "" {
		out.Persistable = defaults.Persistable
	}
	if out.Storage == "" {
		out.Storage = defaults.Storage
	}
	if out.Level == "" {
		out.Level = defaults.Level
	}
	if out.ObsTimeName == "" {
		out.ObsTimeName = defaults.ObsTimeName
	}
	if out.ValidStartName == "" {
		out.ValidStartName = defaults.ValidStartName
	}
	if out.ValidEndName == "" {
		out.ValidEndName = defaults.ValidEndName
	}
	if out.Recipe == "" {
		out.Recipe = "default"
	}
	return out
}

// sectionDefaults returns the per-section dataset policy defaults. These
// fill the same role as the section defaults documents the original policy
// layer shipped.
func sectionDefaults(section string) DatasetPolicy {
	switch section {
	case SectionImages:
		return DatasetPolicy{
			Python:      "lsst.afw.image.DecoratedImageU",
			Persistable: "DecoratedImageU",
			Storage:     "FitsStorage",
			Level:       "Ccd",
		}
	case SectionExposures:
		return DatasetPolicy{
			Python:      "lsst.afw.image.ExposureF",
			Persistable: "ExposureF",
			Storage:     "FitsStorage",
			Level:       "Ccd",
		}
	case SectionCalibrations:
		return DatasetPolicy{
			Python:         "lsst.afw.image.ExposureF",
			Persistable:    "ExposureF",
			Storage:        "FitsStorage",
			Level:          "Ccd",
			ObsTimeName:    "taiObs",
			ValidStartName: "validStart",
			ValidEndName:   "validEnd",
		}
	default:
		return DatasetPolicy{}
	}
}
