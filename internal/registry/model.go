// model.go this code defines the default registry schema
package registry

import "gorm.io/gorm"

// Raw is one raw exposure record in the exposure registry, one row per
// detector readout. Column names are part of the lookup contract with the
// dataset policy, so they are pinned explicitly instead of letting GORM
// snake-case them.
type Raw struct {
	ID      int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Visit   int64   `gorm:"column:visit;index:idx_raw_visit_ccd"`
	Filter  string  `gorm:"column:filter"`
	Ccd     int64   `gorm:"column:ccd;index:idx_raw_visit_ccd"`
	ExpTime float64 `gorm:"column:expTime"`
	TaiObs  string  `gorm:"column:taiObs"`
	DateObs string  `gorm:"column:dateObs"`
}

// TableName overrides the GORM naming convention.
func (Raw) TableName() string { return "raw" }

// RawVisit is the denormalized one-row-per-visit view of the raw table. It
// repeats the visit-level columns of Raw under the same names so the two
// tables natural-join, and it serves single-visit lookups without touching
// the per-detector rows.
type RawVisit struct {
	Visit   int64   `gorm:"column:visit;primaryKey"`
	Filter  string  `gorm:"column:filter"`
	ExpTime float64 `gorm:"column:expTime"`
	TaiObs  string  `gorm:"column:taiObs"`
	DateObs string  `gorm:"column:dateObs"`
}

// TableName overrides the GORM naming convention.
func (RawVisit) TableName() string { return "raw_visit" }

// Bias is one bias calibration record in the calibration registry. Validity
// bounds are inclusive ISO8601 timestamps compared against the exposure's
// observation time.
type Bias struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Ccd        int64  `gorm:"column:ccd;index:idx_bias_ccd"`
	CalibDate  string `gorm:"column:calibDate"`
	ValidStart string `gorm:"column:validStart"`
	ValidEnd   string `gorm:"column:validEnd"`
}

// TableName overrides the GORM naming convention.
func (Bias) TableName() string { return "bias" }

// Dark is one dark calibration record in the calibration registry.
type Dark struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Ccd        int64  `gorm:"column:ccd;index:idx_dark_ccd"`
	CalibDate  string `gorm:"column:calibDate"`
	ValidStart string `gorm:"column:validStart"`
	ValidEnd   string `gorm:"column:validEnd"`
}

// TableName overrides the GORM naming convention.
func (Dark) TableName() string { return "dark" }

// Flat is one flat calibration record. Flats are filter-specific.
type Flat struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Ccd        int64  `gorm:"column:ccd;index:idx_flat_ccd"`
	Filter     string `gorm:"column:filter"`
	CalibDate  string `gorm:"column:calibDate"`
	ValidStart string `gorm:"column:validStart"`
	ValidEnd   string `gorm:"column:validEnd"`
}

// TableName overrides the GORM naming convention.
func (Flat) TableName() string { return "flat" }

// Fringe is one fringe calibration record. Fringes are filter-specific.
type Fringe struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Ccd        int64  `gorm:"column:ccd;index:idx_fringe_ccd"`
	Filter     string `gorm:"column:filter"`
	CalibDate  string `gorm:"column:calibDate"`
	ValidStart string `gorm:"column:validStart"`
	ValidEnd   string `gorm:"column:validEnd"`
}

// TableName overrides the GORM naming convention.
func (Fringe) TableName() string { return "fringe" }

// InitSchema creates the default exposure registry tables on an open
// connection. Site registries are produced by ingest tooling and only read
// by the resolver; this exists for the registry init command and for test
// fixtures.
func InitSchema(db *gorm.DB) error {
	return db.AutoMigrate(&Raw{}, &RawVisit{})
}

// InitCalibSchema creates the default calibration registry tables.
func InitCalibSchema(db *gorm.DB) error {
	return db.AutoMigrate(&Bias{}, &Dark{}, &Flat{}, &Fringe{})
}
