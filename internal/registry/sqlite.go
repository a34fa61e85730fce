package registry

import (
	"fmt"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/errors"
)

// SQLiteRegistry implements the registry interface for SQLite
type SQLiteRegistry struct {
	SQLRegistry
	Config *conf.RegistryConfig
	Root   string // repository root anchoring relative paths
}

func validateSQLiteConfig(cfg *conf.RegistryConfig) error {
	if cfg.Path == "" {
		return errors.Newf("sqlite registry path is empty").
			Component("registry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Open sets up the SQLite registry connection. The registry file is opened
// as-is; schema creation is a separate step (see InitSchema) because site
// registries are produced by ingest tooling and only read here.
func (r *SQLiteRegistry) Open() error {
	if err := validateSQLiteConfig(r.Config); err != nil {
		return err
	}

	path := r.Config.Path
	if path != ":memory:" && !filepath.IsAbs(path) {
		path = filepath.Join(r.Root, path)
	}

	newLogger := createGormLogger(r.metrics)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newLogger})
	if err != nil {
		return fmt.Errorf("failed to open SQLite registry: %w", err)
	}

	r.DB = db
	if r.metrics != nil {
		r.metrics.UpdateOpenConnections(conf.DriverSQLite, 1)
	}
	getLogger().Info("Opened SQLite registry", "path", path)
	return nil
}
