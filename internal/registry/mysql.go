package registry

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/errors"
)

// MySQLRegistry implements the registry interface for MySQL
type MySQLRegistry struct {
	SQLRegistry
	Config *conf.RegistryConfig
}

func validateMySQLConfig(cfg *conf.RegistryConfig) error {
	if cfg.Host == "" || cfg.Database == "" || cfg.Username == "" {
		return errors.Newf("mysql registry requires host, database and username").
			Component("registry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Open sets up the MySQL registry connection.
func (r *MySQLRegistry) Open() error {
	if err := validateMySQLConfig(r.Config); err != nil {
		return err
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		r.Config.Username, r.Config.Password,
		r.Config.Host, r.Config.Port,
		r.Config.Database)

	newLogger := createGormLogger(r.metrics)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		getLogger().Error("Failed to open MySQL registry",
			"host", r.Config.Host,
			"port", r.Config.Port,
			"database", r.Config.Database,
			"error", err)
		return fmt.Errorf("failed to open MySQL registry: %w", err)
	}

	r.DB = db
	if r.metrics != nil {
		r.metrics.UpdateOpenConnections(conf.DriverMySQL, 1)
	}
	getLogger().Info("Opened MySQL registry",
		"host", r.Config.Host,
		"database", r.Config.Database)
	return nil
}
