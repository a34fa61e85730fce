// Package registry provides the registry command for managing metadata
// registries.
package registry

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/logging"
	"github.com/mwittgen/obs-base/internal/registry"
)

// calib holds the --calib flag value
var calib bool

// Command creates and returns the registry command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the metadata registries",
	}

	cmd.AddCommand(initCommand(settings))

	return cmd
}

func initCommand(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default registry schema",
		Long:  `Init opens the configured registry backend and creates the default exposure tables, or the calibration tables with --calib.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(settings)
		},
	}

	cmd.Flags().BoolVar(&calib, "calib", false, "initialize the calibration registry instead")

	return cmd
}

func runInit(settings *conf.Settings) error {
	cfg := &settings.Registry
	root := settings.Repository.Root
	if calib {
		cfg = settings.CalibRegistryConfig()
		root = settings.CalibRoot()
	}

	reg := registry.New(cfg, root, nil)
	if reg == nil {
		return fmt.Errorf("unsupported registry driver %q", cfg.Driver)
	}
	if err := reg.Open(); err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logging.Error("Failed to close registry", "error", err)
		}
	}()

	var db *gorm.DB
	switch r := reg.(type) {
	case *registry.SQLiteRegistry:
		db = r.DB
	case *registry.MySQLRegistry:
		db = r.DB
	default:
		return fmt.Errorf("registry backend %T cannot be initialized in place", reg)
	}

	if calib {
		if err := registry.InitCalibSchema(db); err != nil {
			return err
		}
		fmt.Println("Created default calibration registry schema")
		return nil
	}
	if err := registry.InitSchema(db); err != nil {
		return err
	}
	fmt.Println("Created default exposure registry schema")
	return nil
}
