package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwittgen/obs-base/cmd/keys"
	"github.com/mwittgen/obs-base/cmd/query"
	"github.com/mwittgen/obs-base/cmd/recipes"
	"github.com/mwittgen/obs-base/cmd/registry"
	"github.com/mwittgen/obs-base/cmd/resolve"
	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "obsbase",
		Short:   "Dataset identifier resolution CLI",
		Version: fmt.Sprintf("%s (built %s)", settings.Version, settings.BuildDate),
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	// Add sub-commands to the root command.
	subcommands := []*cobra.Command{
		resolve.Command(settings),
		query.Command(settings),
		keys.Command(settings),
		recipes.Command(settings),
		registry.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := slog.Leveler(slog.LevelInfo)
		if settings.Debug {
			level = slog.LevelDebug
		}
		logging.Init(level)
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVarP(&settings.Repository.Root, "root", "r", viper.GetString("repository.root"), "Data repository root that resolved paths are relative to")
	rootCmd.PersistentFlags().StringVar(&settings.Repository.CalibRoot, "calibroot", viper.GetString("repository.calibroot"), "Calibration repository root, empty uses the data root")
	rootCmd.PersistentFlags().StringVar(&settings.Policy.Path, "policy", viper.GetString("policy.path"), "Dataset policy file, empty uses the built-in default")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
