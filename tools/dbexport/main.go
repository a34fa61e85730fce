// Package main provides a CLI tool for exporting registry data from SQLite
// to MySQL. Site registries start life as sqlite files written by ingest
// tooling; this tool populates a MySQL backend with the same rows when a
// repository outgrows sqlite.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (can be set via ldflags during build)
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dbexport",
	Short: "Export registry data from SQLite to MySQL",
	Long: `A tool for migrating metadata registry data from SQLite to MySQL.

The exposure registry tables (raw, raw_visit) are migrated by default;
--calib migrates the calibration registry tables (bias, dark, flat, fringe)
instead. Rows are copied in batches and inserts are idempotent, so an
interrupted migration can be re-run.`,
	RunE: runExport,
}

var cfg Config

func init() {
	// Source database flags
	rootCmd.Flags().StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to source SQLite registry file")
	rootCmd.Flags().BoolVar(&cfg.Calib, "calib", false, "Migrate the calibration registry tables instead")

	// Target database flags - DSN or individual components
	rootCmd.Flags().StringVar(&cfg.MySQLDSN, "mysql-dsn", "", "MySQL connection string (e.g., user:pass@tcp(host:3306)/dbname)")
	rootCmd.Flags().StringVar(&cfg.MySQLHost, "mysql-host", "localhost", "MySQL host (alternative to DSN)")
	rootCmd.Flags().IntVar(&cfg.MySQLPort, "mysql-port", 3306, "MySQL port")
	rootCmd.Flags().StringVar(&cfg.MySQLUser, "mysql-user", "registry", "MySQL username")
	rootCmd.Flags().StringVar(&cfg.MySQLPass, "mysql-pass", "", "MySQL password")
	rootCmd.Flags().StringVar(&cfg.MySQLDatabase, "mysql-database", "registry", "MySQL database name")

	// Migration options
	rootCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", 1000, "Number of records per batch")
	rootCmd.Flags().BoolVar(&cfg.DropTables, "drop-tables", false, "Drop the registry tables before migration (fresh start)")
	rootCmd.Flags().BoolVar(&cfg.Clean, "clean", false, "Truncate target tables before migration (keeps table structure)")
	rootCmd.Flags().BoolVar(&cfg.AutoMigrate, "auto-migrate", true, "Create tables in target database before migration (use --auto-migrate=false to disable)")
	rootCmd.Flags().BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-migration verification")
	rootCmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")

	// Config file fallback
	rootCmd.Flags().StringVar(&cfg.ConfigPath, "config", "", "Path to config.yaml (for connection fallback)")

	// Version flag
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

func runExport(cmd *cobra.Command, args []string) error {
	// Handle version flag
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Printf("dbexport version %s\n", version)
		return nil
	}

	// Load and validate configuration
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if cfg.Verbose {
		fmt.Printf("Source: %s\n", cfg.SQLitePath)
		fmt.Printf("Target: %s\n", cfg.GetSanitizedMySQLDSN())
		fmt.Printf("Batch size: %d\n", cfg.BatchSize)
		fmt.Printf("Clean mode: %v\n", cfg.Clean)
	}

	// Create and run migrator
	migrator, err := NewMigrator(&cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	defer migrator.Close()

	// Run migration
	stats, err := migrator.Run()
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Print summary
	stats.Print()

	// Run verification unless skipped
	if !cfg.SkipVerify {
		fmt.Println("\n--- Verification ---")
		verifier := NewVerifier(migrator.sourceDB, migrator.targetDB, cfg.Calib)
		if err := verifier.Verify(); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Println("Verification passed!")
	}

	return nil
}
