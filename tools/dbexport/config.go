package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the export tool.
type Config struct {
	// Source database
	SQLitePath string
	Calib      bool

	// Target database - either DSN or individual components
	MySQLDSN      string
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPass     string
	MySQLDatabase string

	// Migration options
	BatchSize   int
	DropTables  bool
	Clean       bool
	AutoMigrate bool
	SkipVerify  bool
	Verbose     bool

	// Config file path for fallback
	ConfigPath string
}

// Load validates and loads the configuration, falling back to config.yaml if needed.
func (c *Config) Load() error {
	// Try to load from config.yaml if SQLite path is missing
	if c.SQLitePath == "" {
		if err := c.loadFromConfigFile(); err != nil {
			// Config file loading failed, check if we have enough from flags
			if c.SQLitePath == "" {
				return fmt.Errorf("--sqlite-path is required (or provide config.yaml)")
			}
		}
	}

	// Validate SQLite path exists
	if _, err := os.Stat(c.SQLitePath); os.IsNotExist(err) {
		return fmt.Errorf("SQLite registry not found: %s", c.SQLitePath)
	}

	// Validate batch size
	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be at least 1")
	}
	if c.BatchSize > 10000 {
		return fmt.Errorf("batch-size too large (max 10000)")
	}

	return nil
}

// loadFromConfigFile attempts to load the source and target settings from the
// resolver's config.yaml, reading the registry section (or calibregistry with
// --calib). Relative sqlite paths are anchored at the repository root the way
// the resolver anchors them.
func (c *Config) loadFromConfigFile() error {
	v := viper.New()

	// Determine config file path
	configPath := c.ConfigPath
	if configPath == "" {
		// Try default locations, preferring home directory
		if homeDir, err := os.UserHomeDir(); err == nil {
			p := filepath.Join(homeDir, ".config", "obs-base", "config.yaml")
			if _, statErr := os.Stat(p); statErr == nil {
				configPath = p
			}
		}

		// Fall back to current directory if home config was not found/accessible
		if configPath == "" {
			configPath = "config.yaml"
		}
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	section := "registry"
	root := v.GetString("repository.root")
	if c.Calib {
		section = "calibregistry"
		if calibRoot := v.GetString("repository.calibroot"); calibRoot != "" {
			root = calibRoot
		}
	}

	// Load SQLite path if not provided via flags
	if c.SQLitePath == "" {
		sqlitePath := v.GetString(section + ".path")
		if sqlitePath != "" && !filepath.IsAbs(sqlitePath) && root != "" {
			sqlitePath = filepath.Join(root, sqlitePath)
		}
		c.SQLitePath = sqlitePath
	}

	// Load MySQL settings if not provided via flags
	if c.MySQLDSN == "" && v.GetString(section+".database") != "" {
		c.MySQLHost = v.GetString(section + ".host")
		c.MySQLPort = v.GetInt(section + ".port")
		if c.MySQLPort == 0 {
			c.MySQLPort = 3306
		}
		c.MySQLUser = v.GetString(section + ".username")
		c.MySQLPass = v.GetString(section + ".password")
		c.MySQLDatabase = v.GetString(section + ".database")
	}

	return nil
}

// GetMySQLDSN returns the MySQL DSN string.
// If MySQLDSN is set directly, it's returned as-is.
// Otherwise, a DSN is constructed from individual components.
func (c *Config) GetMySQLDSN() string {
	if c.MySQLDSN != "" {
		return c.MySQLDSN
	}

	// Construct DSN from components
	// Format: user:password@tcp(host:port)/database?charset=utf8mb4&parseTime=True&loc=Local
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.MySQLUser,
		c.MySQLPass,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)

	return dsn
}

// GetSanitizedMySQLDSN returns the MySQL DSN with password masked for logging.
func (c *Config) GetSanitizedMySQLDSN() string {
	dsn := c.GetMySQLDSN()

	// Mask password in DSN
	// Format: user:password@tcp(host:port)/database
	if idx := strings.Index(dsn, ":"); idx != -1 {
		if atIdx := strings.Index(dsn, "@"); atIdx != -1 && atIdx > idx {
			return dsn[:idx+1] + "****" + dsn[atIdx:]
		}
	}

	return dsn
}
