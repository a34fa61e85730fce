// Package conf handles resolver configuration: engine settings loaded
// through viper plus the dataset policy declaring every mappable dataset
// type.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/viper"

	"github.com/mwittgen/obs-base/internal/errors"
)

//go:embed config.yaml
var configFiles embed.FS

// Registry driver names accepted in settings.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// LogConfig holds file logging settings.
type LogConfig struct {
	Enabled bool   `yaml:"enabled"` // true to write a structured log file
	Path    string `yaml:"path"`    // path to the log file
}

// RepositoryConfig locates the data repositories that resolved paths are
// relative to.
type RepositoryConfig struct {
	Root      string `yaml:"root"`      // input/output repository root
	CalibRoot string `yaml:"calibroot"` // calibration repository root, defaults to root
}

// RegistryConfig selects and locates one metadata registry backend.
type RegistryConfig struct {
	Driver   string `yaml:"driver"`   // sqlite or mysql
	Path     string `yaml:"path"`     // sqlite database file, relative to the repository root
	Host     string `yaml:"host"`     // mysql host
	Port     string `yaml:"port"`     // mysql port
	Database string `yaml:"database"` // mysql database name
	Username string `yaml:"username"` // mysql username
	Password string `yaml:"password"` // mysql password
}

// PolicyConfig locates the dataset policy and write-recipe documents.
type PolicyConfig struct {
	Path             string `yaml:"path"`             // dataset policy file, empty uses the embedded default
	RecipeSupplement string `yaml:"recipesupplement"` // extra write recipes merged into the embedded base
}

// Settings contains all runtime settings for the resolver.
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug logging

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build

	Main struct {
		Name string    `yaml:"name"` // resolver instance name
		Log  LogConfig `yaml:"log"`  // file logging settings
	} `yaml:"main"`

	Repository    RepositoryConfig `yaml:"repository"`
	Registry      RegistryConfig   `yaml:"registry"`
	CalibRegistry RegistryConfig   `yaml:"calibregistry"` // empty driver falls back to registry
	Policy        PolicyConfig     `yaml:"policy"`
}

// CalibRegistryConfig returns the calibration registry settings, falling
// back to the exposure registry when no separate backend is configured.
func (s *Settings) CalibRegistryConfig() *RegistryConfig {
	if s.CalibRegistry.Driver == "" {
		return &s.Registry
	}
	return &s.CalibRegistry
}

// CalibRoot returns the calibration repository root, defaulting to the data
// root when unset.
func (s *Settings) CalibRoot() string {
	if s.Repository.CalibRoot == "" {
		return s.Repository.Root
	}
	return s.Repository.CalibRoot
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Defaults are defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// GetDefaultConfigPaths returns a list of default configuration paths for the
// current operating system, based on standard conventions for storing
// application configuration files. If a config.yaml file is found in any of
// the paths, that path is returned as the only default.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "obs-base"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "obs-base"),
			"/etc/obs-base",
		}
	}

	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// FindConfigFile locates the active configuration file.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "find-config-paths").
			Build()
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Category(errors.CategoryConfiguration).
		Context("operation", "find-config-file").
		Build()
}
