// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "obs-base")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/resolver.log")

	viper.SetDefault("repository.root", ".")
	viper.SetDefault("repository.calibroot", "")

	viper.SetDefault("registry.driver", DriverSQLite)
	viper.SetDefault("registry.path", "registry.sqlite3")
	viper.SetDefault("registry.host", "localhost")
	viper.SetDefault("registry.port", "3306")
	viper.SetDefault("registry.database", "")
	viper.SetDefault("registry.username", "")
	viper.SetDefault("registry.password", "")

	viper.SetDefault("calibregistry.driver", DriverSQLite)
	viper.SetDefault("calibregistry.path", "calibRegistry.sqlite3")

	viper.SetDefault("policy.path", "")
	viper.SetDefault("policy.recipesupplement", "")
}
