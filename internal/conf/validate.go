// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateMainSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRepositorySettings(&settings.Repository); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRegistrySettings(&settings.Registry, "registry"); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// The calibration registry section is optional; an empty driver means
	// the exposure registry serves calibration lookups too.
	if settings.CalibRegistry.Driver != "" {
		if err := validateRegistrySettings(&settings.CalibRegistry, "calibregistry"); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateMainSettings validates the main program settings
func validateMainSettings(settings *Settings) error {
	var errs []string

	if settings.Main.Log.Enabled && settings.Main.Log.Path == "" {
		errs = append(errs, "main.log.path is required when file logging is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("main settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateRepositorySettings validates the repository roots
func validateRepositorySettings(repo *RepositoryConfig) error {
	if repo.Root == "" {
		return fmt.Errorf("repository settings errors: repository.root must not be empty")
	}
	return nil
}

// validateRegistrySettings validates one registry backend section
func validateRegistrySettings(reg *RegistryConfig, section string) error {
	var errs []string

	switch reg.Driver {
	case DriverSQLite:
		if reg.Path == "" {
			errs = append(errs, fmt.Sprintf("%s.path is required for the sqlite driver", section))
		}
	case DriverMySQL:
		if reg.Host == "" {
			errs = append(errs, fmt.Sprintf("%s.host is required for the mysql driver", section))
		}
		if reg.Database == "" {
			errs = append(errs, fmt.Sprintf("%s.database is required for the mysql driver", section))
		}
		if reg.Username == "" {
			errs = append(errs, fmt.Sprintf("%s.username is required for the mysql driver", section))
		}
	default:
		errs = append(errs, fmt.Sprintf("%s.driver must be %q or %q, got %q", section, DriverSQLite, DriverMySQL, reg.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s settings errors: %s", section, strings.Join(errs, "; "))
	}
	return nil
}
