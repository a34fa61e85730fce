// Package runtime assembles the resolver engine from settings. It opens the
// metadata registries, locates the repository roots, loads the dataset policy
// and write recipes, and wires them into a mapper ready for resolution.
package runtime

import (
	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/mapper"
	"github.com/mwittgen/obs-base/internal/observability"
	"github.com/mwittgen/obs-base/internal/recipe"
	"github.com/mwittgen/obs-base/internal/registry"
	"github.com/mwittgen/obs-base/internal/storage"
)

// Context holds the assembled engine plus runtime metadata that is not
// user-configurable. Build metadata is injected at application startup and
// is not part of the configuration system.
type Context struct {
	// Settings the engine was built from.
	Settings *conf.Settings

	// Version holds the Git version tag from build.
	Version string

	// BuildDate is the time when the binary was built.
	BuildDate string

	// Metrics carries the Prometheus collectors shared by the engine.
	Metrics *observability.Metrics

	// Mapper is the resolution engine.
	Mapper *mapper.Mapper

	registry      registry.Interface
	calibRegistry registry.Interface
}

// Build assembles a resolver engine from settings. The returned context owns
// the opened registry connections; callers must Close it when done.
func Build(settings *conf.Settings) (*Context, error) {
	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	policy, err := conf.LoadPolicy(settings.Policy.Path)
	if err != nil {
		return nil, err
	}

	recipes, err := recipe.Load(settings.Policy.RecipeSupplement)
	if err != nil {
		return nil, err
	}

	reg := registry.New(&settings.Registry, settings.Repository.Root, metrics.Registry)
	if reg == nil {
		return nil, errors.Newf("unsupported registry driver %q", settings.Registry.Driver).
			Component("runtime").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := reg.Open(); err != nil {
		return nil, err
	}

	// A dedicated calibration registry is opened only when configured.
	// Policies that require one refuse to fall back to the exposure
	// registry, matching the repositories they describe.
	var calibReg registry.Interface
	if settings.CalibRegistry.Driver != "" {
		calibReg = registry.New(&settings.CalibRegistry, settings.CalibRoot(), metrics.Registry)
		if calibReg == nil {
			_ = reg.Close()
			return nil, errors.Newf("unsupported calibration registry driver %q", settings.CalibRegistry.Driver).
				Component("runtime").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if err := calibReg.Open(); err != nil {
			_ = reg.Close()
			return nil, err
		}
	} else if policy.NeedCalibRegistry {
		_ = reg.Close()
		return nil, errors.Newf("dataset policy requires a calibration registry but calibregistry.driver is not set").
			Component("runtime").
			Category(errors.CategoryConfiguration).
			Build()
	}

	root := storage.NewPosix(settings.Repository.Root)
	var calibRoot storage.Interface
	if settings.CalibRoot() != settings.Repository.Root {
		calibRoot = storage.NewPosix(settings.CalibRoot())
	}

	m, err := mapper.New(mapper.Config{
		Policy:        policy,
		Registry:      reg,
		CalibRegistry: calibReg,
		Root:          root,
		CalibRoot:     calibRoot,
		Recipes:       recipes,
		Metrics:       metrics.Resolver,
	})
	if err != nil {
		_ = reg.Close()
		if calibReg != nil {
			_ = calibReg.Close()
		}
		return nil, err
	}

	return &Context{
		Settings:      settings,
		Version:       settings.Version,
		BuildDate:     settings.BuildDate,
		Metrics:       metrics,
		Mapper:        m,
		registry:      reg,
		calibRegistry: calibReg,
	}, nil
}

// Close releases the registry connections. It is safe to call on a context
// whose registries were never opened.
func (c *Context) Close() error {
	var firstErr error
	if c.calibRegistry != nil {
		if err := c.calibRegistry.Close(); err != nil {
			firstErr = err
		}
		c.calibRegistry = nil
	}
	if c.registry != nil {
		if err := c.registry.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.registry = nil
	}
	return firstErr
}

// VersionString formats the build version for display, substituting
// "unknown" when the binary was built without version injection.
func (c *Context) VersionString() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}
