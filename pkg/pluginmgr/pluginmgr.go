// Package pluginmgr loads dobbyd's hook plugins and dispatches the eight
// lifecycle hook points to whichever plugins declare (via their
// Capability bitmask) that they implement a given hook.
//
// Plugins are ordinary Go plugin shared objects (built with `go build
// -buildmode=plugin`), loaded in sorted filename order from a plugin
// directory and looked up by the names a container's config declares.
// Each .so must export a `New` function with the signature
// `func(data map[string]any) (pluginmgr.Plugin, error)`.
package pluginmgr

import (
	"context"
	"fmt"
	"path/filepath"
	"plugin"
	"sort"

	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/rs/zerolog"
)

// Plugin is the interface every dobbyd hook plugin must implement.
// Capabilities reports which of the eight hook points the plugin
// implements; Run is called once per hook point it declares support for.
type Plugin interface {
	Capabilities() types.Capability
	Run(ctx context.Context, hook types.HookPoint, container *types.Container) error
}

// LoggingPlugin is the optional second interface a plugin may additionally
// implement to also receive log lines from the container's runtime.
type LoggingPlugin interface {
	Plugin
	LogLine(line string)
}

type loadedPlugin struct {
	name string
	impl Plugin
}

// Manager holds every successfully loaded plugin, keyed by name.
type Manager struct {
	logger  zerolog.Logger
	loaded  map[string]loadedPlugin
}

// Load dlopens (via Go's plugin package) every .so in dir, in plain
// lexicographic filename order; numbers in names are not compared by
// value, so "p10.so" loads before "p2.so".
// A plugin that fails to load is logged and skipped rather than aborting
// the whole daemon — it will simply be reported as "not loaded" to any
// container that lists it as a non-required plugin.
func Load(dir string) (*Manager, error) {
	m := &Manager{
		logger: log.WithComponent("pluginmgr"),
		loaded: make(map[string]loadedPlugin),
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return nil, fmt.Errorf("scan plugin dir %s: %w", dir, err)
	}
	sort.Strings(matches)

	for _, path := range matches {
		name := pluginNameFromPath(path)

		p, err := plugin.Open(path)
		if err != nil {
			m.logger.Error().Err(err).Str("path", path).Msg("failed to load plugin")
			continue
		}

		sym, err := p.Lookup("New")
		if err != nil {
			m.logger.Error().Err(err).Str("path", path).Msg("plugin has no New symbol")
			continue
		}

		newFn, ok := sym.(func(map[string]any) (Plugin, error))
		if !ok {
			m.logger.Error().Str("path", path).Msg("plugin New symbol has wrong signature")
			continue
		}

		impl, err := newFn(nil)
		if err != nil {
			m.logger.Error().Err(err).Str("path", path).Msg("plugin constructor failed")
			continue
		}

		m.loaded[name] = loadedPlugin{name: name, impl: impl}
		m.logger.Info().Str("plugin", name).Msg("loaded plugin")
	}

	return m, nil
}

// IsLoaded reports whether a plugin with the given name loaded
// successfully.
func (m *Manager) IsLoaded(name string) bool {
	_, ok := m.loaded[name]
	return ok
}

// RunHook dispatches one hook point to every plugin the container's config
// declares. The config's plugins are held in a map, so the order in which
// they run is not defined and need not match the config. A required plugin that is not
// loaded, or that fails at this hook, aborts the whole hook point
// immediately; a non-required plugin's absence or failure is logged and
// the remaining plugins still run — matching the original's runPlugins
// semantics exactly.
func (m *Manager) RunHook(ctx context.Context, hook types.HookPoint, container *types.Container) error {
	logger := m.logger.With().Str("hook", hook.String()).Str("container_id", string(container.Id)).Logger()

	for name, cfg := range container.Config.RDKPlugins {
		lp, loaded := m.loaded[name]

		if !loaded {
			if cfg.Required {
				return fmt.Errorf("required plugin %s is not loaded", name)
			}
			logger.Warn().Str("plugin", name).Msg("non-required plugin not loaded, continuing")
			continue
		}

		if !lp.impl.Capabilities().Has(hook) {
			logger.Debug().Str("plugin", name).Msg("plugin has nothing to do at this hook")
			continue
		}

		logger.Info().Str("plugin", name).Msg("running plugin hook")
		err := lp.impl.Run(ctx, hook, container)
		if err != nil {
			if cfg.Required {
				return fmt.Errorf("required plugin %s failed at %s: %w", name, hook, err)
			}
			logger.Warn().Str("plugin", name).Err(err).Msg("non-required plugin hook failed, continuing")
			continue
		}

		logger.Info().Str("plugin", name).Msg("plugin hook ran successfully")
	}

	return nil
}

// LoggingPlugins returns every loaded plugin that also implements
// LoggingPlugin, for wiring into the runtime driver's log relay.
func (m *Manager) LoggingPlugins() []LoggingPlugin {
	var out []LoggingPlugin
	for _, lp := range m.loaded {
		if logging, ok := lp.impl.(LoggingPlugin); ok {
			out = append(out, logging)
		}
	}
	return out
}

func pluginNameFromPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
