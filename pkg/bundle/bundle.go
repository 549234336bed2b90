// Package bundle transforms an OCI runtime bundle's config.json so its
// lifecycle hooks invoke dobbyd's plugin launcher instead of running
// directly, and injects the launcher binary's own bind mount.
//
// dobbyd never lets an OCI runtime hook call a plugin directly: instead
// every hook point the plugin manager might need (createRuntime,
// createContainer, startContainer, poststart, poststop) is rewritten to
// exec the dobby-plugin-launcher binary with "-h <hookName> -c
// <configPath>", and the launcher reads the plugin list back out of the
// same config at run time (spec §5). This keeps the OCI runtime itself
// completely unaware of dobbyd's plugin system.
package bundle

import (
	"fmt"

	"github.com/rdkcentral/dobbyd/pkg/types"
)

// LauncherPath is the path the launcher binary is bind-mounted to inside
// the container, matching the original's fixed PLUGINLAUNCHER_PATH.
const LauncherPath = "/usr/libexec/dobby-plugin-launcher"

// LauncherMountDestination is the in-container path the launcher binary is
// mounted at; it must match LauncherPath since hooks run inside the
// container's mount namespace once createRuntime has executed.
const LauncherMountDestination = LauncherPath

var launcherHookPoints = []struct {
	name string
	get  func(*types.Hooks) *[]types.Hook
}{
	{"createRuntime", func(h *types.Hooks) *[]types.Hook { return &h.CreateRuntime }},
	{"createContainer", func(h *types.Hooks) *[]types.Hook { return &h.CreateContainer }},
	{"startContainer", func(h *types.Hooks) *[]types.Hook { return &h.StartContainer }},
	{"poststart", func(h *types.Hooks) *[]types.Hook { return &h.PostStart }},
	{"poststop", func(h *types.Hooks) *[]types.Hook { return &h.PostStop }},
}

// Transform rewrites cfg in place: clears any legacy prestart hooks (the
// spec supersedes them with the eight RDK-style hook points), injects the
// launcher bind mount, and appends a launcher invocation to each of the
// five OCI hook arrays the plugin manager can be invoked from. Transform
// is idempotent: calling it twice on an already-transformed config leaves
// it unchanged.
func Transform(cfg *types.OCIConfig, configPath string, debug bool) error {
	if cfg == nil {
		return fmt.Errorf("nil OCI config")
	}

	cfg.Hooks.Prestart = nil

	ensureLauncherMount(cfg)

	for _, hp := range launcherHookPoints {
		entries := hp.get(&cfg.Hooks)
		if hasLauncherEntry(*entries, hp.name) {
			continue
		}
		*entries = append(*entries, launcherHookEntry(hp.name, configPath, debug))
	}

	return nil
}

// launcherHookEntry builds the hook entry that execs the plugin launcher
// for a single hook point, matching the original's arg ordering
// ("-v" only in debug builds, then "-h <name> -c <configPath>").
func launcherHookEntry(name, configPath string, debug bool) types.Hook {
	args := []string{LauncherPath}
	if debug {
		args = append(args, "-v")
	}
	args = append(args, "-h", name, "-c", configPath)

	return types.Hook{
		Path: LauncherPath,
		Args: args,
	}
}

func hasLauncherEntry(hooks []types.Hook, name string) bool {
	for _, h := range hooks {
		if h.Path == LauncherPath {
			for i, a := range h.Args {
				if a == "-h" && i+1 < len(h.Args) && h.Args[i+1] == name {
					return true
				}
			}
		}
	}
	return false
}

// ensureLauncherMount adds the launcher binary's bind mount if it isn't
// already present.
func ensureLauncherMount(cfg *types.OCIConfig) {
	for _, m := range cfg.Mounts {
		if m.Destination == LauncherMountDestination {
			return
		}
	}
	cfg.Mounts = append(cfg.Mounts, types.Mount{
		Source:      LauncherPath,
		Destination: LauncherMountDestination,
		Type:        "bind",
		Options:     []string{"bind", "ro", "nosuid", "nodev"},
	})
}

// HasRDKPlugins reports whether the config declares any plugins at all;
// the bundle transformer is a no-op when there's nothing for the launcher
// to dispatch to.
func HasRDKPlugins(cfg *types.OCIConfig) bool {
	return len(cfg.RDKPlugins) > 0
}
