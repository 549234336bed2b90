package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/bundle"
	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/pluginmgr"
	"github.com/rdkcentral/dobbyd/pkg/types"
)

// defaultPluginDir matches the original tool's build-time PLUGIN_PATH
// default (spec §6's filesystem layout).
const defaultPluginDir = "/usr/lib/plugins/dobby"

// hookTimeout is the single shared per-hook deadline every plugin gets,
// mirroring the original tool's fixed 4000ms budget passed to
// runPlugins.
const hookTimeout = 4 * time.Second

var hookNames = map[string]types.HookPoint{
	"postinstallation": types.HookPostInstallation,
	"precreation":      types.HookPreCreation,
	"createruntime":    types.HookCreateRuntime,
	"createcontainer":  types.HookCreateContainer,
	"startcontainer":   types.HookStartContainer,
	"poststart":        types.HookPostStart,
	"posthalt":         types.HookPostHalt,
	"poststop":         types.HookPostStop,
}

// ociState is the subset of the OCI runtime `state` JSON (fed on stdin by
// the runtime when invoking a hook) the launcher needs: the container id.
type ociState struct {
	ID string `json:"id"`
}

func main() {
	hookName := flag.String("h", "", "Name of the hook to run")
	configPath := flag.String("c", "", "Path to container OCI config")
	pluginDir := flag.String("plugin-dir", defaultPluginDir, "Directory plugins are loaded from")
	verbose := flag.Bool("v", false, "Increase the log level")
	help := flag.Bool("H", false, "Print usage and exit")
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}

	level := log.InfoLevel
	if *verbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, Output: os.Stderr})

	if *hookName == "" {
		fmt.Fprintln(os.Stderr, "Must give a hook name to execute")
		os.Exit(1)
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Path to container's OCI config is required")
		os.Exit(1)
	}

	hookPoint, ok := hookNames[strings.ToLower(*hookName)]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown hook point %s\n", *hookName)
		os.Exit(1)
	}

	if err := run(hookPoint, *configPath, *pluginDir); err != nil {
		fmt.Fprintf(os.Stderr, "Hook %s failed: %v\n", *hookName, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf("Usage: dobby-plugin-launcher <option(s)>\n")
	fmt.Printf("  Tool to run dobbyd plugins loaded from %s\n\n", defaultPluginDir)
	fmt.Printf("  -H                     Print this help and exit\n")
	fmt.Printf("  -v                     Increase the log level\n\n")
	fmt.Printf("  -h <hookName>          Specify the hook to run\n")
	fmt.Printf("  -c <path>              Path to container OCI config\n")
}

func run(hookPoint types.HookPoint, configPath, pluginDir string) error {
	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve config path %s: %w", configPath, err)
	}

	cfg, err := bundle.LoadConfig(absConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	state, err := readState(os.Stdin)
	if err != nil {
		return fmt.Errorf("read container state from stdin: %w", err)
	}

	if len(cfg.RDKPlugins) == 0 {
		fmt.Fprintln(os.Stderr, "No plugins listed in config - nothing to do")
		return nil
	}

	plugins, err := pluginmgr.Load(pluginDir)
	if err != nil {
		return fmt.Errorf("load plugins from %s: %w", pluginDir, err)
	}

	container := &types.Container{
		Id:         types.ContainerId(state.ID),
		BundlePath: filepath.Dir(absConfigPath),
		RootfsPath: filepath.Join(filepath.Dir(absConfigPath), "rootfs"),
		Config:     cfg,
	}
	for name := range cfg.RDKPlugins {
		container.Plugins = append(container.Plugins, name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	return plugins.RunHook(ctx, hookPoint, container)
}

// readState reads the OCI runtime's `state` JSON from stdin. The
// original tool tolerated trailing garbage bytes after the closing
// brace; encoding/json.Decoder does the same by construction, since it
// only consumes as much input as one JSON value needs and never errors
// on what follows.
func readState(r io.Reader) (ociState, error) {
	var state ociState
	dec := json.NewDecoder(r)
	if err := dec.Decode(&state); err != nil {
		return ociState{}, err
	}
	return state, nil
}
