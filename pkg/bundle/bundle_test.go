package bundle

import (
	"testing"

	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformInjectsLauncherHooksAndMount(t *testing.T) {
	cfg := &types.OCIConfig{
		RDKPlugins: map[string]types.PluginConfig{"networking": {Required: true}},
		Hooks: types.Hooks{
			Prestart: []types.Hook{{Path: "/legacy/hook"}},
		},
	}

	require.NoError(t, Transform(cfg, "/bundle/config.json", false))

	assert.Empty(t, cfg.Hooks.Prestart)
	assert.Len(t, cfg.Hooks.CreateRuntime, 1)
	assert.Len(t, cfg.Hooks.CreateContainer, 1)
	assert.Len(t, cfg.Hooks.StartContainer, 1)
	assert.Len(t, cfg.Hooks.PostStart, 1)
	assert.Len(t, cfg.Hooks.PostStop, 1)

	entry := cfg.Hooks.CreateRuntime[0]
	assert.Equal(t, LauncherPath, entry.Path)
	assert.Equal(t, []string{LauncherPath, "-h", "createRuntime", "-c", "/bundle/config.json"}, entry.Args)

	require.Len(t, cfg.Mounts, 1)
	assert.Equal(t, LauncherMountDestination, cfg.Mounts[0].Destination)
}

func TestTransformIsIdempotent(t *testing.T) {
	cfg := &types.OCIConfig{RDKPlugins: map[string]types.PluginConfig{"networking": {}}}

	require.NoError(t, Transform(cfg, "/bundle/config.json", false))
	require.NoError(t, Transform(cfg, "/bundle/config.json", false))

	assert.Len(t, cfg.Hooks.CreateRuntime, 1)
	assert.Len(t, cfg.Mounts, 1)
}

func TestTransformAddsVerboseFlagInDebug(t *testing.T) {
	cfg := &types.OCIConfig{RDKPlugins: map[string]types.PluginConfig{"networking": {}}}

	require.NoError(t, Transform(cfg, "/bundle/config.json", true))

	assert.Contains(t, cfg.Hooks.CreateRuntime[0].Args, "-v")
}

func TestHasRDKPlugins(t *testing.T) {
	assert.False(t, HasRDKPlugins(&types.OCIConfig{}))
	assert.True(t, HasRDKPlugins(&types.OCIConfig{RDKPlugins: map[string]types.PluginConfig{"x": {}}}))
}
