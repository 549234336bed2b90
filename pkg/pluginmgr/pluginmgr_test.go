package pluginmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlugin struct {
	caps types.Capability
	err  error
	runs *[]string
	name string
}

func (f *fakePlugin) Capabilities() types.Capability { return f.caps }

func (f *fakePlugin) Run(_ context.Context, _ types.HookPoint, _ *types.Container) error {
	if f.runs != nil {
		*f.runs = append(*f.runs, f.name)
	}
	return f.err
}

func newManagerWith(plugins map[string]Plugin) *Manager {
	m := &Manager{loaded: make(map[string]loadedPlugin)}
	for name, p := range plugins {
		m.loaded[name] = loadedPlugin{name: name, impl: p}
	}
	return m
}

func containerWith(plugins map[string]types.PluginConfig) *types.Container {
	return &types.Container{
		Id:     "test-container",
		Config: &types.OCIConfig{RDKPlugins: plugins},
	}
}

func TestRunHookSkipsPluginThatDoesNotImplementHook(t *testing.T) {
	var runs []string
	m := newManagerWith(map[string]Plugin{
		"networking": &fakePlugin{caps: types.CapabilityOf(types.HookPostStart), runs: &runs, name: "networking"},
	})
	c := containerWith(map[string]types.PluginConfig{"networking": {Required: true}})

	err := m.RunHook(context.Background(), types.HookCreateRuntime, c)

	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunHookAbortsWhenRequiredPluginNotLoaded(t *testing.T) {
	m := newManagerWith(nil)
	c := containerWith(map[string]types.PluginConfig{"networking": {Required: true}})

	err := m.RunHook(context.Background(), types.HookCreateRuntime, c)

	assert.Error(t, err)
}

func TestRunHookContinuesWhenOptionalPluginNotLoaded(t *testing.T) {
	var runs []string
	m := newManagerWith(map[string]Plugin{
		"logging": &fakePlugin{caps: types.CapabilityOf(types.HookCreateRuntime), runs: &runs, name: "logging"},
	})
	c := containerWith(map[string]types.PluginConfig{
		"networking": {Required: false},
		"logging":     {Required: true},
	})

	err := m.RunHook(context.Background(), types.HookCreateRuntime, c)

	require.NoError(t, err)
	assert.Equal(t, []string{"logging"}, runs)
}

func TestRunHookAbortsWhenRequiredPluginFails(t *testing.T) {
	m := newManagerWith(map[string]Plugin{
		"networking": &fakePlugin{caps: types.CapabilityOf(types.HookCreateRuntime), err: errors.New("boom")},
	})
	c := containerWith(map[string]types.PluginConfig{"networking": {Required: true}})

	err := m.RunHook(context.Background(), types.HookCreateRuntime, c)

	assert.Error(t, err)
}

func TestRunHookContinuesWhenOptionalPluginFails(t *testing.T) {
	var runs []string
	m := newManagerWith(map[string]Plugin{
		"flaky":  &fakePlugin{caps: types.CapabilityOf(types.HookCreateRuntime), err: errors.New("boom"), runs: &runs, name: "flaky"},
		"onward": &fakePlugin{caps: types.CapabilityOf(types.HookCreateRuntime), runs: &runs, name: "onward"},
	})
	c := containerWith(map[string]types.PluginConfig{
		"flaky":  {Required: false},
		"onward": {Required: false},
	})

	err := m.RunHook(context.Background(), types.HookCreateRuntime, c)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"flaky", "onward"}, runs)
}

func TestIsLoaded(t *testing.T) {
	m := newManagerWith(map[string]Plugin{"networking": &fakePlugin{}})
	assert.True(t, m.IsLoaded("networking"))
	assert.False(t, m.IsLoaded("missing"))
}

type loggingFakePlugin struct {
	fakePlugin
	lines []string
}

func (f *loggingFakePlugin) LogLine(line string) { f.lines = append(f.lines, line) }

func TestLoggingPlugins(t *testing.T) {
	logging := &loggingFakePlugin{}
	m := newManagerWith(map[string]Plugin{
		"networking": &fakePlugin{},
		"syslog":      logging,
	})

	got := m.LoggingPlugins()

	require.Len(t, got, 1)
	got[0].LogLine("hello")
	assert.Equal(t, []string{"hello"}, logging.lines)
}
