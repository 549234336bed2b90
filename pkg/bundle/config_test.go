package bundle

import (
	"path/filepath"
	"testing"

	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	original := &types.OCIConfig{
		OCIVersion:  "1.0.2",
		Hostname:    "mycontainer",
		RDKPlugins:  map[string]types.PluginConfig{"networking": {Required: true}},
		Annotations: map[string]string{"com.example.tag": "v1"},
	}

	require.NoError(t, SaveConfig(path, original))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, original.OCIVersion, loaded.OCIVersion)
	assert.Equal(t, original.Hostname, loaded.Hostname)
	assert.Equal(t, original.RDKPlugins, loaded.RDKPlugins)
	assert.Equal(t, original.Annotations, loaded.Annotations)
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
