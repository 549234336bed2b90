package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestDefaultIncludesEveryDispatcherMethod(t *testing.T) {
	d := Default()
	for _, want := range []string{
		"Ping", "Shutdown", "SetLogMethod", "SetLogLevel", "SetAIDbusAddress",
		"Start", "Stop", "Pause", "Resume", "Hibernate", "Wakeup", "Exec",
		"GetState", "GetInfo", "List", "AddMount", "RemoveMount", "AddAnnotation",
	} {
		assert.Contains(t, d.ExternalInterfaces, want)
	}
}

func TestSettingsRoundTripsThroughYAML(t *testing.T) {
	in := Settings{
		ExternalInterfaces: []string{"Ping", "Start"},
		PluginDirs:         []string{"/usr/lib/plugins/dobby"},
		DataDir:            "/tmp/dobby-data",
		Network: NetworkSettings{
			BridgeName:    "dobby0",
			ExternalIface: "eth0",
		},
		Logging: LoggingSettings{
			Level: "debug",
			JSON:  true,
		},
	}

	raw, err := yaml.Marshal(in)
	assert.NoError(t, err)

	var out Settings
	assert.NoError(t, yaml.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}
