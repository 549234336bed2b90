// Package config defines the shape of dobbyd's settings file. Parsing a
// real settings file from disk is out of scope; Settings exists so the
// rest of the daemon (external interface allow-lists, plugin search
// paths, network defaults) has a single struct to depend on, and so a
// future loader has somewhere to deserialize into.
package config

// Settings mirrors the top-level fields of dobbyd's settings file.
type Settings struct {
	// ExternalInterfaces lists IPC method names; Default fills it with
	// every Dispatcher method. Nothing in the daemon reads it, and the
	// Dispatcher answers every method regardless of it.
	ExternalInterfaces []string `yaml:"externalInterfaces"`

	// PluginDirs are searched in order for hook plugins (pkg/pluginmgr).
	PluginDirs []string `yaml:"pluginDirs"`

	// DataDir holds the descriptor store's persisted state across
	// restarts.
	DataDir string `yaml:"dataDir"`

	Network NetworkSettings `yaml:"network"`
	Logging LoggingSettings `yaml:"logging"`
}

// NetworkSettings configures the built-in network engine.
type NetworkSettings struct {
	BridgeName       string `yaml:"bridgeName"`
	ExternalIface    string `yaml:"externalInterface"`
	SmcrouteConfPath string `yaml:"smcrouteConfPath"`
}

// LoggingSettings configures the default log method and level before any
// SetLogMethod/SetLogLevel IPC call overrides them at runtime.
type LoggingSettings struct {
	Level     string `yaml:"level"`
	JSON      bool   `yaml:"json"`
	EthanPipe string `yaml:"ethanLoggingPipe"`
}

// Default returns the settings dobbyd falls back to when no settings file
// is supplied.
func Default() Settings {
	return Settings{
		ExternalInterfaces: []string{
			"Ping", "Shutdown", "SetLogMethod", "SetLogLevel", "SetAIDbusAddress",
			"Start", "Stop", "Pause", "Resume", "Hibernate", "Wakeup", "Exec",
			"GetState", "GetInfo", "List", "AddMount", "RemoveMount", "AddAnnotation",
		},
		DataDir: "/var/lib/dobbyd",
		Network: NetworkSettings{
			BridgeName:       "dobby0",
			SmcrouteConfPath: "/opt/smcroute.conf",
		},
		Logging: LoggingSettings{
			Level:     "info",
			EthanPipe: "/dev/null",
		},
	}
}
