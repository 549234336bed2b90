// Package types holds the data model shared across dobbyd's subsystems:
// the container table, plugin capability bitmask, and network/rule-set
// shapes that the container manager, plugin manager and network engine
// all need without importing each other.
package types

import "time"

// ContainerId is restricted to a filename-safe token: the container
// manager rejects anything that would not also be a valid path component,
// since it is used verbatim as a file name (the IP allocator store) and
// as the OCI runtime's container id.
type ContainerId string

// Descriptor is a process-wide monotonic handle for external callers.
// It is never reused within a daemon lifetime.
type Descriptor int32

// State is the lifecycle state of a container, driven exclusively by the
// Container Manager.
type State int

const (
	StateInvalid State = iota
	StateStarting
	StateRunning
	StateStopping
	StatePaused
	StateHibernated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StatePaused:
		return "Paused"
	case StateHibernated:
		return "Hibernated"
	default:
		return "Invalid"
	}
}

// Container is the daemon's in-memory record for a single container.
// Only the Container Manager's work-queue and reaper goroutines mutate
// one, and only while holding the table lock.
type Container struct {
	Id          ContainerId
	Descriptor  Descriptor
	BundlePath  string
	RootfsPath  string
	State       State

	RuntimePid int // pid of the OCI runtime subprocess (e.g. crun)
	InitPid    int // pid of the container's own init process

	Command       []string // optional custom command override
	DisplaySocket string   // optional Wayland/X11 socket path
	Files         []int    // extra fds inherited from the start request

	Config  *OCIConfig
	Plugins []string // plugin names declared by this container's config

	CreatedAt time.Time
}

// OCIConfig is a minimal mutable view over the OCI runtime bundle's
// config.json tree. dobbyd treats it as a tree with known fields rather
// than round-tripping through a full libocispec-equivalent schema — JSON
// (de)serialization fidelity for the rest of the spec is an out-of-scope
// external collaborator.
type OCIConfig struct {
	OCIVersion  string                  `json:"ociVersion,omitempty"`
	Hostname    string                  `json:"hostname,omitempty"`
	Mounts      []Mount                 `json:"mounts,omitempty"`
	Hooks       Hooks                   `json:"hooks"`
	Annotations map[string]string       `json:"annotations,omitempty"`
	Namespaces  []Namespace             `json:"-"`
	RDKPlugins  map[string]PluginConfig `json:"rdkPlugins,omitempty"`
	Process     ProcessSpec             `json:"process"`
	Raw         map[string]any          `json:"-"` // not filled on load nor written on save; unmodelled fields are dropped
}

// Mount mirrors an OCI bundle mount entry.
type Mount struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Type        string   `json:"type,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// Namespace mirrors an OCI namespace entry.
type Namespace struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// ProcessSpec carries the fields of the OCI process stanza dobbyd cares
// about (env passthrough for hooks, not the full spec).
type ProcessSpec struct {
	Args []string `json:"args,omitempty"`
	Env  []string `json:"env,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`
}

// Hook is a single OCI lifecycle hook entry.
type Hook struct {
	Path    string   `json:"path"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	Timeout *int     `json:"timeout,omitempty"`
}

// Hooks groups the OCI hook arrays dobbyd rewrites.
type Hooks struct {
	Prestart        []Hook `json:"prestart,omitempty"` // legacy, cleared by the Bundle Transformer
	CreateRuntime   []Hook `json:"createRuntime,omitempty"`
	CreateContainer []Hook `json:"createContainer,omitempty"`
	StartContainer  []Hook `json:"startContainer,omitempty"`
	PostStart       []Hook `json:"poststart,omitempty"`
	PostStop        []Hook `json:"poststop,omitempty"`
}

// PluginConfig is one entry in the config's plugin list: a name, whether
// the hook chain must abort if it's missing or fails, and its opaque
// per-plugin data blob.
type PluginConfig struct {
	Required bool           `json:"required"`
	Data     map[string]any `json:"data,omitempty"`
}

// NetworkInfo is the persisted networking allocation for one container,
// as written by the IP Allocator (spec: one line "<ipv4-int>/<vethName>").
type NetworkInfo struct {
	ContainerId ContainerId
	VethName    string
	IPv4        uint32 // host-order
	IPv6        *[16]byte
}

// Table is an iptables table name for netfilter rule assembly.
type Table string

const (
	TableRaw      Table = "raw"
	TableNat      Table = "nat"
	TableMangle   Table = "mangle"
	TableFilter   Table = "filter"
	TableSecurity Table = "security"
)

// Family is an iptables address family.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// RuleOp is the pending operation for a cached rule.
type RuleOp int

const (
	OpAppend RuleOp = iota
	OpInsert
	OpDelete
	OpUnchanged
)

// RuleSet maps a table to its ordered rule lines, as produced by parsing
// iptables-save output or staged for iptables-restore.
type RuleSet map[Table][]string

// HookPoint is one of the eight points a plugin may implement.
type HookPoint int

const (
	HookPostInstallation HookPoint = iota
	HookPreCreation
	HookCreateRuntime
	HookCreateContainer
	HookStartContainer
	HookPostStart
	HookPostHalt
	HookPostStop
)

func (h HookPoint) String() string {
	switch h {
	case HookPostInstallation:
		return "postinstallation"
	case HookPreCreation:
		return "precreation"
	case HookCreateRuntime:
		return "createRuntime"
	case HookCreateContainer:
		return "createContainer"
	case HookStartContainer:
		return "startContainer"
	case HookPostStart:
		return "poststart"
	case HookPostHalt:
		return "posthalt"
	case HookPostStop:
		return "poststop"
	default:
		return "unknown"
	}
}

// Capability is a bitmask of HookPoints a plugin reports implementing.
type Capability uint16

func (c Capability) Has(h HookPoint) bool {
	return c&(1<<uint(h)) != 0
}

func CapabilityOf(points ...HookPoint) Capability {
	var c Capability
	for _, p := range points {
		c |= 1 << uint(p)
	}
	return c
}

// LogTarget is the bitmask for SetLogMethod.
type LogTarget uint32

const (
	LogConsole  LogTarget = 0x1
	LogSysLog   LogTarget = 0x2
	LogDiag     LogTarget = 0x4
	LogJournald LogTarget = 0x8
)
