// Package containermgr is the Container Manager: the table of live
// containers, keyed by both ContainerId and the monotonic Descriptor
// handed out to external callers, and the operations that drive a
// container through its lifecycle.
//
// Every mutating method here is called from a single goroutine — the
// daemon's work-queue consumer. The one other writer is the reaper's
// goroutine, which removes a container once its init process exits; the
// table's lock guards the table against it and against read-only queries
// (list, stateOf, statsOf, ociConfigOf). See pkg/workqueue.
package containermgr

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/bundle"
	"github.com/rdkcentral/dobbyd/pkg/descriptorstore"
	"github.com/rdkcentral/dobbyd/pkg/events"
	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/pluginmgr"
	"github.com/rdkcentral/dobbyd/pkg/runtimedriver"
	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/rs/zerolog"
)

// RuntimeDriver is the subset of *runtimedriver.Driver the Container
// Manager calls; pulled out as an interface so tests can substitute a
// fake instead of shelling out to a real OCI runtime binary.
type RuntimeDriver interface {
	Create(ctx context.Context, id, bundlePath, pidFile, consoleSocketPath string) (runtimedriver.CreateResult, error)
	Start(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, initPid int, withPrejudice bool) error
	Exec(ctx context.Context, id string, args []string) (int, error)
}

// NetworkEngine is the subset of *netengine.Engine the Container Manager
// calls directly around create/destroy.
type NetworkEngine interface {
	WriteResolvConf(rootfsPath string) error
	DetachContainer(id types.ContainerId) error
}

// Manager owns the container table and drives every lifecycle operation.
// netengine is wired here as dobbyd's own built-in network participant —
// invoked directly around create/destroy rather than routed through the
// dynamically loaded plugin chain pluginmgr dispatches everything else
// through, since it's a daemon-internal responsibility with no on-disk
// .so of its own.
type Manager struct {
	mu       sync.RWMutex
	byId     map[types.ContainerId]*types.Container
	byDescr  map[types.Descriptor]types.ContainerId

	descriptors *descriptorstore.Store
	plugins     *pluginmgr.Manager
	runtime     RuntimeDriver
	net         NetworkEngine
	reaper      *runtimedriver.Reaper
	broker      *events.Broker

	launcherDebug bool
	logger        zerolog.Logger
}

// New wires a Container Manager from its already-constructed
// dependencies; New itself does not start anything.
func New(
	descriptors *descriptorstore.Store,
	plugins *pluginmgr.Manager,
	runtime RuntimeDriver,
	net NetworkEngine,
	broker *events.Broker,
	launcherDebug bool,
) *Manager {
	logger := log.WithComponent("containermgr")
	return &Manager{
		byId:          make(map[types.ContainerId]*types.Container),
		byDescr:       make(map[types.Descriptor]types.ContainerId),
		descriptors:   descriptors,
		plugins:       plugins,
		runtime:       runtime,
		net:           net,
		reaper:        runtimedriver.NewReaper(logger),
		broker:        broker,
		launcherDebug: launcherDebug,
		logger:        logger,
	}
}

// StartFromBundle creates and starts a new container from an OCI bundle
// directory. It refuses if id is already present or is not a valid path
// component. On success the container is in StateRunning and the returned
// descriptor stays valid until the container's init process exits; it is
// never reused within the daemon's lifetime.
func (m *Manager) StartFromBundle(id types.ContainerId, bundlePath string, files []int, command []string, displaySocket string) (types.Descriptor, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(string(id), "/\x00") {
		return 0, fmt.Errorf("invalid container id %q", id)
	}

	m.mu.Lock()
	if _, exists := m.byId[id]; exists {
		m.mu.Unlock()
		return 0, fmt.Errorf("container %s already exists", id)
	}
	m.mu.Unlock()

	configPath := filepath.Join(bundlePath, "config.json")
	cfg, err := bundle.LoadConfig(configPath)
	if err != nil {
		return 0, fmt.Errorf("load bundle config: %w", err)
	}

	container := &types.Container{
		Id:            id,
		BundlePath:    bundlePath,
		RootfsPath:    filepath.Join(bundlePath, "rootfs"),
		State:         types.StateStarting,
		Command:       command,
		DisplaySocket: displaySocket,
		Files:         files,
		Config:        cfg,
		CreatedAt:     time.Now(),
	}
	for name := range cfg.RDKPlugins {
		container.Plugins = append(container.Plugins, name)
	}

	ctx := context.Background()

	if bundle.HasRDKPlugins(cfg) {
		if err := m.plugins.RunHook(ctx, types.HookPostInstallation, container); err != nil {
			return 0, fmt.Errorf("postInstallation hook: %w", err)
		}
		if err := m.plugins.RunHook(ctx, types.HookPreCreation, container); err != nil {
			return 0, fmt.Errorf("preCreation hook: %w", err)
		}
	}

	if bundle.HasRDKPlugins(cfg) {
		if err := bundle.Transform(cfg, configPath, m.launcherDebug); err != nil {
			return 0, fmt.Errorf("transform bundle config: %w", err)
		}
		if err := bundle.SaveConfig(configPath, cfg); err != nil {
			return 0, fmt.Errorf("save transformed config: %w", err)
		}
	}

	if err := m.net.WriteResolvConf(container.RootfsPath); err != nil {
		m.logger.Warn().Err(err).Str("container_id", string(id)).Msg("failed to write resolv.conf, continuing without DNS redirect")
	}

	pidFile := filepath.Join(bundlePath, "init.pid")
	result, err := m.runtime.Create(ctx, string(id), bundlePath, pidFile, "")
	if err != nil {
		return 0, fmt.Errorf("runtime create: %w", err)
	}
	container.InitPid = result.InitPid

	if err := m.runtime.Start(ctx, string(id)); err != nil {
		return 0, fmt.Errorf("runtime start: %w", err)
	}
	container.State = types.StateRunning

	descriptor, err := m.descriptors.Next(id)
	if err != nil {
		return 0, fmt.Errorf("assign descriptor: %w", err)
	}
	container.Descriptor = descriptor

	m.mu.Lock()
	m.byId[id] = container
	m.byDescr[descriptor] = id
	m.mu.Unlock()

	m.reaper.Watch(container.InitPid, func(pid int) { m.onInitExit(id, pid) })

	m.publishEvent(events.EventStarted, container)
	m.logger.Info().Str("container_id", string(id)).Int32("descriptor", int32(descriptor)).Msg("container started")

	return descriptor, nil
}

// Stop sends SIGTERM (or SIGKILL if withPrejudice) to the container's
// init process via the Runtime Driver. Final table cleanup happens when
// the reaper observes the process exit, not here.
func (m *Manager) Stop(descriptor types.Descriptor, withPrejudice bool) error {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return err
	}

	m.mu.Lock()
	container.State = types.StateStopping
	m.mu.Unlock()

	return m.runtime.Stop(context.Background(), string(container.Id), container.InitPid, withPrejudice)
}

// Pause freezes the container's cgroup via the runtime binary.
func (m *Manager) Pause(descriptor types.Descriptor) error {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return err
	}
	if err := m.runtime.Pause(context.Background(), string(container.Id)); err != nil {
		return err
	}
	m.mu.Lock()
	container.State = types.StatePaused
	m.mu.Unlock()
	m.publishEvent(events.EventContainerPaused, container)
	return nil
}

// Resume thaws a paused container via the runtime binary.
func (m *Manager) Resume(descriptor types.Descriptor) error {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return err
	}
	if err := m.runtime.Resume(context.Background(), string(container.Id)); err != nil {
		return err
	}
	m.mu.Lock()
	container.State = types.StateRunning
	m.mu.Unlock()
	m.publishEvent(events.EventContainerResumed, container)
	return nil
}

// Hibernate freezes a container the same way Pause does; it is kept as a
// distinct operation (rather than an alias) because the real daemon's
// hibernate path additionally serializes container state to disk via
// CRIU, which is out of scope here — this is a deliberate simplification,
// see DESIGN.md.
func (m *Manager) Hibernate(descriptor types.Descriptor) error {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return err
	}
	if err := m.runtime.Pause(context.Background(), string(container.Id)); err != nil {
		return err
	}
	m.mu.Lock()
	container.State = types.StateHibernated
	m.mu.Unlock()
	m.publishEvent(events.EventContainerHibernated, container)
	return nil
}

// Wakeup resumes a hibernated container.
func (m *Manager) Wakeup(descriptor types.Descriptor) error {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return err
	}
	if err := m.runtime.Resume(context.Background(), string(container.Id)); err != nil {
		return err
	}
	m.mu.Lock()
	container.State = types.StateRunning
	m.mu.Unlock()
	return nil
}

// Exec spawns a new process inside a running container via the runtime's
// exec subcommand, returning its pid.
func (m *Manager) Exec(descriptor types.Descriptor, command []string) (int, error) {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return 0, err
	}
	return m.runtime.Exec(context.Background(), string(container.Id), command)
}

// AddMount appends a bind mount to a container's tracked OCI config. It
// only updates dobbyd's own bookkeeping; it does not inject the mount into
// an already-running container's mount namespace (that would need the
// runtime's own "update" support, which crun does not expose for mounts) —
// the mount takes effect from the container's next restart. A deliberate
// simplification, see DESIGN.md.
func (m *Manager) AddMount(descriptor types.Descriptor, mount types.Mount) error {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	container.Config.Mounts = append(container.Config.Mounts, mount)
	return nil
}

// RemoveMount removes the first tracked mount matching destination.
func (m *Manager) RemoveMount(descriptor types.Descriptor, destination string) error {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, mnt := range container.Config.Mounts {
		if mnt.Destination == destination {
			container.Config.Mounts = append(container.Config.Mounts[:i], container.Config.Mounts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no mount at destination %s", destination)
}

// AddAnnotation sets a key/value pair on a container's tracked OCI config.
func (m *Manager) AddAnnotation(descriptor types.Descriptor, key, value string) error {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if container.Config.Annotations == nil {
		container.Config.Annotations = make(map[string]string)
	}
	container.Config.Annotations[key] = value
	return nil
}

// ContainerRef is a (descriptor, id) pair as returned by List.
type ContainerRef struct {
	Descriptor types.Descriptor
	Id         types.ContainerId
}

// List returns every live container's descriptor and id.
func (m *Manager) List() []ContainerRef {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make([]ContainerRef, 0, len(m.byDescr))
	for descriptor, id := range m.byDescr {
		refs = append(refs, ContainerRef{Descriptor: descriptor, Id: id})
	}
	return refs
}

// CountsByState returns the number of live containers in each lifecycle
// state, for the metrics collector.
func (m *Manager) CountsByState() map[types.State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[types.State]int)
	for _, container := range m.byId {
		counts[container.State]++
	}
	return counts
}

// StateOf returns the current lifecycle state of a container.
func (m *Manager) StateOf(descriptor types.Descriptor) (types.State, error) {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return types.StateInvalid, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return container.State, nil
}

// StatsOf returns a minimal stats snapshot for a container; dobbyd
// reports only what it tracks itself (pids), not a full cgroup stats
// dump, as the runtime's own introspection commands are the source of
// truth for anything heavier (spec's "roughly correlates to runc events
// --stats" note).
type Stats struct {
	RuntimePid int
	InitPid    int
	State      types.State
}

func (m *Manager) StatsOf(descriptor types.Descriptor) (Stats, error) {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return Stats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{RuntimePid: container.RuntimePid, InitPid: container.InitPid, State: container.State}, nil
}

// OCIConfigOf returns the (transformed) OCI config for a container, for
// diagnostic/debugging IPC callers.
func (m *Manager) OCIConfigOf(descriptor types.Descriptor) (*types.OCIConfig, error) {
	container, err := m.lookupByDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return container.Config, nil
}

func (m *Manager) lookupByDescriptor(descriptor types.Descriptor) (*types.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDescr[descriptor]
	if !ok {
		return nil, fmt.Errorf("no container with descriptor %d", descriptor)
	}
	return m.byId[id], nil
}

// onInitExit runs PostHalt, tears down networking, runs PostStop, and
// removes the container from the table. It runs on the reaper's own
// goroutine, so it takes the table lock itself rather than assuming the
// work-queue's serialization.
func (m *Manager) onInitExit(id types.ContainerId, pid int) {
	m.mu.RLock()
	container, ok := m.byId[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	ctx := context.Background()
	if bundle.HasRDKPlugins(container.Config) {
		if err := m.plugins.RunHook(ctx, types.HookPostHalt, container); err != nil {
			m.logger.Warn().Err(err).Str("container_id", string(id)).Msg("postHalt hook failed")
			m.publishEvent(events.EventHookFailed, container)
		}
	}

	if err := m.net.DetachContainer(id); err != nil {
		m.logger.Warn().Err(err).Str("container_id", string(id)).Msg("failed to detach container networking")
	}

	if bundle.HasRDKPlugins(container.Config) {
		if err := m.plugins.RunHook(ctx, types.HookPostStop, container); err != nil {
			m.logger.Warn().Err(err).Str("container_id", string(id)).Msg("postStop hook failed")
		}
	}

	m.mu.Lock()
	delete(m.byId, id)
	delete(m.byDescr, container.Descriptor)
	m.mu.Unlock()

	m.publishEvent(events.EventStopped, container)
	m.logger.Info().Str("container_id", string(id)).Int("pid", pid).Msg("container removed from table")
}

// Shutdown stops every still-running container, used by the daemon's
// graceful-shutdown path.
func (m *Manager) Shutdown(withPrejudice bool) {
	m.mu.RLock()
	descriptors := make([]types.Descriptor, 0, len(m.byDescr))
	for d := range m.byDescr {
		descriptors = append(descriptors, d)
	}
	m.mu.RUnlock()

	for _, d := range descriptors {
		if err := m.Stop(d, withPrejudice); err != nil {
			m.logger.Warn().Err(err).Int32("descriptor", int32(d)).Msg("error stopping container during shutdown")
		}
	}

	m.reaper.Stop()
}

func (m *Manager) publishEvent(eventType events.EventType, container *types.Container) {
	m.broker.Publish(&events.Event{
		Type: eventType,
		Metadata: map[string]string{
			"container_id": string(container.Id),
			"descriptor":   strconv.Itoa(int(container.Descriptor)),
		},
	})
}
