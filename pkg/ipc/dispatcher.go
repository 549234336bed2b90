// Package ipc is the Go-level surface a transport binding (DBus, in the
// original daemon) would call into. It owns no wire format of its own:
// method names and signatures mirror the daemon's external interface one
// for one, and every mutating method does nothing but enqueue a closure
// onto the work queue and block on its result — the actual transport
// plumbing (method dispatch, argument marshalling, reply frames) is the
// out-of-scope external collaborator named in SPEC_FULL.md.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/rdkcentral/dobbyd/pkg/containermgr"
	"github.com/rdkcentral/dobbyd/pkg/events"
	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/rdkcentral/dobbyd/pkg/watchdog"
	"github.com/rdkcentral/dobbyd/pkg/workqueue"
	"github.com/rs/zerolog"
)

// LogMethod is the bitmask of simultaneously-active log targets (spec §6).
type LogMethod uint32

const (
	LogConsole  LogMethod = 0x1
	LogSysLog   LogMethod = 0x2
	LogDiag     LogMethod = 0x4
	LogJournald LogMethod = 0x8
)

// Dispatcher is the method surface a transport binding dispatches onto.
// Mutating calls enqueue onto the work queue and block for the result;
// read-only queries (List, GetState, GetInfo) go straight to the
// Container Manager's own lock, same as spec.md §4.8 describes.
type Dispatcher struct {
	containers *containermgr.Manager
	queue      *workqueue.Queue
	broker     *events.Broker
	watchdog   *watchdog.Notifier

	logMethod LogMethod
	logLevel  int32

	logger zerolog.Logger
}

// New wires a Dispatcher from its already-constructed dependencies.
func New(containers *containermgr.Manager, queue *workqueue.Queue, broker *events.Broker) *Dispatcher {
	return &Dispatcher{
		containers: containers,
		queue:      queue,
		broker:     broker,
		logMethod:  LogConsole,
		logger:     log.WithComponent("ipc"),
	}
}

// WithWatchdog attaches a watchdog Notifier so every Ping also wags it —
// the on-demand trigger alongside pkg/watchdog's own boot-time ticker.
func (d *Dispatcher) WithWatchdog(n *watchdog.Notifier) *Dispatcher {
	d.watchdog = n
	return d
}

// Ping is a liveness check; it never touches the work queue. It also wags
// the systemd watchdog, if one is attached, on the theory that a caller
// able to reach Ping is evidence enough the daemon is alive.
func (d *Dispatcher) Ping() error {
	if d.watchdog != nil {
		return d.watchdog.Wag()
	}
	return nil
}

// Shutdown stops every running container. It does not end the daemon
// process itself. It is enqueued like any other mutating call so it can
// never race a container operation already in flight.
func (d *Dispatcher) Shutdown(withPrejudice bool) error {
	done := make(chan struct{})
	err := d.queue.Enqueue(func() {
		d.containers.Shutdown(withPrejudice)
		close(done)
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

// SetLogMethod records the requested log target bitmask; pkg/log's
// output is not changed by it. The
// original daemon additionally dup3's a caller-supplied fd over its
// internal log pipe; dobbyd has no such pipe indirection (pkg/log writes
// straight to its configured io.Writer), so a supplied fd is accepted but
// otherwise unused — a deliberate simplification, see DESIGN.md.
func (d *Dispatcher) SetLogMethod(method LogMethod, fd int) error {
	d.logMethod = method
	d.logger.Debug().Uint32("method", uint32(method)).Int("fd", fd).Msg("log method changed")
	return nil
}

// SetLogLevel changes the global log verbosity.
func (d *Dispatcher) SetLogLevel(level int32) error {
	d.logLevel = level
	switch {
	case level >= 4:
		log.SetLevel(log.DebugLevel)
	case level <= 1:
		log.SetLevel(log.ErrorLevel)
	case level == 2:
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	return nil
}

// SetAIDbusAddress records which AI-DBus bus (private or well-known) the
// daemon should advertise itself on. dobbyd implements no DBus transport
// of its own (see package doc), so this only exists to give a future
// transport binding a place to record the choice.
func (d *Dispatcher) SetAIDbusAddress(private bool, address string) error {
	d.logger.Debug().Bool("private", private).Str("address", address).Msg("ai dbus address recorded")
	return nil
}

type startResult struct {
	descriptor types.Descriptor
	err        error
}

// Start creates and starts a container from an OCI bundle.
func (d *Dispatcher) Start(id types.ContainerId, bundlePath string, files []int, command []string, displaySocket string) (types.Descriptor, error) {
	result := make(chan startResult, 1)
	err := d.queue.Enqueue(func() {
		descriptor, err := d.containers.StartFromBundle(id, bundlePath, files, command, displaySocket)
		result <- startResult{descriptor, err}
	})
	if err != nil {
		return 0, err
	}
	res := <-result
	return res.descriptor, res.err
}

// Stop sends SIGTERM, or SIGKILL if force is set, to the container's init
// process.
func (d *Dispatcher) Stop(descriptor types.Descriptor, force bool) (bool, error) {
	return d.enqueueBool(func() error { return d.containers.Stop(descriptor, force) })
}

// Pause freezes the container's cgroup.
func (d *Dispatcher) Pause(descriptor types.Descriptor) (bool, error) {
	return d.enqueueBool(func() error { return d.containers.Pause(descriptor) })
}

// Resume thaws a paused container.
func (d *Dispatcher) Resume(descriptor types.Descriptor) (bool, error) {
	return d.enqueueBool(func() error { return d.containers.Resume(descriptor) })
}

// Hibernate freezes a container; see containermgr.Manager.Hibernate for
// the scope simplification relative to the original CRIU-backed path.
func (d *Dispatcher) Hibernate(descriptor types.Descriptor) (bool, error) {
	return d.enqueueBool(func() error { return d.containers.Hibernate(descriptor) })
}

// Wakeup resumes a hibernated container.
func (d *Dispatcher) Wakeup(descriptor types.Descriptor) (bool, error) {
	return d.enqueueBool(func() error { return d.containers.Wakeup(descriptor) })
}

type execResult struct {
	pid int
	err error
}

// Exec spawns a new process inside a running container.
func (d *Dispatcher) Exec(descriptor types.Descriptor, command []string) (bool, error) {
	result := make(chan execResult, 1)
	err := d.queue.Enqueue(func() {
		pid, err := d.containers.Exec(descriptor, command)
		result <- execResult{pid, err}
	})
	if err != nil {
		return false, err
	}
	res := <-result
	return res.err == nil, res.err
}

// AddMount appends a bind mount to a container's tracked config.
func (d *Dispatcher) AddMount(descriptor types.Descriptor, mount types.Mount) (bool, error) {
	return d.enqueueBool(func() error { return d.containers.AddMount(descriptor, mount) })
}

// RemoveMount removes a tracked mount by destination path.
func (d *Dispatcher) RemoveMount(descriptor types.Descriptor, destination string) (bool, error) {
	return d.enqueueBool(func() error { return d.containers.RemoveMount(descriptor, destination) })
}

// AddAnnotation sets an annotation on a container's tracked config.
func (d *Dispatcher) AddAnnotation(descriptor types.Descriptor, key, value string) (bool, error) {
	return d.enqueueBool(func() error { return d.containers.AddAnnotation(descriptor, key, value) })
}

func (d *Dispatcher) enqueueBool(op func() error) (bool, error) {
	result := make(chan error, 1)
	err := d.queue.Enqueue(func() { result <- op() })
	if err != nil {
		return false, err
	}
	opErr := <-result
	return opErr == nil, opErr
}

// GetState is a read-only query; it bypasses the work queue and reads
// straight from the Container Manager's own table lock, per spec.md §4.8.
func (d *Dispatcher) GetState(descriptor types.Descriptor) (int32, error) {
	state, err := d.containers.StateOf(descriptor)
	return int32(state), err
}

// containerInfo is GetInfo's JSON payload shape.
type containerInfo struct {
	Descriptor types.Descriptor `json:"descriptor"`
	State      string           `json:"state"`
	RuntimePid int              `json:"runtimePid"`
	InitPid    int              `json:"initPid"`
}

// GetInfo returns a JSON-encoded snapshot of a container's stats.
func (d *Dispatcher) GetInfo(descriptor types.Descriptor) (string, error) {
	stats, err := d.containers.StatsOf(descriptor)
	if err != nil {
		return "", err
	}
	info := containerInfo{
		Descriptor: descriptor,
		State:      stats.State.String(),
		RuntimePid: stats.RuntimePid,
		InitPid:    stats.InitPid,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal container info: %w", err)
	}
	return string(data), nil
}

// List returns every live container's descriptor and id, parallel-array
// style to mirror the IPC method's (i32[], string[]) return shape.
func (d *Dispatcher) List() ([]types.Descriptor, []string) {
	refs := d.containers.List()
	descriptors := make([]types.Descriptor, len(refs))
	ids := make([]string, len(refs))
	for i, ref := range refs {
		descriptors[i] = ref.Descriptor
		ids[i] = string(ref.Id)
	}
	return descriptors, ids
}

// Signals returns a channel of container lifecycle events a transport
// binding would translate into the Ready/Started/Stopped IPC signals.
// The underlying events.Event already carries "container_id" and
// "descriptor" in its Metadata (see containermgr.Manager.publishEvent).
func (d *Dispatcher) Signals() events.Subscriber {
	return d.broker.Subscribe()
}
