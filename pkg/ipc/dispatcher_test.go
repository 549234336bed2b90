package ipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/containermgr"
	"github.com/rdkcentral/dobbyd/pkg/descriptorstore"
	"github.com/rdkcentral/dobbyd/pkg/events"
	"github.com/rdkcentral/dobbyd/pkg/pluginmgr"
	"github.com/rdkcentral/dobbyd/pkg/runtimedriver"
	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/rdkcentral/dobbyd/pkg/watchdog"
	"github.com/rdkcentral/dobbyd/pkg/workqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct{}

func (f *fakeRuntime) Create(_ context.Context, id, _, _, _ string) (runtimedriver.CreateResult, error) {
	return runtimedriver.CreateResult{InitPid: 1}, nil
}
func (f *fakeRuntime) Start(_ context.Context, _ string) error               { return nil }
func (f *fakeRuntime) Pause(_ context.Context, _ string) error               { return nil }
func (f *fakeRuntime) Resume(_ context.Context, _ string) error              { return nil }
func (f *fakeRuntime) Stop(_ context.Context, _ string, _ int, _ bool) error { return nil }
func (f *fakeRuntime) Exec(_ context.Context, _ string, _ []string) (int, error) {
	return 7, nil
}

type fakeNet struct{}

func (f *fakeNet) WriteResolvConf(_ string) error                 { return nil }
func (f *fakeNet) DetachContainer(_ types.ContainerId) error      { return nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	store, err := descriptorstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	plugins, err := pluginmgr.Load(t.TempDir())
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	mgr := containermgr.New(store, plugins, &fakeRuntime{}, &fakeNet{}, broker, false)
	t.Cleanup(func() { mgr.Shutdown(true) })

	queue := workqueue.New(workqueue.DefaultCapacity)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				queue.Poll(50 * time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() { close(stop) })

	return New(mgr, queue, broker)
}

func writeMinimalBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"ociVersion":"1.0.2"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rootfs"), 0o755))
	return dir
}

func TestStartEnqueuesAndReturnsDescriptor(t *testing.T) {
	d := newTestDispatcher(t)
	bundlePath := writeMinimalBundle(t)

	descriptor, err := d.Start("one", bundlePath, nil, nil, "")
	require.NoError(t, err)
	assert.NotZero(t, descriptor)

	state, err := d.GetState(descriptor)
	require.NoError(t, err)
	assert.Equal(t, int32(types.StateRunning), state)
}

func TestStopAndList(t *testing.T) {
	d := newTestDispatcher(t)
	bundlePath := writeMinimalBundle(t)

	descriptor, err := d.Start("two", bundlePath, nil, nil, "")
	require.NoError(t, err)

	descriptors, ids := d.List()
	assert.Contains(t, descriptors, descriptor)
	assert.Contains(t, ids, "two")

	ok, err := d.Stop(descriptor, true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetInfoReturnsJSON(t *testing.T) {
	d := newTestDispatcher(t)
	bundlePath := writeMinimalBundle(t)

	descriptor, err := d.Start("three", bundlePath, nil, nil, "")
	require.NoError(t, err)

	info, err := d.GetInfo(descriptor)
	require.NoError(t, err)
	assert.Contains(t, info, `"state":"Running"`)
}

func TestPingAlwaysSucceeds(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NoError(t, d.Ping())
}

func TestPingWagsAttachedWatchdog(t *testing.T) {
	require.NoError(t, os.Unsetenv("NOTIFY_SOCKET"))
	d := newTestDispatcher(t).WithWatchdog(watchdog.New())
	// No NOTIFY_SOCKET configured, so Wag is a no-op; Ping must still
	// succeed rather than erroring out.
	assert.NoError(t, d.Ping())
}

func TestSetLogLevelAcceptsAllRanges(t *testing.T) {
	d := newTestDispatcher(t)
	for _, level := range []int32{0, 1, 2, 3, 4, 5} {
		assert.NoError(t, d.SetLogLevel(level))
	}
}
