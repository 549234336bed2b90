package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/containermgr"
	"github.com/rdkcentral/dobbyd/pkg/descriptorstore"
	"github.com/rdkcentral/dobbyd/pkg/events"
	"github.com/rdkcentral/dobbyd/pkg/ipallocator"
	"github.com/rdkcentral/dobbyd/pkg/pluginmgr"
	"github.com/rdkcentral/dobbyd/pkg/runtimedriver"
	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct{}

func (f *fakeRuntime) Create(_ context.Context, _, _, _, _ string) (runtimedriver.CreateResult, error) {
	return runtimedriver.CreateResult{InitPid: 1}, nil
}
func (f *fakeRuntime) Start(_ context.Context, _ string) error               { return nil }
func (f *fakeRuntime) Pause(_ context.Context, _ string) error               { return nil }
func (f *fakeRuntime) Resume(_ context.Context, _ string) error              { return nil }
func (f *fakeRuntime) Stop(_ context.Context, _ string, _ int, _ bool) error { return nil }
func (f *fakeRuntime) Exec(_ context.Context, _ string, _ []string) (int, error) {
	return 0, nil
}

type fakeNet struct{}

func (f *fakeNet) WriteResolvConf(_ string) error            { return nil }
func (f *fakeNet) DetachContainer(_ types.ContainerId) error { return nil }

func TestCollectorUpdatesContainerAndIPGauges(t *testing.T) {
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

	addrDir := t.TempDir()
	addresses, err := ipallocator.New(addrDir)
	require.NoError(t, err)

	bundleDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "config.json"), []byte(`{"ociVersion":"1.0.2"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(bundleDir, "rootfs"), 0o755))

	_, err = mgr.StartFromBundle("collector-test", bundleDir, nil, nil, "")
	require.NoError(t, err)

	c := NewCollector(mgr, addresses)
	c.collect()

	running := testutil.ToFloat64(ContainersTotal.WithLabelValues("Running"))
	assert.Equal(t, float64(1), running)

	assert.Equal(t, float64(ipallocator.PoolSize), testutil.ToFloat64(IPPoolAvailable))
}

func TestCollectorStartAndStop(t *testing.T) {
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

	c := NewCollector(mgr, nil)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
