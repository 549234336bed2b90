package ipallocator

import (
	"fmt"
	"testing"

	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAssignsFromPool(t *testing.T) {
	a, err := New(t.TempDir())
	require.NoError(t, err)

	info, err := a.Allocate("container-a", "veth0a1b2c")
	require.NoError(t, err)

	assert.Equal(t, BridgeAddress+1, info.IPv4)
	assert.Equal(t, "veth0a1b2c", info.VethName)
	require.NotNil(t, info.IPv6)
	assert.Equal(t, [8]byte{0x20, 0x80, 0xd0, 0xbb, 0x00, 0x1e, 0x00, 0x00}, [8]byte(info.IPv6[:8]))
}

func TestAllocateSkipsInUseAddresses(t *testing.T) {
	a, err := New(t.TempDir())
	require.NoError(t, err)

	first, err := a.Allocate("container-a", "veth1")
	require.NoError(t, err)

	second, err := a.Allocate("container-b", "veth2")
	require.NoError(t, err)

	assert.NotEqual(t, first.IPv4, second.IPv4)
	assert.Equal(t, first.IPv4+1, second.IPv4)
}

func TestDeallocateFreesAddressForReuse(t *testing.T) {
	a, err := New(t.TempDir())
	require.NoError(t, err)

	first, err := a.Allocate("container-a", "veth1")
	require.NoError(t, err)

	require.NoError(t, a.Deallocate("container-a"))

	second, err := a.Allocate("container-b", "veth2")
	require.NoError(t, err)
	assert.Equal(t, first.IPv4, second.IPv4)
}

func TestAllocatePoolExhausted(t *testing.T) {
	a, err := New(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < PoolSize; i++ {
		_, err := a.Allocate(types.ContainerId(fmt.Sprintf("container-%d", i)), "veth")
		require.NoError(t, err)
	}

	_, err = a.Allocate("one-too-many", "vethX")
	assert.Error(t, err)
}

func TestNewRebuildsStateFromDisk(t *testing.T) {
	dir := t.TempDir()

	a, err := New(dir)
	require.NoError(t, err)
	allocated, err := a.Allocate("container-a", "veth1")
	require.NoError(t, err)

	reopened, err := New(dir)
	require.NoError(t, err)

	info, err := reopened.Lookup("container-a")
	require.NoError(t, err)
	assert.Equal(t, allocated.IPv4, info.IPv4)
	assert.Equal(t, allocated.VethName, info.VethName)
}
