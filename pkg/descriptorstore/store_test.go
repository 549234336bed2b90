package descriptorstore

import (
	"testing"

	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNextAllocatesIncreasingDescriptors(t *testing.T) {
	s := openTestStore(t)

	first, err := s.Next("one")
	require.NoError(t, err)
	second, err := s.Next("two")
	require.NoError(t, err)

	assert.Less(t, first, second)
}

func TestLookupFindsAllocatedDescriptor(t *testing.T) {
	s := openTestStore(t)

	d, err := s.Next("alpha")
	require.NoError(t, err)

	id, ok, err := s.Lookup(d)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.ContainerId("alpha"), id)
}

func TestLookupMissingDescriptorReportsNotFound(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Lookup(types.Descriptor(999))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseRemovesMapping(t *testing.T) {
	s := openTestStore(t)

	d, err := s.Next("gone")
	require.NoError(t, err)
	require.NoError(t, s.Release(d))

	_, ok, err := s.Lookup(d)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllReturnsEveryLiveMapping(t *testing.T) {
	s := openTestStore(t)

	one, err := s.Next("one")
	require.NoError(t, err)
	two, err := s.Next("two")
	require.NoError(t, err)
	require.NoError(t, s.Release(one))

	all, err := s.All()
	require.NoError(t, err)
	assert.NotContains(t, all, one)
	assert.Equal(t, types.ContainerId("two"), all[two])
}

func TestReopenPreservesCounterAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	first, err := s1.Next("one")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })
	second, err := s2.Next("two")
	require.NoError(t, err)

	assert.Less(t, first, second)
}
