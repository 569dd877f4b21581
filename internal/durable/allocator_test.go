package durable

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

func newTestAllocator(t *testing.T) (*Allocator, *MapStore) {
	t.Helper()
	store := NewMapStore()
	return NewAllocator(zaptest.NewLogger(t), store), store
}

func TestAllocatorAdvanceIsMonotonic(t *testing.T) {
	a, _ := newTestAllocator(t)

	id, err := a.NextRowID("internal", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id, "missing counter reads as zero")

	require.NoError(t, a.Advance("internal", 0, 100))
	id, err = a.NextRowID("internal", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)

	// A lower candidate never decreases the stored value.
	require.NoError(t, a.Advance("internal", 0, 50))
	id, err = a.NextRowID("internal", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)

	require.NoError(t, a.Advance("internal", 0, 250))
	id, err = a.NextRowID("internal", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(250), id)
}

func TestAllocatorScopesByVolumeAndUser(t *testing.T) {
	a, _ := newTestAllocator(t)

	require.NoError(t, a.Advance("internal", 0, 10))
	require.NoError(t, a.Advance("internal", 11, 20))
	require.NoError(t, a.Advance("sdcard", 0, 30))

	id, err := a.NextRowID("internal", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)

	id, err = a.NextRowID("internal", 11)
	require.NoError(t, err)
	assert.Equal(t, int64(20), id)

	id, err = a.NextRowID("sdcard", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(30), id)
}

func TestAllocatorListInvalidUserKeys(t *testing.T) {
	a, _ := newTestAllocator(t)

	require.NoError(t, a.Advance("internal", 0, 1))
	require.NoError(t, a.Advance("internal", 10, 1))
	require.NoError(t, a.Advance("internal", 11, 1))
	require.NoError(t, a.Advance("sdcard", 11, 1))

	invalid, err := a.ListInvalidUserKeys([]int{0, 10})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"user.mediadex.nextrowid.internal.u11",
		"user.mediadex.nextrowid.sdcard.u11",
	}, invalid, "owner keys and valid users must not be reported")

	for _, key := range invalid {
		require.NoError(t, a.RemoveKey(key))
	}
	invalid, err = a.ListInvalidUserKeys([]int{0, 10})
	require.NoError(t, err)
	assert.Empty(t, invalid)
}

func TestAllocatorSessionID(t *testing.T) {
	a, _ := newTestAllocator(t)

	first, err := a.SessionID()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := a.SessionID()
	require.NoError(t, err)
	assert.Equal(t, first, second, "session id is stable once created")
}

func TestAllocatorUnsupportedStoreDegrades(t *testing.T) {
	store := NewMapStore()
	store.Err = errors.New("xattrs not supported")
	a := NewAllocator(zaptest.NewLogger(t), store)

	_, err := a.NextRowID("internal", 0)
	require.Error(t, err)
	assert.True(t, types.CounterUnsupportedError.Has(err))

	err = a.Advance("internal", 0, 5)
	require.Error(t, err)
	assert.True(t, types.CounterUnsupportedError.Has(err))

	_, err = a.SessionID()
	require.Error(t, err)
	assert.True(t, types.CounterUnsupportedError.Has(err))
}
