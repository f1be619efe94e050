package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerIndex_NewMarkerIndex(t *testing.T) {
	idx := NewMarkerIndex()

	require.NotNil(t, idx)
	assert.Empty(t, idx.markers)
}

func TestMarkerIndex_Get_NotFound(t *testing.T) {
	idx := NewMarkerIndex()

	_, ok := idx.Get("nonexistent")
	assert.False(t, ok, "expected not to find nonexistent entity")
}

func TestMarkerIndex_Rebuild(t *testing.T) {
	idx := NewMarkerIndex()
	idx.Rebuild([]string{"stale"})

	idx.Rebuild([]string{"a", "b", "a", "c"})

	_, ok := idx.Get("stale")
	assert.False(t, ok, "rebuild drops previous entries")
	assert.Len(t, idx.markers, 3)

	got, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, 0, got, "duplicate keeps its first position")
	got, _ = idx.Get("b")
	assert.Equal(t, 1, got)
	got, _ = idx.Get("c")
	assert.Equal(t, 3, got)
}

func TestMarkerIndex_RebuildEmpty(t *testing.T) {
	idx := NewMarkerIndex()
	idx.Rebuild([]string{"us7000abcd"})

	idx.Rebuild(nil)

	_, ok := idx.Get("us7000abcd")
	assert.False(t, ok)
}
