package lifetime_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/vsched/lifetime"
)

func TestArenaInsertGet(t *testing.T) {
	var arena lifetime.Arena[string]
	arena.Init(true)

	first := arena.Insert("first")
	second := arena.Insert("second")

	require.True(t, first.IsValid())
	require.NotEqual(t, first, second)
	require.Equal(t, 2, arena.Count())

	value, ok := arena.Get(first)
	require.True(t, ok)
	require.Equal(t, "first", value)

	value, ok = arena.Get(second)
	require.True(t, ok)
	require.Equal(t, "second", value)
}

func TestArenaStaleHandle(t *testing.T) {
	var arena lifetime.Arena[int]
	arena.Init(false)

	handle := arena.Insert(5)
	value, ok := arena.Remove(handle)
	require.True(t, ok)
	require.Equal(t, 5, value)
	require.Equal(t, 0, arena.Count())

	// The slot is reused but the old handle must not see the new value
	reused := arena.Insert(7)
	require.NotEqual(t, handle, reused)
	require.False(t, arena.Has(handle))

	_, ok = arena.Get(handle)
	require.False(t, ok)

	_, ok = arena.Remove(handle)
	require.False(t, ok)

	value, ok = arena.Get(reused)
	require.True(t, ok)
	require.Equal(t, 7, value)
}

func TestArenaNoHandle(t *testing.T) {
	var arena lifetime.Arena[int]
	arena.Init(true)
	arena.Insert(1)

	require.False(t, lifetime.NoHandle.IsValid())
	require.False(t, arena.Has(lifetime.NoHandle))
}

func TestArenaIter(t *testing.T) {
	var arena lifetime.Arena[int]
	arena.Init(true)

	handles := []lifetime.Handle{
		arena.Insert(1),
		arena.Insert(2),
		arena.Insert(3),
	}
	arena.Remove(handles[1])

	sum := 0
	arena.Iter(func(h lifetime.Handle, value int) bool {
		sum += value
		return false
	})
	require.Equal(t, 4, sum)

	visited := 0
	arena.Iter(func(h lifetime.Handle, value int) bool {
		visited++
		return true
	})
	require.Equal(t, 1, visited)
}
