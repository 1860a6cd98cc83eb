package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcherNextBoundedTotal(t *testing.T) {
	g := NewGlobalState(512, 4, 10, 0, 0)
	d := NewDispatcher(g)

	a1, ok := d.Next()
	require.True(t, ok)
	require.Equal(t, int64(0), a1.Pos)
	require.Equal(t, int64(4), a1.Blocks)

	a2, ok := d.Next()
	require.True(t, ok)
	require.Equal(t, int64(4), a2.Pos)
	require.Equal(t, int64(4), a2.Blocks)

	a3, ok := d.Next()
	require.True(t, ok)
	require.Equal(t, int64(8), a3.Pos)
	require.Equal(t, int64(2), a3.Blocks, "final segment truncated to remaining blocks")

	_, ok = d.Next()
	require.False(t, ok, "dispatcher exhausted once total is reached")
}

func TestDispatcherStopsImmediatelyWhenInStopped(t *testing.T) {
	g := NewGlobalState(512, 4, -1, 0, 0)
	g.In.count = 100
	g.In.SetStop()
	d := NewDispatcher(g)

	_, ok := d.Next()
	require.False(t, ok)
}

func TestDispatcherDerivesSkipSeekOffsets(t *testing.T) {
	g := NewGlobalState(512, 4, -1, 100, 200)
	g.In.count = 8
	d := NewDispatcher(g)

	a, ok := d.Next()
	require.True(t, ok)
	require.Equal(t, int64(100), a.Iblk)
	require.Equal(t, int64(200), a.Oblk)
}
