package engine

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, g *GlobalState) *Worker {
	return &Worker{
		G:          g,
		Dispatcher: NewDispatcher(g),
		Gate:       NewOrderingGate(g),
		Log:        zerolog.Nop(),
	}
}

func TestWorkerCopiesRegularFileEndToEnd(t *testing.T) {
	src, err := os.CreateTemp(t.TempDir(), "src")
	require.NoError(t, err)
	defer src.Close()
	payload := make([]byte, 512*6)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = src.Write(payload)
	require.NoError(t, err)
	_, err = src.Seek(0, 0)
	require.NoError(t, err)

	dst, err := os.CreateTemp(t.TempDir(), "dst")
	require.NoError(t, err)
	defer dst.Close()

	g := NewGlobalState(512, 4, 6, 0, 0)
	g.In.Kind = Regular
	g.Out.Kind = Regular

	w := newTestWorker(t, g)
	w.InFile = src
	w.OutFile = dst

	w.Run()

	require.Equal(t, int64(0), g.In.Rem())
	require.Equal(t, int64(0), g.Out.Rem())

	got := make([]byte, len(payload))
	_, err = dst.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWorkerStopsOnShortReadWithoutError(t *testing.T) {
	src, err := os.CreateTemp(t.TempDir(), "src")
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Write(make([]byte, 512*3)) // only 3 of the requested 6 blocks
	require.NoError(t, err)
	_, err = src.Seek(0, 0)
	require.NoError(t, err)

	dst, err := os.CreateTemp(t.TempDir(), "dst")
	require.NoError(t, err)
	defer dst.Close()

	g := NewGlobalState(512, 8, 6, 0, 0)
	g.In.Kind = Regular
	g.Out.Kind = Regular

	w := newTestWorker(t, g)
	w.InFile = src
	w.OutFile = dst

	w.Run()

	require.True(t, g.In.Stop())
	require.True(t, g.Out.Stop())
}
