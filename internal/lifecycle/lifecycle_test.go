package lifecycle

import (
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sgtools/sgdd/pkg/engine"
)

func TestSIGUSR1DumpsStatsWithoutStopping(t *testing.T) {
	g := engine.NewGlobalState(512, 4, 100, 0, 0)
	var calls atomic.Int32
	c := New(g, func() string { calls.Add(1); return "stats" }, zerolog.Nop())
	c.Start()
	defer c.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	require.False(t, g.Stopped())
}

func TestSIGUSR2DumpsStatsAndBroadcasts(t *testing.T) {
	g := engine.NewGlobalState(512, 4, 100, 0, 0)
	var calls atomic.Int32
	c := New(g, func() string { calls.Add(1); return "stats" }, zerolog.Nop())
	c.Start()
	defer c.Stop()

	waiting := make(chan bool, 1)
	go func() {
		g.Out.Lock()
		defer g.Out.Unlock()
		g.OrderCond.Wait()
		waiting <- true
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))
	select {
	case <-waiting:
	case <-time.After(time.Second):
		t.Fatal("SIGUSR2 did not wake the ordering condition")
	}
	require.Greater(t, calls.Load(), int32(0))
}
