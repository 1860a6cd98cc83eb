package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOrderingGateEnforcesAscendingOblk(t *testing.T) {
	g := NewGlobalState(512, 4, 12, 0, 0)
	g.Out.count = 12
	gate := NewOrderingGate(g)

	var order []int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	run := func(oblk int64) {
		defer wg.Done()
		require.True(t, gate.Wait(oblk, 4))
		mu.Lock()
		order = append(order, oblk)
		mu.Unlock()
		gate.Done()
	}

	wg.Add(3)
	// Launch out of order; the gate must still release them 0,4,8.
	go run(8)
	time.Sleep(5 * time.Millisecond)
	go run(4)
	time.Sleep(5 * time.Millisecond)
	go run(0)

	wg.Wait()
	require.Equal(t, []int64{0, 4, 8}, order)
}

func TestOrderingGateBypassedForSharedSgSg(t *testing.T) {
	g := NewGlobalState(512, 4, -1, 0, 0)
	g.SkipOrder = true
	g.In.Kind = Sg
	g.Out.Kind = Sg
	gate := NewOrderingGate(g)

	require.True(t, gate.Bypassed(true))
	require.False(t, gate.Bypassed(false), "no share on this segment, gate still applies")
}

func TestOrderingGateReleasesOnStop(t *testing.T) {
	g := NewGlobalState(512, 4, 4, 0, 0)
	g.Out.count = 4
	gate := NewOrderingGate(g)

	done := make(chan bool, 1)
	go func() { done <- gate.Wait(4, 4) }()

	time.Sleep(5 * time.Millisecond)
	g.StopAll()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("worker stuck on ordering gate after StopAll")
	}
}
