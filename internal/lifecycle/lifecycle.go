// Package lifecycle runs the dedicated goroutine that turns process
// signals into the copy engine's stop flag and progress snapshots, the Go
// channel-based equivalent of the original's sigwait-based signal thread
// (idiomatic Go has no blocking sigwait; signal.Notify plus a goroutine
// reading its channel is the direct replacement).
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/sgtools/sgdd/pkg/engine"
)

// StatsFunc renders the current progress/statistics line, called on
// SIGUSR1/SIGUSR2 and on the terminal SIGINT/SIGQUIT/SIGPIPE dump.
type StatsFunc func() string

// Controller owns the signal-handling goroutine for one run of sgdd.
type Controller struct {
	G     *engine.GlobalState
	Stats StatsFunc
	Log   zerolog.Logger

	sigCh chan os.Signal
	stop  chan struct{}
	wg    sync.WaitGroup
}

// New returns a Controller bound to g; Start must be called to begin
// listening for signals.
func New(g *engine.GlobalState, stats StatsFunc, log zerolog.Logger) *Controller {
	return &Controller{G: g, Stats: stats, Log: log}
}

// Start installs signal handlers and spawns the listener goroutine. It
// returns immediately; call Stop to tear the goroutine down on a clean
// exit (the process exiting via a caught signal does not need to).
func (c *Controller) Start() {
	c.sigCh = make(chan os.Signal, 8)
	c.stop = make(chan struct{})
	signal.Notify(c.sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGPIPE, syscall.SIGUSR1, syscall.SIGUSR2)

	c.wg.Add(1)
	go c.run()
}

// Stop tears down the signal listener without terminating the process,
// used at the end of a clean run before cmd/sgdd prints its final report.
func (c *Controller) Stop() {
	signal.Stop(c.sigCh)
	close(c.stop)
	c.wg.Wait()
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case sig := <-c.sigCh:
			c.handle(sig)
			if isTerminal(sig) {
				return
			}
		}
	}
}

func isTerminal(sig os.Signal) bool {
	switch sig {
	case syscall.SIGINT, syscall.SIGQUIT, syscall.SIGPIPE:
		return true
	default:
		return false
	}
}

func (c *Controller) handle(sig os.Signal) {
	switch sig {
	case syscall.SIGINT:
		c.Log.Warn().Msg("SIGINT received, stopping workers")
		c.G.StopAll()
		c.dumpStats()
		c.reraiseDefault(syscall.SIGINT)
	case syscall.SIGQUIT, syscall.SIGPIPE:
		c.Log.Warn().Str("signal", sig.String()).Msg("terminal signal received")
		c.dumpStats()
		c.reraiseDefault(sig.(syscall.Signal))
	case syscall.SIGUSR1:
		c.dumpStats()
	case syscall.SIGUSR2:
		c.dumpStats()
		c.G.OrderCond.L.Lock()
		c.G.OrderCond.Broadcast()
		c.G.OrderCond.L.Unlock()
	}
}

func (c *Controller) dumpStats() {
	if c.Stats == nil {
		return
	}
	os.Stderr.WriteString(c.Stats() + "\n")
}

// reraiseDefault restores the signal's default disposition and re-sends it
// to this process, matching the original's "handle once, then behave as if
// unhandled" semantics for SIGINT/SIGQUIT/SIGPIPE.
func (c *Controller) reraiseDefault(sig syscall.Signal) {
	signal.Reset(sig)
	_ = syscall.Kill(os.Getpid(), sig)
}
