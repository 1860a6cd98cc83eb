package engine

import "sync/atomic"

// Dispatcher hands out the next {start-offset, block-count} segment to
// whichever worker asks: the offset is claimed with an atomic add, then the
// input side's mutex is taken briefly to check the stop/count state and
// charge the blocks against in_count.
type Dispatcher struct {
	g *GlobalState
}

// NewDispatcher returns a Dispatcher over g.
func NewDispatcher(g *GlobalState) *Dispatcher { return &Dispatcher{g: g} }

// Allocation is the {pos, blocks} pair Next hands a worker, along with the
// derived absolute LBAs on each side.
type Allocation struct {
	Pos    int64
	Blocks int64
	Iblk   int64
	Oblk   int64
}

// Next executes the dispatcher step: atomically reserves the next bpt-sized
// (or smaller, at end of a bounded transfer) range, then updates in_count
// under in_mutex. Returns ok=false once input is exhausted or stopped.
func (d *Dispatcher) Next() (Allocation, bool) {
	g := d.g
	if g.In.Stop() {
		return Allocation{}, false
	}
	pos := atomic.AddInt64(&g.posIndex, int64(g.Bpt)) - int64(g.Bpt)

	g.In.Lock()
	if g.In.stop || g.In.count <= 0 || (g.Total >= 0 && pos >= g.Total) {
		g.In.Unlock()
		return Allocation{}, false
	}
	blocks := int64(g.Bpt)
	if g.Total >= 0 {
		if remaining := g.Total - pos; remaining < blocks {
			blocks = remaining
		}
	}
	if blocks > g.In.count {
		blocks = g.In.count
	}
	g.In.count -= blocks
	g.In.Unlock()

	if blocks <= 0 {
		return Allocation{}, false
	}

	return Allocation{
		Pos:    pos,
		Blocks: blocks,
		Iblk:   g.In.skipSeek + pos,
		Oblk:   g.Out.skipSeek + pos,
	}, true
}
