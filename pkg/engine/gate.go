package engine

// OrderingGate enforces that destination blocks are written in strictly
// ascending LBA order, except for the sg-sg shared-buffer bypass where the
// kernel enforces ordering itself via pack-id pairing.
type OrderingGate struct {
	g *GlobalState
}

// NewOrderingGate returns a gate bound to g's Out side and OrderCond.
func NewOrderingGate(g *GlobalState) *OrderingGate { return &OrderingGate{g: g} }

// Bypassed reports whether the skip-ordering exception applies: both ends
// are sg, there is no register output, and the segment has a live kernel
// buffer share.
func (gate *OrderingGate) Bypassed(hasShare bool) bool {
	g := gate.g
	return g.SkipOrder && hasShare && g.OutregFd == 0 &&
		g.In.Kind == Sg && g.Out.Kind == Sg
}

// Wait blocks until out_blk equals oblk (or a stop is signalled), matching
// this worker's turn to write. The caller must call Done after the write
// completes so later segments can proceed. Wait holds the output mutex only
// while it checks and advances out_blk (releasing it during the condition
// sleep) and unlocks it before returning, so the write itself runs without
// the mutex held.
//
// Returns ok=false if the gate was released because of a stop rather than
// this worker's turn arriving.
func (gate *OrderingGate) Wait(oblk, blocks int64) bool {
	g := gate.g
	g.Out.mu.Lock()
	defer g.Out.mu.Unlock()
	for !g.Out.stop && oblk != g.Out.nextBlk {
		g.OrderCond.Wait()
	}
	if g.Out.stop || g.Out.count <= 0 {
		return false
	}
	g.Out.nextBlk += blocks
	g.Out.count -= blocks
	return true
}

// Done broadcasts the ordering condition after a write completes (or after
// a cancellation cleanup runs), waking any worker sleeping for the next
// LBA in sequence.
func (gate *OrderingGate) Done() {
	g := gate.g
	g.Out.mu.Lock()
	g.OrderCond.Broadcast()
	g.Out.mu.Unlock()
}
