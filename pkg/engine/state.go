// Package engine implements the segment dispatcher, ordering gate and
// worker state machine that copy blocks between an input and one or two
// output destinations, at least one of which is usually an sg device.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/sgtools/sgdd/pkg/iokind"
)

// FileKind mirrors GlobalState.in_kind/out_kind: what kind of descriptor a
// side is backed by, which selects the read/write path a worker takes.
type FileKind int

const (
	Regular FileKind = iota
	BlockDev
	Sg
	Null
	Stdio
)

// Flags is the full per-side flag set from iflag=/oflag=, independent of
// the OS-open subset iokind.Flags already covers.
type Flags struct {
	iokind.Flags
	Defres  bool
	Dio     bool
	NoXfer  bool
	NoShare bool
	V3      bool
	V4      bool
	Fua     bool
	Dpo     bool
	Cdbsz   int // resolved cdbsz for this side: 6, 10, 12 or 16
}

// Side holds every field GlobalState mirrors between input and output.
type Side struct {
	Fd    uintptr
	Kind  FileKind
	Flags Flags

	mu       sync.Mutex
	rem      int64 // blocks not yet accounted as read/write-complete
	count    int64 // blocks still to be dispatched
	partial  int64 // count of blocks completed from a short read/write
	stop     bool
	nextBlk  int64 // out_blk: next expected write LBA (output side only)
	skipSeek int64 // skip (input) or seek (output) starting LBA
}

// Lock/Unlock expose the side mutex to callers that need to hold it across
// more than one field mutation (the Dispatcher and Ordering Gate both do).
func (s *Side) Lock()   { s.mu.Lock() }
func (s *Side) Unlock() { s.mu.Unlock() }

func (s *Side) Rem() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rem
}

func (s *Side) AddRem(delta int64) {
	s.mu.Lock()
	s.rem += delta
	s.mu.Unlock()
}

func (s *Side) AddPartial(delta int64) {
	s.mu.Lock()
	s.partial += delta
	s.mu.Unlock()
}

func (s *Side) Partial() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

func (s *Side) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

func (s *Side) SetStop() {
	s.mu.Lock()
	s.stop = true
	s.mu.Unlock()
}

// GlobalState is the single shared instance every worker reads and mutates.
// It corresponds 1:1 to the specification's GlobalState.
type GlobalState struct {
	Bs    int
	Bpt   int
	Total int64 // -1 == discover

	In  Side
	Out Side

	Out2Fd   uintptr
	Out2Kind FileKind
	out2Mu   sync.Mutex

	OutregFd uintptr

	DioIncomplete int64 // atomic
	ResidSum      int64 // atomic

	// OrderCond is paired with Out.mu (out_order_cv in the specification):
	// workers wait on it while Out.nextBlk hasn't reached their oblk.
	OrderCond *sync.Cond

	posIndex   int64 // atomic: next segment's offset in blocks from start
	packIDSeq  int64 // atomic: unique per-command tag
	Ae         int   // abort-every-Nth, 0 disables
	Coe        bool
	SkipOrder  bool // enables the sg-sg shared-buffer bypass; OrderingGate.Bypassed checks the rest

	exitStatus int32 // atomic ExitCategory, CAS-set once from ExitClean
}

// NewGlobalState wires OrderCond to Out's mutex, as the specification
// requires (out_order_cv is paired with out_mutex).
func NewGlobalState(bs, bpt int, total int64, skip, seek int64) *GlobalState {
	g := &GlobalState{Bs: bs, Bpt: bpt, Total: total}
	g.In.skipSeek = skip
	g.Out.skipSeek = seek
	g.Out.nextBlk = seek
	g.OrderCond = sync.NewCond(&g.Out.mu)
	if total >= 0 {
		g.In.count = total
		g.In.rem = total
		g.Out.count = total
		g.Out.rem = total
	}
	return g
}

// NextPackID returns the next strictly increasing pack id, unique across
// every in-flight sg command.
func (g *GlobalState) NextPackID() int32 {
	return int32(atomic.AddInt64(&g.packIDSeq, 1))
}

func (g *GlobalState) addDioIncomplete() { atomic.AddInt64(&g.DioIncomplete, 1) }
func (g *GlobalState) addResid(n int32)  { atomic.AddInt64(&g.ResidSum, int64(n)) }

// SetExitStatus records cat as the process-wide exit status the first time
// it is called with a non-clean category; later calls are no-ops, mirroring
// sgh_dd's "if (exit_status <= 0) exit_status = res" rule so the first
// fatal outcome observed wins even if a later, different category is seen.
func (g *GlobalState) SetExitStatus(cat ExitCategory) {
	atomic.CompareAndSwapInt32(&g.exitStatus, int32(ExitClean), int32(cat))
}

// ExitStatus returns the recorded exit status, or ExitClean if none was set.
func (g *GlobalState) ExitStatus() ExitCategory {
	return ExitCategory(atomic.LoadInt32(&g.exitStatus))
}

// Out2Lock/Out2Unlock expose out2_mutex for the secondary-write path.
func (g *GlobalState) Out2Lock()   { g.out2Mu.Lock() }
func (g *GlobalState) Out2Unlock() { g.out2Mu.Unlock() }

// Stopped reports whether either side has been signalled to stop, the
// condition every worker checks at each suspension point.
func (g *GlobalState) Stopped() bool {
	return g.In.Stop() || g.Out.Stop()
}

// StopAll sets both sides' stop flags and wakes every waiter on the
// ordering condition, mirroring the Signal/Lifecycle Controller's SIGINT
// handling and a worker's cancellation cleanup.
func (g *GlobalState) StopAll() {
	g.In.SetStop()
	g.Out.SetStop()
	g.Out.mu.Lock()
	g.OrderCond.Broadcast()
	g.Out.mu.Unlock()
}
