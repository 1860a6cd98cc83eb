package engine

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/sgtools/sgdd/pkg/cdb"
	"github.com/sgtools/sgdd/pkg/share"
	"github.com/sgtools/sgdd/pkg/sgio"
)

const readWriteCompleteAfter = true // toggles sg_in_out_interleave's receive order

// Worker is the per-thread state machine: it repeatedly asks the
// Dispatcher for a segment, reads it, gates on write order, writes it (and
// optionally a second destination), and loops until input is exhausted or
// a stop is signalled.
type Worker struct {
	ID int

	G          *GlobalState
	Dispatcher *Dispatcher
	Gate       *OrderingGate

	InTransport   *sgio.Transport
	OutTransport  *sgio.Transport
	Out2Transport *sgio.Transport

	InFile     *os.File
	OutFile    *os.File
	Out2File   *os.File
	OutregFile *os.File

	Share *share.Controller

	// MmapBuf, when set, is this worker's mmap'd view of its sg reserved
	// buffer (iflag=mmap or oflag=mmap); newSegment slices segment buffers
	// from it instead of allocating on the heap, and Run munmaps it on
	// exit.
	MmapBuf []byte

	Log zerolog.Logger

	// Bootstrap, when set, is closed (not sent on) once this worker has
	// processed its first segment, successfully or not, or when Run
	// returns, whichever comes first; cmd/sgdd waits on it before spawning
	// the remaining N-1 workers.
	Bootstrap chan struct{}

	reqCount int64
	buf      []byte
}

// Run is the worker's main loop: AcquireSegment -> Read -> WriteGate ->
// RegisterWrite -> PrimaryWrite -> SecondaryWrite -> Broadcast. Bootstrap,
// if set, is closed exactly once no matter which path the loop exits by
// (including an immediate empty transfer), so a caller waiting on it to
// spawn the remaining workers never blocks forever.
func (w *Worker) Run() {
	closed := false
	closeBootstrap := func() {
		if w.Bootstrap != nil && !closed {
			close(w.Bootstrap)
			closed = true
		}
	}
	defer closeBootstrap()

	if w.Share != nil {
		defer func() {
			if err := w.Share.Finish(); err != nil {
				w.Log.Warn().Err(err).Msg("share: failed to release master role on exit")
			}
		}()
	}
	if w.MmapBuf != nil {
		defer func() {
			if err := unix.Munmap(w.MmapBuf); err != nil {
				w.Log.Warn().Err(err).Msg("failed to unmap reserved buffer on exit")
			}
		}()
	}

	for {
		if w.G.Stopped() {
			return
		}
		alloc, ok := w.Dispatcher.Next()
		if !ok {
			return
		}
		seg := w.newSegment(alloc)

		err := w.processSegment(seg)
		closeBootstrap()
		if err != nil {
			w.Log.Error().Err(err).Int64("iblk", seg.Iblk).Int64("oblk", seg.Oblk).Msg("segment failed")
			if isFatal(err) {
				w.G.StopAll()
				return
			}
		}
		if seg.StopAfterWrite {
			w.G.StopAll()
			return
		}
	}
}

func isFatal(err error) bool {
	return errors.Is(err, ErrMediumHard) || errors.Is(err, ErrNotReady)
}

func (w *Worker) newSegment(a Allocation) *Segment {
	seg := &Segment{
		ID:       a.Pos,
		Iblk:     a.Iblk,
		Oblk:     a.Oblk,
		NumBlks:  a.Blocks,
		InFlags:  w.G.In.Flags,
		OutFlags: w.G.Out.Flags,
		CdbszIn:  w.G.In.Flags.Cdbsz,
		CdbszOut: w.G.Out.Flags.Cdbsz,
	}
	seg.HasShare = w.Share != nil && w.G.In.Kind == Sg && w.G.Out.Kind == Sg &&
		!seg.InFlags.NoShare && !seg.OutFlags.NoShare
	seg.SWait = seg.OutFlags.SWait && seg.HasShare

	seg.Buf = w.segmentBuf(seg.ByteLen(w.G.Bs))
	return seg
}

// segmentBuf returns a want-byte slice for a segment's payload: the mmap'd
// reserved buffer when one was configured and is big enough, otherwise the
// worker's reused heap buffer (grown as needed).
func (w *Worker) segmentBuf(want int) []byte {
	if len(w.MmapBuf) >= want {
		return w.MmapBuf[:want]
	}
	if cap(w.buf) < want {
		w.buf = make([]byte, want)
	}
	return w.buf[:want]
}

func (w *Worker) processSegment(seg *Segment) error {
	w.reqCount++

	if seg.SWait {
		return w.runInterleaved(seg)
	}

	if err := w.read(seg); err != nil {
		return err
	}

	bypassed := w.Gate.Bypassed(seg.HasShare)
	if !bypassed {
		if !w.Gate.Wait(seg.Oblk, seg.NumBlks) {
			return nil
		}
	}

	if w.OutregFile != nil {
		if _, err := w.OutregFile.Write(seg.Buf); err != nil {
			w.Log.Warn().Err(err).Msg("ofreg write failed, continuing")
		}
	}

	err := w.primaryWrite(seg)
	if !bypassed {
		w.Gate.Done()
	}
	if err != nil {
		return err
	}

	if w.Out2File != nil || w.Out2Transport != nil {
		if err := w.secondaryWrite(seg); err != nil {
			w.Log.Warn().Err(err).Msg("secondary write failed, continuing")
		}
	}
	return nil
}

// read dispatches to the sequential sg, ordinary-file, or null read path.
func (w *Worker) read(seg *Segment) error {
	switch w.G.In.Kind {
	case Sg:
		return w.readSg(seg)
	case Null:
		return nil
	default:
		return w.readOrdinary(seg)
	}
}

func (w *Worker) readSg(seg *Segment) error {
	pid := w.G.NextPackID()
	seg.PackID = pid
	for attempt := 0; attempt < 3; attempt++ {
		c, err := w.sgReadSubmitReceive(seg, pid)
		if err != nil {
			return err
		}
		switch c.Outcome {
		case sgio.Clean, sgio.Recovered:
			w.G.In.AddRem(-seg.NumBlks)
			if c.DioRequested && !c.DioServiced {
				w.G.addDioIncomplete()
				seg.DioIncompleteCount++
			}
			w.G.addResid(c.Resid)
			seg.Resid = c.Resid
			return nil
		case sgio.AbortedCommand, sgio.UnitAttention:
			continue // re-read may land out of sequence; that's fine
		case sgio.MediumHard:
			w.G.SetExitStatus(ExitMediumHard)
			if seg.InFlags.Coe {
				for i := range seg.Buf {
					seg.Buf[i] = 0
				}
				w.G.In.AddRem(-seg.NumBlks)
				return nil
			}
			return ErrMediumHard
		default:
			w.G.SetExitStatus(ExitNotReady)
			return ErrNotReady
		}
	}
	w.G.SetExitStatus(ExitNotReady)
	return ErrNotReady
}

func (w *Worker) sgReadSubmitReceive(seg *Segment, pid int32) (sgio.Completion, error) {
	cdbBytes, err := cdb.Build(cdb.Request{CdbSize: seg.CdbszIn, Blocks: uint32(seg.NumBlks), StartLBA: seg.Iblk, IsWrite: false, Fua: seg.InFlags.Fua, Dpo: seg.InFlags.Dpo})
	if err != nil {
		return sgio.Completion{}, err
	}
	flags := submitFlagsFor(seg.InFlags, seg.HasShare)
	if err := w.InTransport.Submit(sgio.SubmitRequest{CDB: cdbBytes, Dir: sgio.DirFromDevice, Buf: seg.Buf, Flags: flags, PackID: pid}); err != nil {
		if errors.Is(err, sgio.ErrOutOfMemory) {
			return sgio.Completion{}, err
		}
		return sgio.Completion{}, err
	}
	w.maybeAbort(w.InTransport, pid)
	return w.InTransport.Receive(false, pid, seg.InFlags.Dio)
}

func submitFlagsFor(f Flags, hasShare bool) sgio.SubmitFlags {
	var flags sgio.SubmitFlags
	if f.Dio {
		flags |= sgio.FlagDirectIO
	}
	if f.Mmap {
		flags |= sgio.FlagMmapIO
	}
	if f.NoXfer {
		flags |= sgio.FlagNoDxfer
	}
	if hasShare {
		flags |= sgio.FlagShare
	}
	return flags
}

func (w *Worker) maybeAbort(t *sgio.Transport, pid int32) {
	if w.G.Ae <= 0 || w.reqCount%int64(w.G.Ae) != 0 {
		return
	}
	ready, err := t.PollReadable(time.Millisecond)
	if err == nil && !ready {
		_ = t.Abort(pid)
	}
}

// readOrdinary handles regular/block/raw input: seek unless workers share
// fds or the input is stdin, then read up to NumBlks*bs bytes, retrying on EINTR/EAGAIN.
func (w *Worker) readOrdinary(seg *Segment) error {
	if !seg.InFlags.SameFds && w.G.In.Kind != Stdio {
		if _, err := w.InFile.Seek(seg.Iblk*int64(w.G.Bs), io.SeekStart); err != nil {
			return err
		}
	}
	n, err := readFull(w.InFile, seg.Buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if n < len(seg.Buf) {
		w.Log.Debug().Err(ErrShortRead).Int64("iblk", seg.Iblk).Int("got", n).Int("want", len(seg.Buf)).Msg("short read on ordinary file")
		seg.StopAfterWrite = true
		full := n / w.G.Bs
		if n%w.G.Bs != 0 {
			full++
			w.G.In.AddPartial(1)
		}
		seg.NumBlks = int64(full)
		seg.Buf = seg.Buf[:seg.ByteLen(w.G.Bs)]
	}
	w.G.In.AddRem(-seg.NumBlks)
	return nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

// primaryWrite dispatches to the sg, null, or ordinary write path.
func (w *Worker) primaryWrite(seg *Segment) error {
	switch w.G.Out.Kind {
	case Sg:
		return w.writeSg(seg, w.OutTransport)
	case Null:
		w.G.Out.AddRem(-seg.NumBlks)
		return nil
	default:
		return w.writeOrdinary(seg)
	}
}

func (w *Worker) writeSg(seg *Segment, t *sgio.Transport) error {
	pid := w.G.NextPackID()
	for attempt := 0; attempt < 3; attempt++ {
		cdbBytes, err := cdb.Build(cdb.Request{CdbSize: seg.CdbszOut, Blocks: uint32(seg.NumBlks), StartLBA: seg.Oblk, IsWrite: true, Fua: seg.OutFlags.Fua, Dpo: seg.OutFlags.Dpo})
		if err != nil {
			return err
		}
		flags := submitFlagsFor(seg.OutFlags, seg.HasShare)
		if err := t.Submit(sgio.SubmitRequest{CDB: cdbBytes, Dir: sgio.DirToDevice, Buf: seg.Buf, Flags: flags, PackID: pid}); err != nil {
			return err
		}
		w.maybeAbort(t, pid)
		c, err := t.Receive(true, pid, seg.OutFlags.Dio)
		if err != nil {
			return err
		}
		switch c.Outcome {
		case sgio.Clean, sgio.Recovered:
			w.G.Out.AddRem(-seg.NumBlks)
			if c.DioRequested && !c.DioServiced {
				w.G.addDioIncomplete()
			}
			w.G.addResid(c.Resid)
			return nil
		case sgio.AbortedCommand, sgio.UnitAttention:
			continue
		case sgio.MediumHard:
			w.G.SetExitStatus(ExitMediumHard)
			if seg.OutFlags.Coe {
				w.Log.Warn().Int64("oblk", seg.Oblk).Msg("medium/hardware error on write, coe set, dropping segment")
				w.G.Out.AddRem(-seg.NumBlks)
				return nil
			}
			return ErrMediumHard
		default:
			w.G.SetExitStatus(ExitNotReady)
			return ErrNotReady
		}
	}
	w.G.SetExitStatus(ExitNotReady)
	return ErrNotReady
}

func (w *Worker) writeOrdinary(seg *Segment) error {
	if !seg.OutFlags.SameFds && w.G.Out.Kind != Stdio {
		if _, err := w.OutFile.Seek(seg.Oblk*int64(w.G.Bs), io.SeekStart); err != nil {
			return err
		}
	}
	n, err := writeFull(w.OutFile, seg.Buf)
	if err != nil {
		if seg.OutFlags.Coe {
			w.Log.Warn().Err(err).Msg("write error, coe set, continuing")
			w.G.Out.AddRem(-seg.NumBlks)
			return nil
		}
		seg.StopAfterWrite = true
		return err
	}
	if n < len(seg.Buf) {
		w.Log.Debug().Err(ErrShortWrite).Int64("oblk", seg.Oblk).Int("wrote", n).Int("want", len(seg.Buf)).Msg("short write on ordinary file")
		full := n / w.G.Bs
		if n%w.G.Bs != 0 {
			full++
			w.G.Out.AddPartial(1)
		}
		w.G.Out.AddRem(-int64(full))
		if !seg.OutFlags.Coe {
			seg.StopAfterWrite = true
		}
		return nil
	}
	w.G.Out.AddRem(-seg.NumBlks)
	return nil
}

func writeFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Write(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return total, err
		}
	}
	return total, nil
}

// secondaryWrite writes seg's buffer to the second destination, swapping
// the kernel buffer share to it first when the primary write is shared.
func (w *Worker) secondaryWrite(seg *Segment) error {
	w.G.Out2Lock()
	defer w.G.Out2Unlock()

	if seg.HasShare && w.Share != nil {
		if err := w.Share.SwapWithRetry(w.Out2File.Fd(), true, 200*time.Millisecond); err != nil {
			return err
		}
		defer w.Share.SwapWithRetry(w.OutFile.Fd(), false, 200*time.Millisecond)
	}

	if w.Out2Transport != nil {
		return w.writeSg(seg, w.Out2Transport)
	}
	if w.Out2File != nil {
		_, err := w.Out2File.Write(seg.Buf)
		return err
	}
	return nil
}

// runInterleaved implements the swait protocol: submit the read, submit
// the write against the same shared buffer and a distinct pack id, then
// receive both in the order readWriteCompleteAfter selects. Both sides
// must be sg and sharing a buffer; the ordering gate is bypassed.
func (w *Worker) runInterleaved(seg *Segment) error {
	rPid := w.G.NextPackID()
	wPid := w.G.NextPackID()

	rCdb, err := cdb.Build(cdb.Request{CdbSize: seg.CdbszIn, Blocks: uint32(seg.NumBlks), StartLBA: seg.Iblk, IsWrite: false})
	if err != nil {
		return err
	}
	wCdb, err := cdb.Build(cdb.Request{CdbSize: seg.CdbszOut, Blocks: uint32(seg.NumBlks), StartLBA: seg.Oblk, IsWrite: true, Fua: seg.OutFlags.Fua, Dpo: seg.OutFlags.Dpo})
	if err != nil {
		return err
	}

	shareFlags := sgio.FlagShare
	if err := w.InTransport.Submit(sgio.SubmitRequest{CDB: rCdb, Dir: sgio.DirFromDevice, Buf: seg.Buf, Flags: shareFlags, PackID: rPid}); err != nil {
		return err
	}
	if err := w.OutTransport.Submit(sgio.SubmitRequest{CDB: wCdb, Dir: sgio.DirToDevice, Flags: shareFlags | sgio.FlagNoDxfer, PackID: wPid}); err != nil {
		return err
	}

	var rc, wc sgio.Completion
	if readWriteCompleteAfter {
		wc, err = w.OutTransport.Receive(true, wPid, false)
		if err != nil {
			return err
		}
		rc, err = w.InTransport.Receive(false, rPid, false)
	} else {
		rc, err = w.InTransport.Receive(false, rPid, false)
		if err != nil {
			return err
		}
		wc, err = w.OutTransport.Receive(true, wPid, false)
	}
	if err != nil {
		return err
	}

	if err := classifyInterleaved(w.G, rc, seg.InFlags.Coe); err != nil {
		return err
	}
	if err := classifyInterleaved(w.G, wc, seg.OutFlags.Coe); err != nil {
		return err
	}
	w.G.In.AddRem(-seg.NumBlks)
	w.G.Out.AddRem(-seg.NumBlks)
	w.G.addResid(rc.Resid)
	w.G.addResid(wc.Resid)
	return nil
}

func classifyInterleaved(g *GlobalState, c sgio.Completion, coe bool) error {
	switch c.Outcome {
	case sgio.Clean, sgio.Recovered, sgio.AbortedCommand, sgio.UnitAttention:
		return nil
	case sgio.MediumHard:
		g.SetExitStatus(ExitMediumHard)
		if coe {
			return nil
		}
		return ErrMediumHard
	default:
		g.SetExitStatus(ExitNotReady)
		return ErrNotReady
	}
}
