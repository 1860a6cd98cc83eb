// sgdd copies blocks between a source and one or two destinations, at
// least one of which is usually a Linux SCSI generic (sg) device, using
// the worker-pool segment-copy engine in pkg/engine. Operands follow
// classical dd's name=value convention; see usage().
package main

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"github.com/sgtools/sgdd/internal/config"
	"github.com/sgtools/sgdd/internal/lifecycle"
	"github.com/sgtools/sgdd/internal/logging"
	"github.com/sgtools/sgdd/internal/metrics"
	"github.com/sgtools/sgdd/pkg/engine"
	"github.com/sgtools/sgdd/pkg/iokind"
	"github.com/sgtools/sgdd/pkg/share"
	"github.com/sgtools/sgdd/pkg/sgio"
)

const version = "sgdd 1.0"

const procAllowDio = "/proc/scsi/sg/allow_dio"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	switch {
	case errors.Is(err, config.ErrHelp):
		usage()
		return int(engine.ExitClean)
	case errors.Is(err, config.ErrVersion):
		fmt.Println(version)
		return int(engine.ExitClean)
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		return int(engine.ExitSyntax)
	}

	if err := cfg.Normalize(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return int(engine.ExitSyntax)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:  logging.LevelForDeb(cfg.Deb),
		Format: "text",
		Output: os.Stderr,
	}))
	log := logging.Default()

	if cfg.Deb >= 4 {
		spew.Fdump(os.Stderr, cfg)
	}

	if cfg.DryRun {
		fmt.Fprintf(os.Stderr, "dry-run: would copy bs=%d count=%d if=%s of=%s thr=%d\n",
			cfg.Bs, cfg.Count, cfg.If, cfg.Of, cfg.Thr)
		return int(engine.ExitClean)
	}

	return runCopy(cfg, log)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: sgdd [operand=value...] [--dry-run|--help|--verbose|--version]

Operands (name=value):
  bs=        logical block size (default 512)
  ibs=,obs=  must equal bs if given
  count=     total blocks (-1 discovers via READ CAPACITY / block size, default -1)
  if=,of=    source, primary destination ('-' stdin/stdout, '.' null; of default '.')
  of2=,ofreg= secondary destination, register file
  skip=,seek= starting LBAs on source and destination
  bpt=       blocks per SCSI transfer (default 128; 32 when bs>=2048)
  cdbsz=     6/10/12/16 (default 10)
  thr=       worker count in [1,16] (default 4)
  fua=       bitmask: 1=OFILE, 2=IFILE, 3=both
  coe=,dio=,sync=,time= 0/1 booleans
  ae=        abort every Nth command (0 disables)
  elemsz_kb= scatter/gather element size hint (KiB)
  iflag=,oflag= CSV of: append,coe,defres,dio,direct,dpo,dsync,excl,fua,
             mmap,noshare,noxfer,null,same_fds,swait,v3,v4
  deb=,verbose= debug level`)
}

// side bundles everything runCopy needs to drive one if=/of=/of2= operand:
// its classified kind and one open *os.File per worker.
type side struct {
	kind    engine.FileKind
	handles []*os.File
}

func runCopy(cfg *config.Config, log zerolog.Logger) int {
	inFlags := cfg.IFlags.ToEngineFlags(cfg.CdbszIn, cfg.Of2, cfg.Ae, cfg.ElemszKB)
	outFlags := cfg.OFlags.ToEngineFlags(cfg.CdbszOut, cfg.Of2, cfg.Ae, cfg.ElemszKB)

	in, err := openSide(cfg.If, inFlags, false, cfg.Thr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return int(engine.ExitFileError)
	}
	defer closeSide(in)

	out, err := openSide(cfg.Of, outFlags, true, cfg.Thr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return int(engine.ExitFileError)
	}
	defer closeSide(out)

	var out2 *side
	if cfg.Of2 != "" {
		s, err := openSide(cfg.Of2, outFlags, true, cfg.Thr)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return int(engine.ExitFileError)
		}
		defer closeSide(s)
		out2 = &s
	}

	var outregFile *os.File
	if cfg.Ofreg != "" {
		f, err := os.OpenFile(cfg.Ofreg, os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("cmd/sgdd: ofreg: %w", err))
			return int(engine.ExitFileError)
		}
		defer f.Close()
		outregFile = f
	}

	total := cfg.Count
	if total < 0 {
		total, err = discoverTotal(in, cfg.Bs, cfg.If)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("cmd/sgdd: count discovery: %w", err))
			return int(engine.ExitFileError)
		}
		total -= cfg.Skip
	}
	if total < 0 {
		total = 0
	}

	g := engine.NewGlobalState(cfg.Bs, cfg.Bpt, total, cfg.Skip, cfg.Seek)
	g.In.Kind, g.Out.Kind = in.kind, out.kind
	g.In.Flags, g.Out.Flags = inFlags, outFlags
	g.Ae = cfg.Ae
	g.Coe = cfg.IFlags.Coe || cfg.OFlags.Coe
	g.SkipOrder = true // the sg-sg share bypass self-gates on per-segment HasShare too
	if outregFile != nil {
		g.OutregFd = outregFile.Fd()
	}
	if out2 != nil {
		g.Out2Kind = out2.kind
	}

	inMmaps, err := prepareSgFds(in, cfg.Bs, cfg.Bpt, cfg.ElemszKB, inFlags)
	if err != nil {
		log.Warn().Err(err).Msg("reserved buffer setup failed on if=, continuing without it")
	}
	outMmaps, err := prepareSgFds(out, cfg.Bs, cfg.Bpt, cfg.ElemszKB, outFlags)
	if err != nil {
		log.Warn().Err(err).Msg("reserved buffer setup failed on of=, continuing without it")
	}
	if out2 != nil {
		if _, err := prepareSgFds(*out2, cfg.Bs, cfg.Bpt, cfg.ElemszKB, outFlags); err != nil {
			log.Warn().Err(err).Msg("reserved buffer setup failed on of2=, continuing without it")
		}
	}

	dispatcher := engine.NewDispatcher(g)
	gate := engine.NewOrderingGate(g)

	workers := make([]*engine.Worker, cfg.Thr)
	for i := 0; i < cfg.Thr; i++ {
		w := &engine.Worker{
			ID:         i,
			G:          g,
			Dispatcher: dispatcher,
			Gate:       gate,
			InFile:     in.handles[i],
			OutFile:    out.handles[i],
			OutregFile: outregFile,
			Log:        logging.ForWorker(log, i),
		}
		if in.kind == engine.Sg {
			w.InTransport = &sgio.Transport{Fd: in.handles[i].Fd(), Version: versionFor(inFlags)}
		}
		if out.kind == engine.Sg {
			w.OutTransport = &sgio.Transport{Fd: out.handles[i].Fd(), Version: versionFor(outFlags)}
		}
		if out2 != nil {
			w.Out2File = out2.handles[i]
			if out2.kind == engine.Sg {
				w.Out2Transport = &sgio.Transport{Fd: out2.handles[i].Fd(), Version: versionFor(outFlags)}
			}
		}
		if in.kind == engine.Sg && out.kind == engine.Sg && !inFlags.NoShare && !outFlags.NoShare {
			sc := share.New(in.handles[i].Fd(), out.handles[i].Fd())
			if sc.Prepare() {
				w.Share = sc
			}
		}
		if inFlags.Mmap {
			w.MmapBuf = inMmaps[in.handles[i]]
		} else if outFlags.Mmap {
			w.MmapBuf = outMmaps[out.handles[i]]
		}
		workers[i] = w
	}
	workers[0].Bootstrap = make(chan struct{})

	startTime := time.Now()
	ctl := lifecycle.New(g, func() string { return statsLine(g, true) }, log)
	ctl.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		workers[0].Run()
	}()
	<-workers[0].Bootstrap

	for i := 1; i < cfg.Thr; i++ {
		wg.Add(1)
		go func(w *engine.Worker) {
			defer wg.Done()
			w.Run()
		}(workers[i])
	}
	wg.Wait()

	if cfg.Time {
		fmt.Fprintln(os.Stderr, durationThroughput(g, startTime))
	}

	if cfg.Sync {
		syncOutput(out, "of=", log)
		if out2 != nil {
			syncOutput(*out2, "of2=", log)
		}
	}

	ctl.Stop()

	fmt.Fprint(os.Stderr, statsLine(g, false))

	if cfg.Deb >= 4 {
		if err := metrics.WriteText(os.Stderr, g); err != nil {
			log.Warn().Err(err).Msg("failed to render metrics snapshot")
		}
	}

	dio := g.DioIncomplete
	if dio != 0 {
		fmt.Fprintf(os.Stderr, ">> Direct IO requested but incomplete %d times\n", dio)
		checkAllowDio(log)
	}
	if g.ResidSum != 0 {
		fmt.Fprintf(os.Stderr, ">> Non-zero sum of residual counts=%d\n", g.ResidSum)
	}

	return int(exitCategory(g))
}

func versionFor(f engine.Flags) sgio.Version {
	if f.V4 {
		return sgio.V4
	}
	return sgio.V3
}

func openSide(path string, flags engine.Flags, write bool, thr int) (side, error) {
	if path == "." {
		return side{kind: engine.Null, handles: make([]*os.File, thr)}, nil
	}
	if path == "-" {
		f, err := iokind.Open(path, flags.Flags, write)
		if err != nil {
			return side{}, err
		}
		hs := make([]*os.File, thr)
		for i := range hs {
			hs[i] = f
		}
		return side{kind: engine.Stdio, handles: hs}, nil
	}

	k, err := iokind.Classify(path)
	if err != nil {
		return side{}, err
	}
	kind := mapKind(k)

	if flags.SameFds {
		f, err := iokind.Open(path, flags.Flags, write)
		if err != nil {
			return side{}, err
		}
		hs := make([]*os.File, thr)
		for i := range hs {
			hs[i] = f
		}
		return side{kind: kind, handles: hs}, nil
	}

	hs := make([]*os.File, thr)
	for i := 0; i < thr; i++ {
		f, err := iokind.Open(path, flags.Flags, write)
		if err != nil {
			return side{}, err
		}
		hs[i] = f
	}
	return side{kind: kind, handles: hs}, nil
}

func mapKind(k iokind.Kind) engine.FileKind {
	switch k {
	case iokind.SgDevice:
		return engine.Sg
	case iokind.BlockDevice:
		return engine.BlockDev
	default:
		return engine.Regular
	}
}

// closeSide closes every distinct fd a side opened, skipping duplicates
// created by same_fds/stdio sharing and never closing stdin/stdout.
func closeSide(s side) {
	closed := map[*os.File]bool{}
	for _, f := range s.handles {
		if f == nil || f == os.Stdin || f == os.Stdout || closed[f] {
			continue
		}
		closed[f] = true
		f.Close()
	}
}

func discoverTotal(in side, bs int, path string) (int64, error) {
	fd := in.handles[0]
	switch in.kind {
	case engine.Sg:
		_, blocks, err := iokind.ReadCapacity(fd.Fd())
		if err != nil {
			return 0, err
		}
		return int64(blocks), nil
	case engine.BlockDev:
		sz, err := iokind.BlockDeviceSize(fd.Fd())
		if err != nil {
			return 0, err
		}
		return int64(sz) / int64(bs), nil
	case engine.Regular:
		fi, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		return fi.Size() / int64(bs), nil
	default:
		return 0, fmt.Errorf("count=-1 requires a sized if= (not stdin or null)")
	}
}

// prepareSgFds sizes (and optionally mmaps) the reserved buffer on every
// distinct sg fd a side opened, returning the mmap'd region for each fd
// when flags.Mmap is set (nil otherwise) so the caller can hand it to the
// matching worker as its segment buffer.
func prepareSgFds(s side, bs, bpt, elemszKB int, flags engine.Flags) (map[*os.File][]byte, error) {
	mmaps := map[*os.File][]byte{}
	if s.kind != engine.Sg {
		return mmaps, nil
	}
	seen := map[*os.File]bool{}
	for _, f := range s.handles {
		if f == nil || seen[f] {
			continue
		}
		seen[f] = true
		buf, err := sgio.PrepareReserveBuffer(f.Fd(), bs, bpt, elemszKB, flags.Defres, flags.Mmap)
		if err != nil {
			return mmaps, err
		}
		mmaps[f] = buf
	}
	return mmaps, nil
}

func syncOutput(s side, label string, log zerolog.Logger) {
	if s.kind != engine.Sg {
		return
	}
	fd := s.handles[0].Fd()
	log.Info().Msgf(">> Synchronizing cache (%s)", label)
	if err := trySyncCache(fd); err != nil {
		log.Warn().Err(err).Msgf("unable to synchronize cache (%s)", label)
	}
}

// trySyncCache issues SYNCHRONIZE CACHE(10) and, if that fails for any
// reason, issues it once more; the first error is not inspected, so a unit
// attention is not told apart from other failures.
func trySyncCache(fd uintptr) error {
	err := iokind.SyncCache(fd)
	if err == nil {
		return nil
	}
	return iokind.SyncCache(fd)
}

func durationThroughput(g *engine.GlobalState, start time.Time) string {
	secs := time.Since(start).Seconds()
	transferred := g.Total - g.Out.Rem()
	mb := float64(g.Bs) * float64(transferred) / (1024 * 1024)
	if secs > 0.00001 && mb > 0.0005 {
		return fmt.Sprintf("time to transfer data was %.6f secs, %.2f MB/sec", secs, mb/secs)
	}
	return fmt.Sprintf("time to transfer data was %.6f secs", secs)
}

// statsLine renders the classical dd "N+P records in/out" summary:
// N is the number of full blocks transferred, P is 1 iff the final
// segment on that side was a short I/O.
func statsLine(g *engine.GlobalState, progress bool) string {
	prefix := ""
	if progress {
		prefix = "  "
	}
	inRem, outRem := g.In.Rem(), g.Out.Rem()
	inPartial, outPartial := g.In.Partial(), g.Out.Partial()
	inFull := g.Total - inRem
	outFull := g.Total - outRem

	line := ""
	if outRem != 0 {
		line += fmt.Sprintf("  remaining block count=%d\n", outRem)
	}
	line += fmt.Sprintf("%s%d+%d records in\n", prefix, inFull-inPartial, inPartial)
	line += fmt.Sprintf("%s%d+%d records out\n", prefix, outFull-outPartial, outPartial)
	return line
}

func checkAllowDio(log zerolog.Logger) {
	f, err := os.Open(procAllowDio)
	if err != nil {
		return
	}
	defer f.Close()
	var b [1]byte
	if n, _ := f.Read(b[:]); n == 1 && b[0] == '0' {
		log.Warn().Msgf("%s set to '0' but should be set to '1' for direct IO", procAllowDio)
	}
}

// exitCategory maps the run's first recorded non-clean outcome to a
// process exit status; if none was recorded but blocks remain uncopied, it
// falls back to the generic "other" category.
func exitCategory(g *engine.GlobalState) engine.ExitCategory {
	if cat := g.ExitStatus(); cat != engine.ExitClean {
		return cat
	}
	if g.Out.Rem() != 0 {
		return engine.ExitOther
	}
	return engine.ExitClean
}
