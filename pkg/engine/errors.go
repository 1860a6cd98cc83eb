package engine

import "errors"

var (
	// ErrMediumHard is returned by a worker's I/O step when the sg
	// transport classified a completion as MediumHard and coe is not set.
	ErrMediumHard = errors.New("engine: unrecoverable medium/hardware error")
	// ErrNotReady covers the NotReady/Other outcome, always fatal.
	ErrNotReady = errors.New("engine: device not ready or unclassified error")
	// ErrShortRead/ErrShortWrite mark a non-sg short transfer; not fatal by
	// themselves, they set stop_after_write on the segment.
	ErrShortRead  = errors.New("engine: short read on ordinary file")
	ErrShortWrite = errors.New("engine: short write on ordinary file")
)

// ExitCategory mirrors the sg library's exit-code categories: the first
// non-clean outcome recorded during the run becomes the process exit status
// (see GlobalState.SetExitStatus).
type ExitCategory int

const (
	ExitClean ExitCategory = iota
	ExitSyntax
	ExitFileError
	ExitOther
	ExitMediumHard
	ExitNotReady
)
