package iokind

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Flags is the part of the parsed iflag=/oflag= CSV list that is not
// specific to sg submission (direct, dsync, excl, append, null, same_fds,
// mmap, coe, swait, plus the of2/ae/elemsz_kb side-channel operands). Of
// these, OpenFlags turns direct, dsync, excl and append into open(2) flags;
// the sg-submission flags live in engine.Flags, which embeds this type.
type Flags struct {
	Direct   bool
	Dsync    bool
	Excl     bool
	Append   bool
	Null     bool
	SameFds  bool
	Mmap     bool
	Coe      bool
	SWait    bool
	Of2      string
	Aen      int
	ElemszKB int
}

// OpenFlags translates the parsed flag set plus the read/write direction
// into the os.OpenFile flag bitmask, mirroring sgh_dd's open() flags
// derivation for if=/of=.
func OpenFlags(f Flags, write bool) int {
	flags := os.O_RDONLY
	if write {
		flags = os.O_WRONLY
		if !f.Excl {
			flags |= os.O_CREATE
		}
	}
	if f.Direct {
		flags |= unix.O_DIRECT
	}
	if f.Dsync {
		flags |= unix.O_DSYNC
	}
	if f.Excl {
		flags |= unix.O_EXCL
	}
	if f.Append {
		flags |= unix.O_APPEND
	}
	return flags
}

// Open opens path with the flags OpenFlags derives, or returns os.Stdin /
// os.Stdout unopened when path is "-".
func Open(path string, f Flags, write bool) (*os.File, error) {
	if path == "-" {
		if write {
			return os.Stdout, nil
		}
		return os.Stdin, nil
	}
	fh, err := os.OpenFile(path, OpenFlags(f, write), 0644)
	if err != nil {
		return nil, fmt.Errorf("iokind: open %s: %w", path, err)
	}
	return fh, nil
}
