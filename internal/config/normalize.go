package config

import (
	"fmt"

	"github.com/sgtools/sgdd/pkg/cdb"
)

const (
	maxThreads            = 16
	maxCdbsz              = 16
	blocksPer2048Transfer = 32
)

// Normalize applies sgh_dd's cross-flag validation and the auto-promotion
// rules documented in SPEC_FULL.md §5 (v3->v4, cdbsz->16, bpt->32), and
// the FIXED same_fds/mmap check: the original compares in_flags.same_fds
// against itself twice, omitting out_flags.same_fds; this reimplementation
// checks both sides. Before validating, it folds the fua= bitmask and the
// coe=/dio= booleans into the per-side flags and raises Deb to verbose= if
// that is higher.
func (c *Config) Normalize() error {
	if c.FuaMask&1 != 0 {
		c.OFlags.Fua = true
	}
	if c.FuaMask&2 != 0 {
		c.IFlags.Fua = true
	}
	if c.Coe {
		c.IFlags.Coe, c.OFlags.Coe = true, true
	}
	if c.Dio {
		c.IFlags.Dio, c.OFlags.Dio = true, true
	}
	if c.Verbose > c.Deb {
		c.Deb = c.Verbose
	}
	if c.Ibs != 0 && c.Ibs != c.Bs {
		return fmt.Errorf("config: ibs must equal bs if given")
	}
	if c.Obs != 0 && c.Obs != c.Bs {
		return fmt.Errorf("config: obs must equal bs if given")
	}
	if c.Skip < 0 || c.Seek < 0 {
		return fmt.Errorf("config: skip and seek cannot be negative")
	}
	if c.OFlags.Append && c.Seek > 0 {
		return fmt.Errorf("config: can't use both append and seek")
	}
	if c.Bpt < 1 {
		return fmt.Errorf("config: bpt must be greater than 0")
	}
	if c.IFlags.Mmap && c.OFlags.Mmap {
		return fmt.Errorf("config: mmap flag on both if and of doesn't work")
	}
	if c.OFlags.Mmap && !(c.IFlags.NoShare || c.OFlags.NoShare) {
		return fmt.Errorf("config: oflag=mmap needs either iflag=noshare or oflag=noshare")
	}
	if (c.IFlags.Mmap || c.OFlags.Mmap) && (c.IFlags.SameFds || c.OFlags.SameFds) {
		return fmt.Errorf("config: can't have both mmap and same_fds flags")
	}
	if (!c.IFlags.NoShare && c.IFlags.Dio) || (!c.OFlags.NoShare && c.OFlags.Dio) {
		return fmt.Errorf("config: dio flag can only be used with noshare flag")
	}
	if c.Thr < 1 || c.Thr > maxThreads {
		return fmt.Errorf("config: thr must be between 1 and %d", maxThreads)
	}

	if c.Bs >= 2048 && !c.BptGiven {
		c.Bpt = blocksPer2048Transfer
	}

	promoteV3V4(&c.IFlags, &c.OFlags)
	promoteV3V4(&c.OFlags, &c.IFlags)

	if !c.CdbszGiven && c.Count >= 0 {
		if c.CdbszIn != maxCdbsz {
			c.CdbszIn = cdb.MinSizeFor(c.Count+c.Skip, c.Bpt)
		}
		if c.CdbszOut != maxCdbsz {
			c.CdbszOut = cdb.MinSizeFor(c.Count+c.Seek, c.Bpt)
		}
	}
	return nil
}

// promoteV3V4 promotes other to v4 when f requests v4 and other hasn't
// been explicitly forced to v3.
func promoteV3V4(f, other *SideFlags) {
	if f.V4 && !other.V3 {
		other.V4 = true
	}
}

