// Package config parses sgdd's dd-style "name=value" operands plus
// "--long" options, and normalizes/validates the result into the shape
// the engine and transport packages expect.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SideFlags is the parsed iflag=/oflag= CSV list, named exactly as the
// operands spell them.
type SideFlags struct {
	Append   bool
	Coe      bool
	Defres   bool
	Dio      bool
	Direct   bool
	Dpo      bool
	Dsync    bool
	Excl     bool
	Fua      bool
	Mmap     bool
	NoShare  bool
	NoXfer   bool
	Null     bool
	SameFds  bool
	SWait    bool
	V3       bool
	V4       bool
}

var flagSetters = map[string]func(*SideFlags){
	"append":    func(f *SideFlags) { f.Append = true },
	"coe":       func(f *SideFlags) { f.Coe = true },
	"defres":    func(f *SideFlags) { f.Defres = true },
	"dio":       func(f *SideFlags) { f.Dio = true },
	"direct":    func(f *SideFlags) { f.Direct = true },
	"dpo":       func(f *SideFlags) { f.Dpo = true },
	"dsync":     func(f *SideFlags) { f.Dsync = true },
	"excl":      func(f *SideFlags) { f.Excl = true },
	"fua":       func(f *SideFlags) { f.Fua = true },
	"mmap":      func(f *SideFlags) { f.Mmap = true },
	"noshare":   func(f *SideFlags) { f.NoShare = true },
	"noxfer":    func(f *SideFlags) { f.NoXfer = true },
	"null":      func(f *SideFlags) { f.Null = true },
	"same_fds":  func(f *SideFlags) { f.SameFds = true },
	"swait":     func(f *SideFlags) { f.SWait = true },
	"v3":        func(f *SideFlags) { f.V3 = true },
	"v4":        func(f *SideFlags) { f.V4 = true },
}

func parseSideFlags(csv string) (SideFlags, error) {
	var f SideFlags
	if csv == "" {
		return f, nil
	}
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		set, ok := flagSetters[tok]
		if !ok {
			return f, fmt.Errorf("config: unknown flag %q", tok)
		}
		set(&f)
	}
	return f, nil
}

// Config is the fully parsed, not-yet-normalized command line.
type Config struct {
	Bs, Ibs, Obs int
	Count        int64 // -1 == discover
	If, Of       string
	Of2, Ofreg   string
	Skip, Seek   int64
	Bpt          int
	BptGiven     bool
	CdbszIn      int
	CdbszOut     int
	CdbszGiven   bool
	Thr          int
	FuaMask      int // 1=OFILE, 2=IFILE, 3=both
	Coe          bool
	Dio          bool
	Sync         bool
	Time         bool
	Ae           int
	ElemszKB     int
	IFlags       SideFlags
	OFlags       SideFlags
	Deb          int
	Verbose      int
	DryRun       bool
	Help         bool
	Version      bool
}

// Default returns a Config preloaded with sgh_dd's documented defaults.
func Default() *Config {
	return &Config{
		Bs:       512,
		Count:    -1,
		If:       "-",
		Of:       ".",
		Bpt:      128,
		CdbszIn:  10,
		CdbszOut: 10,
		Thr:      4,
	}
}

var ErrHelp = errors.New("config: help requested")
var ErrVersion = errors.New("config: version requested")

// Parse parses argv (excluding argv[0]) into a Config, without running
// cross-flag normalization/validation (see Normalize).
func Parse(args []string) (*Config, error) {
	c := Default()
	for _, arg := range args {
		switch arg {
		case "--dry-run":
			c.DryRun = true
			continue
		case "--help":
			return c, ErrHelp
		case "--verbose":
			c.Verbose++
			continue
		case "--version":
			return c, ErrVersion
		}
		if strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("config: unknown option %q", arg)
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("config: operand %q is not name=value", arg)
		}
		if err := c.setOperand(key, value); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Config) setOperand(key, value string) error {
	var err error
	switch key {
	case "bs":
		c.Bs, err = parsePositiveInt(value)
	case "ibs":
		c.Ibs, err = parsePositiveInt(value)
	case "obs":
		c.Obs, err = parsePositiveInt(value)
	case "count":
		c.Count, err = parseSignedInt64(value)
	case "if":
		c.If = value
	case "of":
		c.Of = value
	case "of2":
		c.Of2 = value
	case "ofreg":
		c.Ofreg = value
	case "skip":
		c.Skip, err = parseSignedInt64(value)
	case "seek":
		c.Seek, err = parseSignedInt64(value)
	case "bpt":
		c.Bpt, err = parsePositiveInt(value)
		c.BptGiven = true
	case "cdbsz":
		var sz int
		sz, err = parsePositiveInt(value)
		c.CdbszIn, c.CdbszOut = sz, sz
		c.CdbszGiven = true
	case "thr":
		c.Thr, err = parsePositiveInt(value)
	case "fua":
		c.FuaMask, err = parsePositiveInt(value)
	case "coe":
		c.Coe, err = parseBool(value)
	case "dio":
		c.Dio, err = parseBool(value)
	case "sync":
		c.Sync, err = parseBool(value)
	case "time":
		c.Time, err = parseBool(value)
	case "ae":
		c.Ae, err = parsePositiveInt(value)
	case "elemsz_kb":
		c.ElemszKB, err = parsePositiveInt(value)
	case "iflag":
		c.IFlags, err = parseSideFlags(value)
	case "oflag":
		c.OFlags, err = parseSideFlags(value)
	case "deb":
		c.Deb, err = parsePositiveInt(value)
	case "verbose":
		c.Verbose, err = parsePositiveInt(value)
	default:
		return fmt.Errorf("config: unknown operand %q", key)
	}
	return err
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("config: %q is not an integer", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("config: %q is negative", s)
	}
	return n, nil
}

func parseSignedInt64(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %q is not an integer", s)
	}
	return n, nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("config: %q is not 0 or 1", s)
	}
}
