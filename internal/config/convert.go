package config

import (
	"github.com/sgtools/sgdd/pkg/engine"
	"github.com/sgtools/sgdd/pkg/iokind"
)

// ToEngineFlags converts a parsed SideFlags into the engine package's
// Flags, which embeds the OS-open subset (iokind.Flags) and adds the
// sg-submission-only fields. cdbsz is this side's resolved cdbsz (from
// Config.CdbszIn/CdbszOut, already auto-promoted by Normalize).
func (f SideFlags) ToEngineFlags(cdbsz int, of2 string, ae, elemszKB int) engine.Flags {
	return engine.Flags{
		Flags: iokind.Flags{
			Direct:   f.Direct,
			Dsync:    f.Dsync,
			Excl:     f.Excl,
			Append:   f.Append,
			Null:     f.Null,
			SameFds:  f.SameFds,
			Mmap:     f.Mmap,
			Coe:      f.Coe,
			SWait:    f.SWait,
			Of2:      of2,
			Aen:      ae,
			ElemszKB: elemszKB,
		},
		Defres:  f.Defres,
		Dio:     f.Dio,
		NoXfer:  f.NoXfer,
		NoShare: f.NoShare,
		V3:      f.V3,
		V4:      f.V4,
		Fua:     f.Fua,
		Dpo:     f.Dpo,
		Cdbsz:   cdbsz,
	}
}
