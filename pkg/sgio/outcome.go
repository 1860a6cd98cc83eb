package sgio

// Outcome is the small classification this package reduces every SCSI
// completion to. Workers branch on Outcome rather than inspecting sense
// bytes themselves; the retry/accounting rules in the engine package are
// expressed entirely in terms of this set.
type Outcome int

const (
	// Clean is a successful completion with no sense data, or with sense
	// data whose sense key is NO SENSE (0x0).
	Clean Outcome = iota
	// Recovered is a successful completion that nonetheless carried sense
	// data (sense key RECOVERED_ERROR, 0x1) worth logging.
	Recovered
	// AbortedCommand maps sense key ABORTED_COMMAND (0xb); a sequential sg
	// read or write resubmits the segment, up to three attempts in all,
	// before treating it as fatal.
	AbortedCommand
	// UnitAttention maps sense key UNIT_ATTENTION (0x6), e.g. a device
	// reset or medium change notification; retried without counting
	// against the partial-transfer accounting.
	UnitAttention
	// MediumHard maps sense keys MEDIUM_ERROR (0x3) and HARDWARE_ERROR
	// (0x4); fatal unless the caller's continue-on-error flag is set, in
	// which case the segment is counted as done and the run continues: a
	// sequential read zero-fills the segment's buffer, a write drops the
	// segment. The medium-hard exit category is recorded either way.
	MediumHard
	// NotReadyOther covers sense key NOT_READY (0x2) and anything else
	// this package doesn't special-case; always fatal.
	NotReadyOther
)

func (o Outcome) String() string {
	switch o {
	case Clean:
		return "clean"
	case Recovered:
		return "recovered"
	case AbortedCommand:
		return "aborted-command"
	case UnitAttention:
		return "unit-attention"
	case MediumHard:
		return "medium-hard"
	case NotReadyOther:
		return "not-ready-other"
	default:
		return "unknown"
	}
}

const (
	senseKeyRecoveredError = 0x1
	senseKeyNotReady       = 0x2
	senseKeyMediumError    = 0x3
	senseKeyHardwareError  = 0x4
	senseKeyUnitAttention  = 0x6
	senseKeyAbortedCommand = 0xb
)

// senseKey extracts the sense key from a fixed (0x70) or descriptor (0x72)
// format sense buffer, mirroring execGenericIO's decoding: fixed format
// carries the key in byte 2, descriptor format in byte 1. A buffer that
// matches neither response code, or that is all zero, carries no key.
func senseKey(sense []byte) (key byte, ok bool) {
	if len(sense) < 3 {
		return 0, false
	}
	switch sense[0] & 0x7f {
	case 0x70, 0x71:
		return sense[2] & 0x0f, true
	case 0x72, 0x73:
		return sense[1] & 0x0f, true
	default:
		return 0, false
	}
}

// classify reduces a completion's driver/host status words and sense buffer
// to an Outcome. driverStatus carries the sense flag in its low nibble
// (mirroring both sg_io_hdr.driver_status and sg_io_v4.driver_status); a
// nonzero host status with no decodable sense key falls back to
// NotReadyOther, matching sg_err_category_new's default branch.
func classify(driverStatus, hostStatus uint16, sense []byte) Outcome {
	key, ok := senseKey(sense)
	if !ok {
		if driverStatus&driverSenseMask == 0 && hostStatus == 0 {
			return Clean
		}
		return NotReadyOther
	}
	switch key {
	case 0:
		return Clean
	case senseKeyRecoveredError:
		return Recovered
	case senseKeyUnitAttention:
		return UnitAttention
	case senseKeyAbortedCommand:
		return AbortedCommand
	case senseKeyMediumError, senseKeyHardwareError:
		return MediumHard
	case senseKeyNotReady:
		return NotReadyOther
	default:
		return NotReadyOther
	}
}
