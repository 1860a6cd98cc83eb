package sgio

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Version selects the sg driver interface used for a Submit/Receive pair.
type Version int

const (
	V3 Version = iota
	V4
)

// ErrOutOfMemory is returned by Submit when the driver's reserved buffer is
// exhausted (ENOMEM on write(2)/SG_IOSUBMIT); the caller may retry once
// other in-flight commands drain.
var ErrOutOfMemory = errors.New("sgio: out of memory submitting command")

// SubmitRequest parameterises one asynchronous SCSI command submission.
type SubmitRequest struct {
	CDB     []byte
	Dir     CDBDirection
	Buf     []byte // nil/empty when Flags has FlagNoDxfer
	Timeout time.Duration
	Flags   SubmitFlags
	PackID  int32
}

// Completion is the classified result of a Receive call.
type Completion struct {
	Outcome      Outcome
	Resid        int32
	DioRequested bool
	DioServiced  bool
	Sense        [senseBufLen]byte
	PackID       int32
}

// Transport submits and retrieves completions for one open sg file
// descriptor. It is not safe for a single in-flight command to be shared
// across Transports, but distinct commands on the same fd may be submitted
// from different goroutines (the sg driver itself serializes the queue).
type Transport struct {
	Fd      uintptr
	Version Version
}

func timeoutMillis(d time.Duration) uint32 {
	if d <= 0 {
		return DefaultTimeoutMillis
	}
	return uint32(d.Milliseconds())
}

// Submit issues one READ or WRITE SCSI command asynchronously. It returns
// once the kernel has accepted the command for execution; the actual SCSI
// completion is retrieved later via Receive with the same pack id.
func (t *Transport) Submit(req SubmitRequest) error {
	if t.Version == V4 {
		return t.submitV4(req)
	}
	return t.submitV3(req)
}

func (t *Transport) submitV3(req SubmitRequest) error {
	var sense [senseBufLen]byte
	hdr := sgIoHdr{
		interfaceID:    'S',
		dxferDirection: req.Dir,
		cmdLen:         uint8(len(req.CDB)),
		mxSbLen:        senseBufLen,
		timeout:        timeoutMillis(req.Timeout),
		flags:          uint32(req.Flags),
		packID:         req.PackID,
		cmdp:           uintptr(unsafe.Pointer(&req.CDB[0])),
		sbp:            uintptr(unsafe.Pointer(&sense[0])),
	}
	if len(req.Buf) > 0 && req.Flags&FlagNoDxfer == 0 {
		hdr.dxferLen = uint32(len(req.Buf))
		hdr.dxferp = uintptr(unsafe.Pointer(&req.Buf[0]))
	}
	_, _, errno := unix.Syscall(unix.SYS_WRITE, t.Fd, uintptr(unsafe.Pointer(&hdr)), unsafe.Sizeof(hdr))
	return classifySubmitErrno(errno)
}

func (t *Transport) submitV4(req SubmitRequest) error {
	h4 := sgIoV4{
		guard:        'Q',
		requestLen:   uint32(len(req.CDB)),
		request:      uint64(uintptr(unsafe.Pointer(&req.CDB[0]))),
		maxResponseLen: senseBufLen,
		timeout:      timeoutMillis(req.Timeout),
		flags:        uint32(req.Flags),
		requestExtra: uint32(req.PackID),
	}
	var sense [senseBufLen]byte
	h4.response = uint64(uintptr(unsafe.Pointer(&sense[0])))
	if len(req.Buf) > 0 && req.Flags&FlagNoDxfer == 0 {
		if req.Dir == DirToDevice {
			h4.doutXferLen = uint32(len(req.Buf))
			h4.doutXferp = uint64(uintptr(unsafe.Pointer(&req.Buf[0])))
		} else {
			h4.dinXferLen = uint32(len(req.Buf))
			h4.dinXferp = uint64(uintptr(unsafe.Pointer(&req.Buf[0])))
		}
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, t.Fd, sgIOSubmit, uintptr(unsafe.Pointer(&h4)))
	return classifySubmitErrno(errno)
}

func classifySubmitErrno(errno unix.Errno) error {
	if errno == 0 {
		return nil
	}
	if errno == unix.ENOMEM {
		return ErrOutOfMemory
	}
	return fmt.Errorf("sgio: submit failed: %w", errno)
}

// Receive retrieves the completion for the command identified by
// wantPackID. wr selects which queue (read vs write side CDB) to pull from
// in the v3 case, where receive is a plain read(2) honoring dxfer_direction.
func (t *Transport) Receive(wr bool, wantPackID int32, dioRequested bool) (Completion, error) {
	if t.Version == V4 {
		return t.receiveV4(wantPackID, dioRequested)
	}
	return t.receiveV3(wr, wantPackID, dioRequested)
}

func (t *Transport) receiveV3(wr bool, wantPackID int32, dioRequested bool) (Completion, error) {
	dir := DirFromDevice
	if wr {
		dir = DirToDevice
	}
	var c Completion
	hdr := sgIoHdr{
		interfaceID:    'S',
		dxferDirection: dir,
		packID:         wantPackID,
		mxSbLen:        senseBufLen,
		sbp:            uintptr(unsafe.Pointer(&c.Sense[0])),
	}
	_, _, errno := unix.Syscall(unix.SYS_READ, t.Fd, uintptr(unsafe.Pointer(&hdr)), unsafe.Sizeof(hdr))
	if errno != 0 {
		return Completion{}, fmt.Errorf("sgio: receive failed: %w", errno)
	}
	c.Resid = hdr.resid
	c.DioRequested = dioRequested
	c.DioServiced = hdr.info&sgInfoDirectIOMask == sgInfoDirectIO
	c.PackID = hdr.packID
	c.Outcome = classify(hdr.driverStatus, hdr.hostStatus, c.Sense[:])
	return c, nil
}

func (t *Transport) receiveV4(wantPackID int32, dioRequested bool) (Completion, error) {
	var c Completion
	h4 := sgIoV4{
		requestExtra:   uint32(wantPackID),
		maxResponseLen: senseBufLen,
		response:       uint64(uintptr(unsafe.Pointer(&c.Sense[0]))),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, t.Fd, sgIOReceive, uintptr(unsafe.Pointer(&h4)))
	if errno != 0 {
		return Completion{}, fmt.Errorf("sgio: SG_IORECEIVE failed: %w", errno)
	}
	c.Resid = h4.dinResid
	c.DioRequested = dioRequested
	c.DioServiced = h4.info&sgInfoDirectIO != 0
	c.PackID = int32(h4.requestExtra)
	c.Outcome = classify(uint16(h4.driverStatus), uint16(h4.transportStatus|h4.deviceStatus), c.Sense[:])
	return c, nil
}

// Abort issues SG_IOABORT for the in-flight v4 command with the given pack
// id; used by the async-abort-every-N feature (§4.2's "aen").
func (t *Transport) Abort(packID int32) error {
	h4 := sgIoV4{guard: 'Q', requestExtra: uint32(packID)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, t.Fd, sgIOAbort, uintptr(unsafe.Pointer(&h4)))
	if errno != 0 {
		return fmt.Errorf("sgio: SG_IOABORT failed: %w", errno)
	}
	return nil
}

// PollReadable waits up to the given timeout for the fd to become readable,
// used before issuing an abort so a command that just completed isn't
// aborted unnecessarily.
func (t *Transport) PollReadable(timeout time.Duration) (ready bool, err error) {
	fds := []unix.PollFd{{Fd: int32(t.Fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const (
	sgInfoDirectIOMask = 0x06
	sgInfoDirectIO     = 0x02
)
