package sgio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sgExtendedInfo mirrors struct sg_extended_info used by SG_SET_GET_EXTENDED,
// trimmed to the fields this transport actually reads or writes: the share
// enable/change bits, the fd being shared in, the reserved element size hint
// and the ctl_flags mask carrying MASTER_FINI.
type sgExtendedInfo struct {
	sgatElemSz     uint32
	reserved0      uint32
	reserved1      uint32
	reserved2      uint32
	minorIndex     uint32
	shareFd        int32
	seimWrMask     uint32
	seimRdMask     uint32
	ctlFlagsWrMask uint32
	ctlFlagsRdMask uint32
	ctlFlags       uint32
	pad            [4]uint32
}

const (
	seimSGATElemSz  = 0x40
	seimShareFd     = 0x20
	seimChgShareFd  = 0x10
	ctlFlagMaskFini = 0x1
)

// GetVersion queries the sg driver's SG_GET_VERSION_NUM (drivers with the
// v4 interface report 30000 and above). The transport does not call it: the
// interface version is taken from iflag=/oflag= as given.
func GetVersion(fd uintptr) (int, error) {
	var v int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, sgGetVersionNum, uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return 0, fmt.Errorf("sgio: SG_GET_VERSION_NUM: %w", errno)
	}
	return int(v), nil
}

// SetReservedSize sets the per-fd reserved buffer used for direct and mmap
// I/O, mirroring SG_SET_RESERVED_SIZE. bytes is passed to the driver as
// given; it is not rounded.
func SetReservedSize(fd uintptr, bytes int) error {
	sz := int32(bytes)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, sgSetReservedSize, uintptr(unsafe.Pointer(&sz)))
	if errno != 0 {
		return fmt.Errorf("sgio: SG_SET_RESERVED_SIZE(%d): %w", bytes, errno)
	}
	return nil
}

// ReservedSize returns the current reserved buffer size via
// SG_GET_RESERVED_SIZE.
func ReservedSize(fd uintptr) (int, error) {
	var sz int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, sgGetReservedSize, uintptr(unsafe.Pointer(&sz)))
	if errno != 0 {
		return 0, fmt.Errorf("sgio: SG_GET_RESERVED_SIZE: %w", errno)
	}
	return int(sz), nil
}

// SetSGATElemSize sets the scatter-gather element size hint (elemsz_kb=)
// via SG_SET_GET_EXTENDED before the reserved buffer is sized, matching the
// original's requirement that the hint precede SG_SET_RESERVED_SIZE.
func SetSGATElemSize(fd uintptr, bytes uint32) error {
	info := sgExtendedInfo{sgatElemSz: bytes, seimWrMask: seimSGATElemSz}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, sgSetGetExtended, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return fmt.Errorf("sgio: SG_SET_GET_EXTENDED(elemsz_kb=%d): %w", bytes/1024, errno)
	}
	return nil
}

// ShareAsMaster designates fd as the master (read) side of a kernel buffer
// share and hands the write side's fd to the kernel, matching
// sg_share_prepare's SEIM_SHARE_FD call on the master descriptor.
func ShareAsMaster(masterFd uintptr, slaveFd int32) error {
	info := sgExtendedInfo{shareFd: slaveFd, seimWrMask: seimShareFd}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, masterFd, sgSetGetExtended, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return fmt.Errorf("sgio: SG_SET_GET_EXTENDED(share_fd=%d): %w", slaveFd, errno)
	}
	return nil
}

// ChangeShareTo repoints an already-shared write fd's kernel buffer at a new
// master fd, used when swapping between primary and secondary outputs
// (oflag=of2) without tearing the share down first.
func ChangeShareTo(slaveFd uintptr, newMasterFd int32) error {
	info := sgExtendedInfo{shareFd: newMasterFd, seimWrMask: seimChgShareFd}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, slaveFd, sgSetGetExtended, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return fmt.Errorf("sgio: SG_SET_GET_EXTENDED(change_share_fd=%d): %w", newMasterFd, errno)
	}
	return nil
}

// PrepareReserveBuffer sizes an fd's reserved buffer for a bs*bpt transfer
// unless defres is set, optionally forwarding an elemsz_kb hint first (the
// hint must precede the reserved-size call). When mmapIO is requested it
// returns an mmap'd view of that reservation; the caller munmaps it on
// worker exit.
func PrepareReserveBuffer(fd uintptr, bs, bpt, elemszKB int, defres, mmapIO bool) ([]byte, error) {
	if elemszKB >= 4 {
		if err := SetSGATElemSize(fd, uint32(elemszKB)*1024); err != nil {
			return nil, err
		}
	}
	if !defres {
		if err := SetReservedSize(fd, bs*bpt); err != nil {
			return nil, err
		}
	}
	if !mmapIO {
		return nil, nil
	}
	sz, err := ReservedSize(fd)
	if err != nil {
		return nil, err
	}
	return unix.Mmap(int(fd), 0, sz, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// MasterFinish tells the kernel this fd is done acting as a share master,
// via ctl_flags' MASTER_FINI bit, letting the slave side release the shared
// buffer on its own next close.
func MasterFinish(masterFd uintptr) error {
	info := sgExtendedInfo{ctlFlags: ctlFlagMaskFini, ctlFlagsWrMask: ctlFlagMaskFini}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, masterFd, sgSetGetExtended, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return fmt.Errorf("sgio: SG_SET_GET_EXTENDED(master_fini): %w", errno)
	}
	return nil
}
