// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package iokind classifies the file backing an if=/of= operand and opens it
// with the flag combination that operand's iflag=/oflag= list requested,
// mirroring dd_filetype and its FT_* bitmask from the original sgh_dd.
package iokind

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kind is a bitmask describing what if=/of= names, mirroring the FT_*
// constants sgh_dd derives from fstat(2) plus a probe ioctl for sg char
// devices.
type Kind int

const (
	Other Kind = 0
	// Regular is a plain seekable file.
	Regular Kind = 1 << iota
	// BlockDevice is a block special file (/dev/sdX, /dev/nvme0n1).
	BlockDevice
	// CharDevice is a character special file that is NOT an sg device
	// (e.g. /dev/null, a tape drive under st).
	CharDevice
	// SgDevice is /dev/sg* or a device that answers SG_GET_VERSION_NUM,
	// including SCSI disks opened through their bsg or sg alias.
	SgDevice
	// Stdio marks "-", read or written as os.Stdin/os.Stdout.
	Stdio
)

// Classify stats path and, for character devices, probes SG_GET_VERSION_NUM
// to distinguish an sg device from an unrelated char special file.
func Classify(path string) (Kind, error) {
	if path == "-" {
		return Stdio, nil
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Other, fmt.Errorf("iokind: stat %s: %w", path, err)
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		return Regular, nil
	case unix.S_IFBLK:
		return BlockDevice, nil
	case unix.S_IFCHR:
		if probeSg(path) {
			return SgDevice, nil
		}
		return CharDevice, nil
	default:
		return Other, fmt.Errorf("iokind: %s is neither a regular file nor a block or character device", path)
	}
}

func probeSg(path string) bool {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	defer f.Close()
	var v int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), 0x2282, uintptr(unsafe.Pointer(&v)))
	return errno == 0
}
