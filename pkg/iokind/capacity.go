// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Copyright 2021 Christian Svensson. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package iokind

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/dswarbrick/smart/ioctl"
	"golang.org/x/sys/unix"

	"github.com/sgtools/sgdd/pkg/cdb"
)

const (
	scsiInquiry         = 0x12
	scsiReadCapacity10  = 0x25
	scsiReadCapacity16  = 0x9e
	serviceActionRdCap16 = 0x10
	scsiSyncCache10     = 0x35
	sgIO                = 0x2285
)

// sgIoHdr is the same v3 SG_IO header this module's async transport uses,
// kept as an unexported duplicate here so this file's single synchronous
// helper doesn't need to import the engine-facing sgio package. Field names
// follow struct sg_io_hdr in <scsi/sg.h>.
type sgIoHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSbLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packID         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

const (
	dxferFromDevice = -3
	dxferToDevice   = -2
)

func sendCDB(fd uintptr, cdbBytes []byte, toDevice bool, buf []byte) error {
	sense := make([]byte, 32)
	dir := int32(dxferFromDevice)
	if toDevice {
		dir = dxferToDevice
	}
	hdr := sgIoHdr{
		interfaceID:    'S',
		dxferDirection: dir,
		timeout:        60000,
		cmdLen:         uint8(len(cdbBytes)),
		mxSbLen:        uint8(len(sense)),
		cmdp:           uintptr(unsafe.Pointer(&cdbBytes[0])),
		sbp:            uintptr(unsafe.Pointer(&sense[0])),
	}
	if len(buf) > 0 {
		hdr.dxferLen = uint32(len(buf))
		hdr.dxferp = uintptr(unsafe.Pointer(&buf[0]))
	}
	if err := ioctl.Ioctl(fd, sgIO, uintptr(unsafe.Pointer(&hdr))); err != nil {
		return err
	}
	if hdr.info&0x1 != 0 {
		return fmt.Errorf("iokind: SCSI command 0x%02x failed: status=%#02x host=%#02x driver=%#02x sense=%#02x",
			cdbBytes[0], hdr.status, hdr.hostStatus, hdr.driverStatus, sense[0])
	}
	return nil
}

// Inquiry issues SCSI INQUIRY and returns the trimmed vendor/product string,
// used only for log context when opening an sg device.
func Inquiry(fd uintptr) (string, error) {
	resp := make([]byte, 36)
	req := make([]byte, 6)
	req[0] = scsiInquiry
	binary.BigEndian.PutUint16(req[3:], uint16(len(resp)))
	if err := sendCDB(fd, req, false, resp); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s", trimNulSpace(resp[8:16]), trimNulSpace(resp[16:32])), nil
}

// ReadCapacity returns (block size, block count) for the sg device at fd,
// promoting to READ CAPACITY(16) when the (10) form reports the classic
// 0xFFFFFFFF "too big" sentinel, mirroring the original's capacity probe.
func ReadCapacity(fd uintptr) (blockSize uint32, blocks uint64, err error) {
	resp := make([]byte, 8)
	req := make([]byte, 10)
	req[0] = scsiReadCapacity10
	if err := sendCDB(fd, req, false, resp); err != nil {
		return 0, 0, err
	}
	lastLBA := binary.BigEndian.Uint32(resp[0:4])
	blockSize = binary.BigEndian.Uint32(resp[4:8])
	if lastLBA != 0xFFFFFFFF {
		return blockSize, uint64(lastLBA) + 1, nil
	}

	resp16 := make([]byte, 32)
	req16 := make([]byte, 16)
	req16[0] = scsiReadCapacity16
	req16[1] = serviceActionRdCap16
	binary.BigEndian.PutUint32(req16[10:14], uint32(len(resp16)))
	if err := sendCDB(fd, req16, false, resp16); err != nil {
		return 0, 0, err
	}
	lastLBA64 := binary.BigEndian.Uint64(resp16[0:8])
	blockSize = binary.BigEndian.Uint32(resp16[8:12])
	return blockSize, lastLBA64 + 1, nil
}

// BlockDeviceSize returns the size in bytes of a block device via
// BLKGETSIZE64, used for if=/of= operands that name a block special file
// rather than an sg character device.
func BlockDeviceSize(fd uintptr) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}

// SyncCache issues SYNCHRONIZE CACHE(10) over the whole device, used by the
// sync= operand after the copy completes.
func SyncCache(fd uintptr) error {
	return sendCDB(fd, cdb.SyncCache10(), false, nil)
}

func trimNulSpace(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] == ' ') {
		end--
	}
	return string(b[:end])
}
