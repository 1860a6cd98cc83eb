// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cdb builds SCSI READ and WRITE command descriptor blocks in the
// 6, 10, 12 and 16 byte forms used by the sg transport.
package cdb

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOverflow is returned when the requested LBA/block-count pair cannot be
// represented in the requested CDB size, or when FUA/DPO is requested on a
// 6-byte CDB (which has no room for those bits).
var ErrOverflow = errors.New("cdb: block range does not fit requested cdb size")

var (
	readOpcode  = [4]byte{0x08, 0x28, 0xA8, 0x88}
	writeOpcode = [4]byte{0x0A, 0x2A, 0xAA, 0x8A}
)

func sizeIndex(cdbsz int) (int, error) {
	switch cdbsz {
	case 6:
		return 0, nil
	case 10:
		return 1, nil
	case 12:
		return 2, nil
	case 16:
		return 3, nil
	default:
		return 0, fmt.Errorf("cdb: unsupported cdb size %d (want 6, 10, 12 or 16)", cdbsz)
	}
}

// Request describes the parameters of a single READ or WRITE CDB.
type Request struct {
	CdbSize  int
	Blocks   uint32
	StartLBA int64
	IsWrite  bool
	Fua      bool
	Dpo      bool
}

// Build constructs a zero-padded CDB of length Request.CdbSize for the given
// read/write request. The opcode table is indexed by cdb size: read
// {0x08,0x28,0xA8,0x88}, write {0x0A,0x2A,0xAA,0x8A}.
func Build(r Request) ([]byte, error) {
	idx, err := sizeIndex(r.CdbSize)
	if err != nil {
		return nil, err
	}
	cdb := make([]byte, r.CdbSize)
	if r.Dpo {
		cdb[1] |= 0x10
	}
	if r.Fua {
		cdb[1] |= 0x08
	}
	var opcode byte
	if r.IsWrite {
		opcode = writeOpcode[idx]
	} else {
		opcode = readOpcode[idx]
	}
	cdb[0] = opcode

	switch r.CdbSize {
	case 6:
		if r.Fua || r.Dpo {
			return nil, fmt.Errorf("%w: fua/dpo not supported on 6 byte cdb", ErrOverflow)
		}
		if r.Blocks > 256 {
			return nil, fmt.Errorf("%w: 6 byte cdb max blocks is 256, got %d", ErrOverflow, r.Blocks)
		}
		lastBlock := r.StartLBA + int64(r.Blocks) - 1
		if lastBlock&^0x1fffff != 0 {
			return nil, fmt.Errorf("%w: 6 byte cdb cannot address block %d", ErrOverflow, lastBlock)
		}
		putBE24(cdb[1:4], uint32(r.StartLBA)&0x1fffff)
		if r.Blocks == 256 {
			cdb[4] = 0
		} else {
			cdb[4] = byte(r.Blocks)
		}
	case 10:
		if r.Blocks > 0xffff {
			return nil, fmt.Errorf("%w: 10 byte cdb max blocks is 65535, got %d", ErrOverflow, r.Blocks)
		}
		binary.BigEndian.PutUint32(cdb[2:6], uint32(r.StartLBA))
		binary.BigEndian.PutUint16(cdb[7:9], uint16(r.Blocks))
	case 12:
		binary.BigEndian.PutUint32(cdb[2:6], uint32(r.StartLBA))
		binary.BigEndian.PutUint32(cdb[6:10], r.Blocks)
	case 16:
		binary.BigEndian.PutUint64(cdb[2:10], uint64(r.StartLBA))
		binary.BigEndian.PutUint32(cdb[10:14], r.Blocks)
	}
	return cdb, nil
}

func putBE24(dst []byte, v uint32) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

// SyncCache10 builds a SYNCHRONIZE CACHE(10) CDB covering the whole
// device (zero LBA, zero block count means "rest of device"), used by the
// sync= operand after a copy completes.
func SyncCache10() []byte {
	return []byte{0x35, 0, 0, 0, 0, 0, 0, 0, 0, 0}
}

// MinSizeFor returns the smallest CDB size (10 or 16; the auto-promotion
// rule never selects 6 or 12) that can address the given range, mirroring
// the cdbsz-auto-promotion rule applied when neither iflag= nor oflag=
// cdbsz was explicitly requested.
func MinSizeFor(lastBlockPlusCount int64, blocksPerTransfer int) int {
	if lastBlockPlusCount > 0xffffffff || blocksPerTransfer > 0xffff {
		return 16
	}
	return 10
}
