// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package inode implements the indexed on-disk inode (spec §4.2): 10 direct
// sector pointers, one single-indirect sector, and one double-indirect
// sector, each index entry a 4-byte disk sector number. Packed together the
// whole record fits in one 512-byte sector.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/oslab/corefs/internal/blockdev"
)

const (
	DirectCount          = 10
	PointersPerIndexSector = 128
	MaxFileSectors       = DirectCount + PointersPerIndexSector + PointersPerIndexSector*PointersPerIndexSector

	diskMagic = 0x494e4f44 // "INOD"

	// onDiskRecordSize is the encoded size in bytes; it must not exceed the
	// device's sector size.
	onDiskRecordSize = 4*DirectCount + 4 + 4 + 4 + 8 + 1 + 4
)

// DiskSector is a 4-byte on-disk sector pointer. Zero means "unallocated" —
// sector 0 is always the boot/superblock sector and is never a valid data
// pointer, the same convention pintos-style filesystems use.
type DiskSector uint32

func (d DiskSector) toDevice() blockdev.Sector { return blockdev.Sector(d) }

// onDisk is the layout of a single inode record.
type onDisk struct {
	Direct         [DirectCount]DiskSector
	Indirect       DiskSector
	DoubleIndirect DiskSector
	// ParentDirectory is the sector of the owning directory's inode (spec
	// §3), 0/unused for the root directory. "..": open the inode at this
	// sector instead of treating ".." as an ordinary directory entry
	// (spec §4.3 step 3).
	ParentDirectory DiskSector
	Length          int64 // bytes
	IsDir           bool
	Magic           uint32
}

func (o *onDisk) encode(buf []byte) {
	off := 0
	for _, d := range o.Direct {
		binary.LittleEndian.PutUint32(buf[off:], uint32(d))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(o.Indirect))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(o.DoubleIndirect))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(o.ParentDirectory))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(o.Length))
	off += 8
	if o.IsDir {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++
	binary.LittleEndian.PutUint32(buf[off:], o.Magic)
}

func decodeOnDisk(buf []byte) (*onDisk, error) {
	if len(buf) < onDiskRecordSize {
		return nil, fmt.Errorf("inode: record buffer too small: %d < %d", len(buf), onDiskRecordSize)
	}
	o := &onDisk{}
	off := 0
	for i := range o.Direct {
		o.Direct[i] = DiskSector(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	o.Indirect = DiskSector(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	o.DoubleIndirect = DiskSector(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	o.ParentDirectory = DiskSector(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	o.Length = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	o.IsDir = buf[off] != 0
	off++
	o.Magic = binary.LittleEndian.Uint32(buf[off:])
	if o.Magic != diskMagic {
		return nil, fmt.Errorf("inode: bad magic %#x, not an inode sector", o.Magic)
	}
	return o, nil
}

// indexSector is one single- or double-indirect sector: 128 4-byte pointers.
type indexSector [PointersPerIndexSector]DiskSector

func (s *indexSector) encode(buf []byte) {
	for i, p := range s {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(p))
	}
}

func decodeIndexSector(buf []byte) indexSector {
	var s indexSector
	for i := range s {
		s[i] = DiskSector(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return s
}

// bytesToSectors rounds byte length up to a whole number of sectors.
func bytesToSectors(length int64, sectorSize int) int {
	if length <= 0 {
		return 0
	}
	return int((length + int64(sectorSize) - 1) / int64(sectorSize))
}
