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

// Package directory implements the directory layer (spec §4.3): a directory
// is an ordinary inode whose content is a flat array of fixed-size entry
// records, plus a path parser and a readdir cursor handle.
package directory

import (
	"encoding/binary"

	"github.com/oslab/corefs/internal/inode"
)

const (
	MaxNameLen = 14
	// recordSize: 4-byte sector pointer + 1-byte name length + 14-byte
	// name + 1-byte in-use flag.
	recordSize = 4 + 1 + MaxNameLen + 1
)

type record struct {
	InodeSector inode.DiskSector
	Name        string
	InUse       bool
}

func (r *record) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(r.InodeSector))
	buf[4] = byte(len(r.Name))
	copy(buf[5:5+MaxNameLen], r.Name)
	if r.InUse {
		buf[5+MaxNameLen] = 1
	} else {
		buf[5+MaxNameLen] = 0
	}
}

func decodeRecord(buf []byte) record {
	nameLen := int(buf[4])
	if nameLen > MaxNameLen {
		nameLen = MaxNameLen
	}
	return record{
		InodeSector: inode.DiskSector(binary.LittleEndian.Uint32(buf[0:])),
		Name:        string(buf[5 : 5+nameLen]),
		InUse:       buf[5+MaxNameLen] != 0,
	}
}
