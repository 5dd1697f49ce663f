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

// Package blockdev is the lowest layer of the filesystem: a fixed-size
// sector device, either backed by a local file or held entirely in memory
// for tests. It is the facade every higher layer (freemap, inode,
// directory, swap) reads and writes sectors through.
package blockdev

import (
	"context"
	"fmt"
)

// Role distinguishes the two device images a boot may open.
type Role int

const (
	RoleFilesystem Role = iota
	RoleSwap
)

func (r Role) String() string {
	switch r {
	case RoleFilesystem:
		return "filesystem"
	case RoleSwap:
		return "swap"
	default:
		return "unknown"
	}
}

// DeviceFault wraps an I/O error from the backing device. There is no retry
// policy below this layer. A DeviceFault is returned to the caller like any
// other error; nothing in the kernel core converts it to a panic.
type DeviceFault struct {
	Sector Sector
	Op     string
	Err    error
}

func (f *DeviceFault) Error() string {
	return fmt.Sprintf("blockdev: %s sector %d: %v", f.Op, f.Sector, f.Err)
}

func (f *DeviceFault) Unwrap() error { return f.Err }

// Sector is a zero-based sector index.
type Sector int64

// Device is a fixed-size array of fixed-size sectors.
type Device interface {
	// ReadSector reads exactly SectorSize() bytes from sector s into buf.
	ReadSector(ctx context.Context, s Sector, buf []byte) error

	// WriteSector writes exactly SectorSize() bytes from buf to sector s.
	WriteSector(ctx context.Context, s Sector, buf []byte) error

	NumSectors() Sector

	SectorSize() int

	Role() Role

	// Close releases any OS resources (file descriptors, locks) held by
	// the device.
	Close() error
}
