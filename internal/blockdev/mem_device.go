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

package blockdev

import (
	"context"
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device used by tests that want no filesystem
// side effects.
type MemDevice struct {
	mu         sync.Mutex
	sectorSize int
	sectors    [][]byte
	role       Role
}

func NewMemDevice(sectorSize int, numSectors Sector, role Role) *MemDevice {
	sectors := make([][]byte, numSectors)
	for i := range sectors {
		sectors[i] = make([]byte, sectorSize)
	}
	return &MemDevice{sectorSize: sectorSize, sectors: sectors, role: role}
}

func (d *MemDevice) checkBounds(s Sector) error {
	if s < 0 || int(s) >= len(d.sectors) {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", s, len(d.sectors))
	}
	return nil
}

func (d *MemDevice) ReadSector(_ context.Context, s Sector, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkBounds(s); err != nil {
		return err
	}
	if len(buf) != d.sectorSize {
		return fmt.Errorf("blockdev: read buffer size %d != sector size %d", len(buf), d.sectorSize)
	}
	copy(buf, d.sectors[s])
	return nil
}

func (d *MemDevice) WriteSector(_ context.Context, s Sector, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkBounds(s); err != nil {
		return err
	}
	if len(buf) != d.sectorSize {
		return fmt.Errorf("blockdev: write buffer size %d != sector size %d", len(buf), d.sectorSize)
	}
	copy(d.sectors[s], buf)
	return nil
}

func (d *MemDevice) NumSectors() Sector { return Sector(len(d.sectors)) }
func (d *MemDevice) SectorSize() int    { return d.sectorSize }
func (d *MemDevice) Role() Role         { return d.role }
func (d *MemDevice) Close() error       { return nil }
