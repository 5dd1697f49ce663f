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

// Package freemap implements the free-sector bitmap (spec §4.1): one bit per
// sector on the device, packed into 64-bit words, persisted on the device
// itself starting at a fixed sector.
//
// No library in the retrieval pack offers a bitset/bitmap abstraction, so
// this is built on math/bits directly rather than an ecosystem dependency —
// see DESIGN.md for the standard-library justification.
package freemap

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"github.com/oslab/corefs/internal/blockdev"
)

// Map is a word-based free-sector bitmap guarded by a single mutex. Bit i
// set means sector i is in use.
type Map struct {
	mu    sync.Mutex
	words []uint64
	total int
	dev   blockdev.Device
	base  blockdev.Sector // first sector the bitmap image occupies on dev
}

// New builds a Map covering `total` sectors, all initially free.
func New(total int) *Map {
	return &Map{
		words: make([]uint64, (total+63)/64),
		total: total,
	}
}

// Load reads an existing bitmap image of `total` bits from dev starting at
// sector base.
func Load(ctx context.Context, dev blockdev.Device, base blockdev.Sector, total int) (*Map, error) {
	m := New(total)
	m.dev = dev
	m.base = base

	bytesNeeded := len(m.words) * 8
	sectorsNeeded := (bytesNeeded + dev.SectorSize() - 1) / dev.SectorSize()
	raw := make([]byte, sectorsNeeded*dev.SectorSize())
	buf := make([]byte, dev.SectorSize())
	for i := 0; i < sectorsNeeded; i++ {
		if err := dev.ReadSector(ctx, base+blockdev.Sector(i), buf); err != nil {
			return nil, err
		}
		copy(raw[i*dev.SectorSize():], buf)
	}
	for i := range m.words {
		off := i * 8
		var w uint64
		for b := 0; b < 8; b++ {
			w |= uint64(raw[off+b]) << (8 * b)
		}
		m.words[i] = w
	}
	return m, nil
}

// Persist writes the bitmap back to the device at its load-time location.
func (m *Map) Persist(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return fmt.Errorf("freemap: not bound to a device")
	}

	raw := make([]byte, len(m.words)*8)
	for i, w := range m.words {
		off := i * 8
		for b := 0; b < 8; b++ {
			raw[off+b] = byte(w >> (8 * b))
		}
	}

	sectorSize := m.dev.SectorSize()
	sectorsNeeded := (len(raw) + sectorSize - 1) / sectorSize
	for i := 0; i < sectorsNeeded; i++ {
		buf := make([]byte, sectorSize)
		start := i * sectorSize
		end := start + sectorSize
		if end > len(raw) {
			end = len(raw)
		}
		copy(buf, raw[start:end])
		if err := m.dev.WriteSector(ctx, m.base+blockdev.Sector(i), buf); err != nil {
			return err
		}
	}
	return nil
}

func (m *Map) testBit(i int) bool {
	return m.words[i/64]&(1<<(uint(i)%64)) != 0
}

func (m *Map) setBit(i int) {
	m.words[i/64] |= 1 << (uint(i) % 64)
}

func (m *Map) clearBit(i int) {
	m.words[i/64] &^= 1 << (uint(i) % 64)
}

// Allocate finds and marks in-use the lowest-numbered free sector, returning
// its index, or ok=false if the device is full.
func (m *Map) Allocate() (sector int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for wi, w := range m.words {
		if w == ^uint64(0) {
			continue
		}
		// First zero bit: complement and find the lowest set bit.
		bit := bits.TrailingZeros64(^w)
		idx := wi*64 + bit
		if idx >= m.total {
			return 0, false
		}
		m.setBit(idx)
		return idx, true
	}
	return 0, false
}

// Release marks sector i free again. Releasing an already-free sector is a
// caller bug and panics, the same way double-freeing a page would corrupt
// the filesystem silently if it didn't.
func (m *Map) Release(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= m.total {
		panic(fmt.Sprintf("freemap: Release out of range: %d", i))
	}
	if !m.testBit(i) {
		panic(fmt.Sprintf("freemap: double free of sector %d", i))
	}
	m.clearBit(i)
}

// Mark forces sector i in-use without going through Allocate. Format uses
// it to reserve the boot sector (sector 0); the root directory's sector is
// taken through Allocate.
func (m *Map) Mark(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBit(i)
}

// CountFree returns the number of free sectors.
func (m *Map) CountFree() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	free := 0
	for i := 0; i < m.total; i++ {
		if !m.testBit(i) {
			free++
		}
	}
	return free
}
