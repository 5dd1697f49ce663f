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

package vm

import (
	"fmt"
	"sync"
)

// Frame is one physical-memory-sized slot. Owner/OwnerPage identify which
// process's SPT entry currently occupies it, so the evictor can update
// that entry in place.
type Frame struct {
	Data     [PageSize]byte
	Occupied bool
	Accessed bool
	Dirty    bool

	Owner     *SPT
	OwnerPage VPage
}

// FrameTable is the shared pool of physical frames, evicted with the clock
// (second-chance) algorithm: the hand sweeps frames in a fixed ring,
// clearing the accessed bit on any frame it passes that still has it set,
// and evicting the first frame whose accessed bit is already clear. The
// hand's position persists across calls so repeated eviction under
// pressure doesn't always restart from frame 0 (spec §4.5 "clock-hand
// persistence").
type FrameTable struct {
	mu     sync.Mutex
	frames []Frame
	hand   int
}

func NewFrameTable(numFrames int) *FrameTable {
	return &FrameTable{frames: make([]Frame, numFrames)}
}

func (ft *FrameTable) NumFrames() int { return len(ft.frames) }

// Allocate returns the index of a free frame, or -1 if none exist — the
// caller must then evict a victim (Resolver.evictOne) to free one.
func (ft *FrameTable) Allocate(owner *SPT, page VPage) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i := range ft.frames {
		if !ft.frames[i].Occupied {
			ft.frames[i].Occupied = true
			ft.frames[i].Accessed = true
			ft.frames[i].Dirty = false
			ft.frames[i].Owner = owner
			ft.frames[i].OwnerPage = page
			return i
		}
	}
	return -1
}

// MarkAccessed sets the accessed bit on frame i, simulating the hardware
// reference bit a real MMU would set.
func (ft *FrameTable) MarkAccessed(i int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.frames[i].Accessed = true
}

// MarkDirty sets the dirty bit on frame i.
func (ft *FrameTable) MarkDirty(i int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.frames[i].Dirty = true
}

// PickVictim runs the clock hand forward until it finds a frame with a
// clear accessed bit, clearing the accessed bit of every occupied frame it
// passes over along the way, and returns that frame's index. The caller is
// responsible for saving the victim's contents (to swap if it is dirty or
// anonymous; a clean file-backed page is simply dropped) before reusing
// the frame.
func (ft *FrameTable) PickVictim() (int, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	n := len(ft.frames)
	if n == 0 {
		return 0, fmt.Errorf("vm: frame table has zero frames")
	}

	for scanned := 0; scanned < 2*n; scanned++ {
		i := ft.hand
		ft.hand = (ft.hand + 1) % n

		f := &ft.frames[i]
		if !f.Occupied {
			continue
		}
		if f.Accessed {
			f.Accessed = false
			continue
		}
		return i, nil
	}
	return 0, fmt.Errorf("vm: no evictable frame found (all pinned or accessed)")
}

// Evacuate clears the occupancy of a frame after its contents have been
// written out, so Allocate can reuse it.
func (ft *FrameTable) Evacuate(i int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.frames[i] = Frame{}
}

func (ft *FrameTable) Frame(i int) *Frame {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return &ft.frames[i]
}
