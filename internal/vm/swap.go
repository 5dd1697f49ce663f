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
	"context"
	"fmt"
	"sync"

	"github.com/oslab/corefs/internal/blockdev"
	"github.com/oslab/corefs/internal/freemap"
	"github.com/oslab/corefs/internal/workerpool"
)

const sectorsPerPage = PageSize / 512

// Swap is the backing store for evicted pages that are dirty or anonymous: a
// blockdev.Device carved into PageSize slots, tracked by the same
// word-based bitmap the free-sector map uses (spec §4.7).
type Swap struct {
	dev   blockdev.Device
	slots *freemap.Map
	pool  *workerpool.Pool
}

func NewSwap(dev blockdev.Device) (*Swap, error) {
	if dev.SectorSize() != 512 {
		return nil, fmt.Errorf("vm: swap device sector size must be 512, got %d", dev.SectorSize())
	}
	numSlots := int(dev.NumSectors()) / sectorsPerPage
	return &Swap{dev: dev, slots: freemap.New(numSlots)}, nil
}

// WithPool fans a page's sectorsPerPage reads/writes out across pool's
// priority lane instead of issuing them one at a time: a fault handler is
// blocked on the result, so its sectors jump the normal-lane queue. Returns
// s for chaining at construction time.
func (s *Swap) WithPool(pool *workerpool.Pool) *Swap {
	s.pool = pool
	return s
}

// WriteOut allocates a free slot and writes page into it, returning the
// slot index. Fatal (panics, per §7's "kernel panics" class) if swap is
// exhausted — the spec gives the kernel no recourse when it can't make
// room for a dirty page it's evicting.
func (s *Swap) WriteOut(ctx context.Context, page *[PageSize]byte) int {
	slot, ok := s.slots.Allocate()
	if !ok {
		panic("vm: swap exhausted while evicting a dirty page")
	}
	base := blockdev.Sector(slot * sectorsPerPage)
	s.eachSector(func(i int) error {
		return s.dev.WriteSector(ctx, base+blockdev.Sector(i), page[i*512:(i+1)*512])
	}, "write")
	return slot
}

// ReadIn loads slot back into page and frees the slot — a swapped-in page
// is always immediately re-pageable from its new frame, not re-readable
// from the old slot.
func (s *Swap) ReadIn(ctx context.Context, slot int, page *[PageSize]byte) {
	base := blockdev.Sector(slot * sectorsPerPage)
	s.eachSector(func(i int) error {
		return s.dev.ReadSector(ctx, base+blockdev.Sector(i), page[i*512:(i+1)*512])
	}, "read")
	s.slots.Release(slot)
}

// eachSector runs fn(0..sectorsPerPage) and panics with op on the first
// error. With a pool attached the calls run concurrently on its priority
// lane; otherwise they run inline, sequentially.
func (s *Swap) eachSector(fn func(i int) error, op string) {
	if s.pool == nil {
		for i := 0; i < sectorsPerPage; i++ {
			if err := fn(i); err != nil {
				panic(fmt.Sprintf("vm: swap %s failed: %v", op, err))
			}
		}
		return
	}

	var wg sync.WaitGroup
	errs := make([]error, sectorsPerPage)
	for i := 0; i < sectorsPerPage; i++ {
		i := i
		wg.Add(1)
		s.pool.SubmitPriority(func() {
			defer wg.Done()
			errs[i] = fn(i)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			panic(fmt.Sprintf("vm: swap %s failed: %v", op, err))
		}
	}
}

// Free releases a slot without reading it back, used when a process exits
// with pages still swapped out.
func (s *Swap) Free(slot int) {
	s.slots.Release(slot)
}
