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

package inode

import (
	"context"
	"fmt"
	"sync"

	"github.com/oslab/corefs/internal/blockdev"
	"github.com/oslab/corefs/internal/freemap"
	"golang.org/x/sync/errgroup"
)

// Store bundles the collaborators every Inode needs: the device its data
// and index sectors live on, and the free-sector map used to grow or shrink
// a file.
type Store struct {
	Dev     blockdev.Device
	Free    *freemap.Map
	Workers int // fan-out width for Extend's new-sector allocation; 0 means sequential
}

// Inode is the in-memory, refcounted view of one on-disk inode record.
//
// Dependencies
//
//	store — shared device/freemap, never mutated by the inode itself.
//
// Constant data
//
//	sector — the disk sector this inode's record lives in. Never changes.
//
// Mutable state
//
//	mu guards every field below it. Extend holds it across the whole
//	two-phase grow-then-publish sequence, so two concurrent
//	writers past EOF can't race on the free-sector map or double-allocate
//	the same index slot.
type Inode struct {
	store  *Store
	sector DiskSector

	mu          sync.Mutex
	disk        onDisk
	lookup      openCount
	denyWrite   int
	removed     bool

	// idxMu serializes mutation of the indirect/double-indirect index
	// blocks while Extend fans new-sector allocation out across errgroup
	// workers; mu alone doesn't help there since the workers, not the
	// Extend goroutine itself, are what touch the index blocks.
	idxMu sync.Mutex
}

// openRecord reads and decodes the inode record at sector s into a fresh
// Inode, without touching its refcount — Open and OpenNoRef differ only in
// whether they bump it afterward.
func openRecord(ctx context.Context, store *Store, s DiskSector, destroy func() error) (*Inode, error) {
	buf := make([]byte, store.Dev.SectorSize())
	if err := store.Dev.ReadSector(ctx, s.toDevice(), buf); err != nil {
		return nil, err
	}
	d, err := decodeOnDisk(buf)
	if err != nil {
		return nil, fmt.Errorf("inode: open sector %d: %w", s, err)
	}
	in := &Inode{store: store, sector: s, disk: *d}
	in.lookup.destroy = destroy
	return in, nil
}

// Open loads the inode record at sector s with one reference already
// counted for the caller. destroy is invoked when the refcount returns to
// zero after having been positive; pass nil if the inode should never be
// destroyed by refcounting alone (e.g. the root).
func Open(ctx context.Context, store *Store, s DiskSector, destroy func() error) (*Inode, error) {
	in, err := openRecord(ctx, store, s, destroy)
	if err != nil {
		return nil, err
	}
	in.lookup.Inc()
	return in, nil
}

// OpenNoRef loads the inode record at sector s without counting any
// reference for the caller. It exists for filesystem.Table's singleflight
// dedup of concurrent first-opens: one physical OpenNoRef call publishes the
// Inode, and every logical opener — the one that triggered it and every
// other caller that deduped onto it — calls IncOpenCount itself afterward,
// so the refcount always matches the number of logical opens regardless of
// how many physically raced to load the record.
func OpenNoRef(ctx context.Context, store *Store, s DiskSector, destroy func() error) (*Inode, error) {
	return openRecord(ctx, store, s, destroy)
}

// Create allocates a fresh sector for a new, empty inode record of the
// given kind, writes it out, and returns it opened with one reference.
// parent is the sector of the owning directory's inode (spec §3's
// parent_directory), 0 for the root.
func Create(ctx context.Context, store *Store, parent DiskSector, isDir bool, destroy func() error) (*Inode, error) {
	sectorIdx, ok := store.Free.Allocate()
	if !ok {
		return nil, fmt.Errorf("inode: no free sectors for a new inode")
	}
	s := DiskSector(sectorIdx)

	in := &Inode{
		store: store,
		sector: s,
		disk: onDisk{
			ParentDirectory: parent,
			IsDir:           isDir,
			Magic:           diskMagic,
		},
	}
	in.lookup.destroy = destroy
	in.lookup.Inc()

	if err := in.flushLocked(ctx); err != nil {
		store.Free.Release(sectorIdx)
		return nil, err
	}
	return in, nil
}

// Sector returns the disk sector this inode's record occupies; it is the
// identity used by the directory layer and the open-inode table.
func (in *Inode) Sector() DiskSector { return in.sector }

// ParentSector returns the sector of the owning directory's inode (spec §3's
// parent_directory), 0 for the root.
func (in *Inode) ParentSector() DiskSector {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.disk.ParentDirectory
}

func (in *Inode) IncOpenCount() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lookup.Inc()
}

// DecOpenCount drops one reference. When the count reaches zero destroy is
// invoked; if the inode had also been marked removed, its sectors are then
// freed — spec §8 scenario 2 (remove-while-open).
func (in *Inode) DecOpenCount(ctx context.Context) error {
	in.mu.Lock()
	destroyed := in.lookup.Dec(1)
	removed := in.removed
	in.mu.Unlock()

	if destroyed && removed {
		return in.freeAllSectors(ctx)
	}
	return nil
}

// MarkRemoved unlinks the inode from its directory immediately but defers
// freeing its sectors until the last open handle closes.
func (in *Inode) MarkRemoved() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.removed = true
}

func (in *Inode) IsRemoved() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.removed
}

// IsDir reports the inode's kind, fixed at creation time.
func (in *Inode) IsDir() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.disk.IsDir
}

func (in *Inode) Length() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.disk.Length
}

// DenyWrite increments the deny-write counter used while an executable
// image is running (spec §5, deny_write/allow_write). Writes fail while the
// counter is positive.
func (in *Inode) DenyWrite() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.denyWrite++
}

func (in *Inode) AllowWrite() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.denyWrite == 0 {
		panic("inode: AllowWrite without matching DenyWrite")
	}
	in.denyWrite--
}

func (in *Inode) writeDenied() bool {
	return in.denyWrite > 0
}

func (in *Inode) flushLocked(ctx context.Context) error {
	buf := make([]byte, in.store.Dev.SectorSize())
	in.disk.encode(buf)
	return in.store.Dev.WriteSector(ctx, in.sector.toDevice(), buf)
}

// checkInvariants runs at the end of every Extend and panics if the length
// exceeds what the index can address. It does not consult any debug setting.
func (in *Inode) checkInvariants() {
	if bytesToSectors(in.disk.Length, in.store.Dev.SectorSize()) > MaxFileSectors {
		panic("inode: length exceeds indexable capacity")
	}
}

func indirectFanout(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// readIndexSector loads a single- or double-indirect block. A zero sector
// number means "never allocated"; it decodes to an all-zero indexSector
// without touching the device.
func (in *Inode) readIndexSector(ctx context.Context, s DiskSector) (indexSector, error) {
	if s == 0 {
		return indexSector{}, nil
	}
	buf := make([]byte, in.store.Dev.SectorSize())
	if err := in.store.Dev.ReadSector(ctx, s.toDevice(), buf); err != nil {
		return indexSector{}, err
	}
	return decodeIndexSector(buf), nil
}

func (in *Inode) writeIndexSector(ctx context.Context, s DiskSector, idx indexSector) error {
	buf := make([]byte, in.store.Dev.SectorSize())
	idx.encode(buf)
	return in.store.Dev.WriteSector(ctx, s.toDevice(), buf)
}

// byteToSectorLocked maps a byte offset within the file to the disk sector
// that holds it, reading up to two indirect sectors from disk per call (spec
// §4.2). The indirect sectors are read one after the other on the calling
// goroutine.
//
// EXCLUSIVE_LOCKS_REQUIRED(in.mu)
func (in *Inode) byteToSectorLocked(ctx context.Context, offset int64) (DiskSector, error) {
	sectorIdx := int(offset / int64(in.store.Dev.SectorSize()))

	if sectorIdx < DirectCount {
		return in.disk.Direct[sectorIdx], nil
	}
	sectorIdx -= DirectCount

	if sectorIdx < PointersPerIndexSector {
		idx, err := in.readIndexSector(ctx, in.disk.Indirect)
		if err != nil {
			return 0, err
		}
		return idx[sectorIdx], nil
	}
	sectorIdx -= PointersPerIndexSector

	if sectorIdx >= PointersPerIndexSector*PointersPerIndexSector {
		return 0, fmt.Errorf("inode: offset %d exceeds max file size", offset)
	}

	outer, err := in.readIndexSector(ctx, in.disk.DoubleIndirect)
	if err != nil {
		return 0, err
	}
	outerIdx := sectorIdx / PointersPerIndexSector
	innerIdx := sectorIdx % PointersPerIndexSector

	inner, err := in.readIndexSector(ctx, outer[outerIdx])
	if err != nil {
		return 0, err
	}
	return inner[innerIdx], nil
}

// allocateIndexPathLocked makes sure the direct/indirect/double-indirect
// pointers needed to address sector index `want` exist, allocating and
// zeroing new index sectors as needed. It never allocates the data sector
// itself — callers do that separately and then plumb the result back in
// via setSector.
//
// EXCLUSIVE_LOCKS_REQUIRED(in.mu)
func (in *Inode) allocateIndexPathLocked(ctx context.Context, sectorIdx int) (setSector func(DiskSector) error, err error) {
	if sectorIdx < DirectCount {
		idx := sectorIdx
		return func(d DiskSector) error {
			in.disk.Direct[idx] = d
			return nil
		}, nil
	}
	sectorIdx -= DirectCount

	if sectorIdx < PointersPerIndexSector {
		if in.disk.Indirect == 0 {
			n, ok := in.store.Free.Allocate()
			if !ok {
				return nil, fmt.Errorf("inode: no free sectors for indirect block")
			}
			in.disk.Indirect = DiskSector(n)
			if err := in.writeIndexSector(ctx, in.disk.Indirect, indexSector{}); err != nil {
				return nil, err
			}
		}
		indirectSector := in.disk.Indirect
		slot := sectorIdx
		return func(d DiskSector) error {
			idx, err := in.readIndexSector(ctx, indirectSector)
			if err != nil {
				return err
			}
			idx[slot] = d
			return in.writeIndexSector(ctx, indirectSector, idx)
		}, nil
	}
	sectorIdx -= PointersPerIndexSector

	if sectorIdx >= PointersPerIndexSector*PointersPerIndexSector {
		return nil, fmt.Errorf("inode: sector index exceeds max file size")
	}

	if in.disk.DoubleIndirect == 0 {
		n, ok := in.store.Free.Allocate()
		if !ok {
			return nil, fmt.Errorf("inode: no free sectors for double-indirect block")
		}
		in.disk.DoubleIndirect = DiskSector(n)
		if err := in.writeIndexSector(ctx, in.disk.DoubleIndirect, indexSector{}); err != nil {
			return nil, err
		}
	}
	outerIdx := sectorIdx / PointersPerIndexSector
	innerIdx := sectorIdx % PointersPerIndexSector

	outer, err := in.readIndexSector(ctx, in.disk.DoubleIndirect)
	if err != nil {
		return nil, err
	}
	if outer[outerIdx] == 0 {
		n, ok := in.store.Free.Allocate()
		if !ok {
			return nil, fmt.Errorf("inode: no free sectors for double-indirect leaf block")
		}
		outer[outerIdx] = DiskSector(n)
		if err := in.writeIndexSector(ctx, outer[outerIdx], indexSector{}); err != nil {
			return nil, err
		}
		if err := in.writeIndexSector(ctx, in.disk.DoubleIndirect, outer); err != nil {
			return nil, err
		}
	}
	leafSector := outer[outerIdx]

	return func(d DiskSector) error {
		leaf, err := in.readIndexSector(ctx, leafSector)
		if err != nil {
			return err
		}
		leaf[innerIdx] = d
		return in.writeIndexSector(ctx, leafSector, leaf)
	}, nil
}

// Extend grows the file to newLength bytes, zero-filling the new region.
// New sectors are allocated and zeroed *before* the on-disk length is
// published, so a crash mid-growth leaves a shorter file rather than a
// longer one pointing at garbage (spec §4.2 "Growth atomicity").
func (in *Inode) Extend(ctx context.Context, newLength int64) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if newLength <= in.disk.Length {
		return nil
	}

	oldSectors := bytesToSectors(in.disk.Length, in.store.Dev.SectorSize())
	newSectors := bytesToSectors(newLength, in.store.Dev.SectorSize())
	if newSectors > MaxFileSectors {
		return fmt.Errorf("inode: extend to %d bytes exceeds max file size", newLength)
	}

	zero := make([]byte, in.store.Dev.SectorSize())
	var g errgroup.Group
	g.SetLimit(indirectFanout(in.store.Workers))
	for i := oldSectors; i < newSectors; i++ {
		i := i
		g.Go(func() error {
			n, ok := in.store.Free.Allocate()
			if !ok {
				return fmt.Errorf("inode: out of sectors while extending")
			}
			if err := in.store.Dev.WriteSector(ctx, DiskSector(n).toDevice(), zero); err != nil {
				in.store.Free.Release(n)
				return err
			}

			in.idxMu.Lock()
			defer in.idxMu.Unlock()
			setSector, err := in.allocateIndexPathLocked(ctx, i)
			if err != nil {
				in.store.Free.Release(n)
				return err
			}
			return setSector(DiskSector(n))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	in.disk.Length = newLength
	if err := in.flushLocked(ctx); err != nil {
		return err
	}
	in.checkInvariants()
	return nil
}

// ReadAt reads len(p) bytes starting at offset, short-reading at EOF the
// way a file read syscall does rather than returning io.EOF.
func (in *Inode) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if offset >= in.disk.Length {
		return 0, nil
	}
	end := offset + int64(len(p))
	if end > in.disk.Length {
		end = in.disk.Length
		p = p[:end-offset]
	}

	sectorSize := int64(in.store.Dev.SectorSize())
	n := 0
	buf := make([]byte, sectorSize)
	for n < len(p) {
		cur := offset + int64(n)
		sectorIdx, err := in.byteToSectorLocked(ctx, cur)
		if err != nil {
			return n, err
		}
		within := cur % sectorSize
		want := int(sectorSize - within)
		if want > len(p)-n {
			want = len(p) - n
		}
		if sectorIdx == 0 {
			for i := 0; i < want; i++ {
				p[n+i] = 0
			}
		} else {
			if err := in.store.Dev.ReadSector(ctx, sectorIdx.toDevice(), buf); err != nil {
				return n, err
			}
			copy(p[n:n+want], buf[within:within+int64(want)])
		}
		n += want
	}
	return n, nil
}

// WriteAt writes len(p) bytes at offset, extending the file first if the
// write starts or ends past the current length (spec §4.2 write-extension).
func (in *Inode) WriteAt(ctx context.Context, p []byte, offset int64) (int, error) {
	in.mu.Lock()
	denied := in.writeDenied()
	in.mu.Unlock()
	if denied {
		return 0, fmt.Errorf("inode: write denied while executable is running")
	}

	end := offset + int64(len(p))
	if end > in.Length() {
		if err := in.Extend(ctx, end); err != nil {
			return 0, err
		}
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	sectorSize := int64(in.store.Dev.SectorSize())
	n := 0
	buf := make([]byte, sectorSize)
	for n < len(p) {
		cur := offset + int64(n)
		sectorIdx, err := in.byteToSectorLocked(ctx, cur)
		if err != nil {
			return n, err
		}
		within := cur % sectorSize
		want := int(sectorSize - within)
		if want > len(p)-n {
			want = len(p) - n
		}

		if within != 0 || want != int(sectorSize) {
			if err := in.store.Dev.ReadSector(ctx, sectorIdx.toDevice(), buf); err != nil {
				return n, err
			}
		}
		copy(buf[within:within+int64(want)], p[n:n+want])
		if err := in.store.Dev.WriteSector(ctx, sectorIdx.toDevice(), buf); err != nil {
			return n, err
		}
		n += want
	}
	return n, nil
}

// freeAllSectors releases every sector this inode ever allocated: its
// direct blocks, its indirect/double-indirect index blocks, and finally its
// own record sector.
func (in *Inode) freeAllSectors(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, d := range in.disk.Direct {
		if d != 0 {
			in.store.Free.Release(int(d))
		}
	}
	if in.disk.Indirect != 0 {
		idx, err := in.readIndexSector(ctx, in.disk.Indirect)
		if err != nil {
			return err
		}
		for _, d := range idx {
			if d != 0 {
				in.store.Free.Release(int(d))
			}
		}
		in.store.Free.Release(int(in.disk.Indirect))
	}
	if in.disk.DoubleIndirect != 0 {
		outer, err := in.readIndexSector(ctx, in.disk.DoubleIndirect)
		if err != nil {
			return err
		}
		for _, leafSector := range outer {
			if leafSector == 0 {
				continue
			}
			leaf, err := in.readIndexSector(ctx, leafSector)
			if err != nil {
				return err
			}
			for _, d := range leaf {
				if d != 0 {
					in.store.Free.Release(int(d))
				}
			}
			in.store.Free.Release(int(leafSector))
		}
		in.store.Free.Release(int(in.disk.DoubleIndirect))
	}
	in.store.Free.Release(int(in.sector))
	return nil
}
