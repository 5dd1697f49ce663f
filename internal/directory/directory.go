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

package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/oslab/corefs/internal/inode"
)

// Dir is a directory: an ordinary inode whose content is interpreted as a
// flat array of fixed-size entry records. mu is the structural lock (spec
// §5): Add, InitDotEntries, Remove and RemoveBySector hold it while they
// scan and write records; Lookup does not take it. The lock belongs to this
// Dir value, so it serializes only callers that share the same *Dir.
type Dir struct {
	mu  sync.Mutex
	In  *inode.Inode
}

func New(in *inode.Inode) *Dir {
	return &Dir{In: in}
}

var ErrNotFound = fmt.Errorf("directory: entry not found")
var ErrExists = fmt.Errorf("directory: entry already exists")
var ErrNotEmpty = fmt.Errorf("directory: not empty")

func validName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("directory: invalid name %q", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("directory: %q is reserved", name)
	}
	return nil
}

// numRecords returns how many record-sized slots the directory's content
// currently spans, including unused (deleted) ones.
func (d *Dir) numRecords() int {
	return int(d.In.Length()) / recordSize
}

func (d *Dir) readRecord(ctx context.Context, i int) (record, error) {
	buf := make([]byte, recordSize)
	if _, err := d.In.ReadAt(ctx, buf, int64(i)*recordSize); err != nil {
		return record{}, err
	}
	return decodeRecord(buf), nil
}

func (d *Dir) writeRecord(ctx context.Context, i int, r record) error {
	buf := make([]byte, recordSize)
	r.encode(buf)
	_, err := d.In.WriteAt(ctx, buf, int64(i)*recordSize)
	return err
}

// Lookup finds an entry by name. LOCKS_EXCLUDED(d.mu) — readers don't need
// the structural lock since inode.ReadAt is independently synchronized.
func (d *Dir) Lookup(ctx context.Context, name string) (inode.DiskSector, bool, error) {
	n := d.numRecords()
	for i := 0; i < n; i++ {
		r, err := d.readRecord(ctx, i)
		if err != nil {
			return 0, false, err
		}
		if r.InUse && r.Name == name {
			return r.InodeSector, true, nil
		}
	}
	return 0, false, nil
}

// Add inserts a new entry, reusing the first free (deleted or never-used)
// slot if one exists instead of always growing the directory.
//
// LOCKS_EXCLUDED(d.mu)
func (d *Dir) Add(ctx context.Context, name string, sector inode.DiskSector) error {
	if err := validName(name); err != nil {
		return err
	}
	return d.addRaw(ctx, name, sector)
}

// InitDotEntries writes the "." and ".." records a freshly created
// directory needs, pointing at itself and at its parent respectively. The
// root directory is its own parent.
func (d *Dir) InitDotEntries(ctx context.Context, selfSector, parentSector inode.DiskSector) error {
	if err := d.addRaw(ctx, ".", selfSector); err != nil {
		return err
	}
	return d.addRaw(ctx, "..", parentSector)
}

func (d *Dir) addRaw(ctx context.Context, name string, sector inode.DiskSector) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.numRecords()
	freeSlot := -1
	for i := 0; i < n; i++ {
		r, err := d.readRecord(ctx, i)
		if err != nil {
			return err
		}
		if r.InUse && r.Name == name {
			return ErrExists
		}
		if !r.InUse && freeSlot == -1 {
			freeSlot = i
		}
	}

	slot := freeSlot
	if slot == -1 {
		slot = n
	}
	return d.writeRecord(ctx, slot, record{InodeSector: sector, Name: name, InUse: true})
}

// Remove deletes the named entry and returns the inode sector it pointed
// at so the caller can drop a reference on that inode.
//
// LOCKS_EXCLUDED(d.mu)
func (d *Dir) Remove(ctx context.Context, name string) (inode.DiskSector, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.numRecords()
	for i := 0; i < n; i++ {
		r, err := d.readRecord(ctx, i)
		if err != nil {
			return 0, err
		}
		if r.InUse && r.Name == name {
			r.InUse = false
			sector := r.InodeSector
			r.InodeSector = 0
			if err := d.writeRecord(ctx, i, r); err != nil {
				return 0, err
			}
			return sector, nil
		}
	}
	return 0, ErrNotFound
}

// RemoveBySector deletes whichever entry points at targetSector, returning
// its name. Used for the `remove(dir, ".")` special case (spec §4.4): "."
// removes the directory the handle itself refers to, but the entry being
// cleared lives in that directory's *parent*, and is found by inode sector
// rather than by name since the handle never learned its own name.
//
// LOCKS_EXCLUDED(d.mu)
func (d *Dir) RemoveBySector(ctx context.Context, targetSector inode.DiskSector) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.numRecords()
	for i := 0; i < n; i++ {
		r, err := d.readRecord(ctx, i)
		if err != nil {
			return "", err
		}
		if r.InUse && r.Name != "." && r.Name != ".." && r.InodeSector == targetSector {
			name := r.Name
			r.InUse = false
			r.InodeSector = 0
			if err := d.writeRecord(ctx, i, r); err != nil {
				return "", err
			}
			return name, nil
		}
	}
	return "", ErrNotFound
}

// IsEmpty reports whether the directory has any in-use entries besides its
// own "." and ".." records.
func (d *Dir) IsEmpty(ctx context.Context) (bool, error) {
	n := d.numRecords()
	for i := 0; i < n; i++ {
		r, err := d.readRecord(ctx, i)
		if err != nil {
			return false, err
		}
		if r.InUse && r.Name != "." && r.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// Entry is one listed directory record, returned by ReadDir.
type Entry struct {
	Name        string
	InodeSector inode.DiskSector
}

// Handle tracks a readdir cursor over a Dir: successive ReadDir calls each
// return the next in-use entry, mirroring the gcsfuse dir handle's
// entries/offset cursor pair. Rewinding (seeking to offset 0) resets it;
// any other seek is unsupported, matching spec §6.
type Handle struct {
	dir    *Dir
	cursor int // next record index to examine
}

func NewHandle(d *Dir) *Handle {
	return &Handle{dir: d}
}

// Rewind resets the cursor to the start of the directory.
func (h *Handle) Rewind() { h.cursor = 0 }

// Next returns the next in-use entry, or ok=false once the directory is
// exhausted.
func (h *Handle) Next(ctx context.Context) (entry Entry, ok bool, err error) {
	n := h.dir.numRecords()
	for h.cursor < n {
		r, err := h.dir.readRecord(ctx, h.cursor)
		h.cursor++
		if err != nil {
			return Entry{}, false, err
		}
		if r.InUse && r.Name != "." && r.Name != ".." {
			return Entry{Name: r.Name, InodeSector: r.InodeSector}, true, nil
		}
	}
	return Entry{}, false, nil
}
