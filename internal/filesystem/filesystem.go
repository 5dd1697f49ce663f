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

package filesystem

import (
	"context"
	"fmt"

	"github.com/oslab/corefs/internal/directory"
	"github.com/oslab/corefs/internal/inode"
)

// FS is the mounted filesystem: a Store to read/write sectors through, the
// open-inode table every lookup goes through, and the root directory's
// sector (fixed at format time).
type FS struct {
	Store *inode.Store
	Table *Table
	Root  inode.DiskSector
}

// rootBootSector is reserved for a boot block the way sector 0 is reserved
// on a typical disk image; no inode is ever allocated there.
const rootBootSector = 0

// Format lays down a fresh filesystem on store's device: it reserves the
// boot sector, creates the root directory inode, and gives it "." and ".."
// entries pointing at itself (spec §4.3: the root is its own parent).
func Format(ctx context.Context, store *inode.Store) (*FS, error) {
	store.Free.Mark(rootBootSector)

	table := NewTable(store)
	root, err := inode.Create(ctx, store, 0 /* parent: unused for root */, true /* isDir */, nil)
	if err != nil {
		return nil, fmt.Errorf("filesystem: format: creating root inode: %w", err)
	}
	table.Put(root)

	d := directory.New(root)
	if err := d.InitDotEntries(ctx, root.Sector(), root.Sector()); err != nil {
		return nil, fmt.Errorf("filesystem: format: initializing root directory: %w", err)
	}

	return &FS{Store: store, Table: table, Root: root.Sector()}, nil
}

// Mount reattaches to an already-formatted device, given the sector the
// root directory's inode record lives at (always rootBootSector+1 as
// Format leaves it, but callers that persist the layout elsewhere can pass
// any sector).
func Mount(store *inode.Store, root inode.DiskSector) *FS {
	return &FS{Store: store, Table: NewTable(store), Root: root}
}

// resolveParent walks path down to its last component, returning the
// directory it lives in (opened and released by the caller) and its name.
func (fs *FS) resolveParent(ctx context.Context, cwd inode.DiskSector, path string) (*directory.Dir, func(), string, error) {
	parentSector, name, err := directory.Resolve(ctx, fs.Table, fs.Root, cwd, path)
	if err != nil {
		return nil, nil, "", err
	}
	d, release, err := fs.Table.OpenDir(ctx, parentSector)
	if err != nil {
		return nil, nil, "", err
	}
	return d, release, name, nil
}

// Create makes a new, empty regular file at path and returns it opened with
// one reference. It fails with directory.ErrExists if the name is already
// in use in the parent directory.
func (fs *FS) Create(ctx context.Context, cwd inode.DiskSector, path string) (*inode.Inode, error) {
	parent, release, name, err := fs.resolveParent(ctx, cwd, path)
	if err != nil {
		return nil, err
	}
	defer release()

	if name == "" {
		return nil, fmt.Errorf("filesystem: create: %q is not a valid file name", path)
	}
	if _, ok, err := parent.Lookup(ctx, name); err != nil {
		return nil, err
	} else if ok {
		return nil, directory.ErrExists
	}

	in, err := inode.Create(ctx, fs.Store, parent.In.Sector(), false /* isDir */, nil)
	if err != nil {
		return nil, err
	}
	if err := parent.Add(ctx, name, in.Sector()); err != nil {
		return nil, err
	}
	fs.Table.Put(in)
	return in, nil
}

// Mkdir creates a new, empty subdirectory at path.
func (fs *FS) Mkdir(ctx context.Context, cwd inode.DiskSector, path string) error {
	parent, release, name, err := fs.resolveParent(ctx, cwd, path)
	if err != nil {
		return err
	}
	defer release()

	if name == "" {
		return fmt.Errorf("filesystem: mkdir: %q is not a valid directory name", path)
	}
	if _, ok, err := parent.Lookup(ctx, name); err != nil {
		return err
	} else if ok {
		return directory.ErrExists
	}

	in, err := inode.Create(ctx, fs.Store, parent.In.Sector(), true /* isDir */, nil)
	if err != nil {
		return err
	}
	if err := parent.Add(ctx, name, in.Sector()); err != nil {
		return err
	}

	d := directory.New(in)
	if err := d.InitDotEntries(ctx, in.Sector(), parent.In.Sector()); err != nil {
		return err
	}
	fs.Table.Put(in)
	return nil
}

// Open resolves path to its inode and returns it opened with one reference.
func (fs *FS) Open(ctx context.Context, cwd inode.DiskSector, path string) (*inode.Inode, func(), error) {
	sector, err := fs.ResolveSector(ctx, cwd, path)
	if err != nil {
		return nil, nil, err
	}
	in, release, err := fs.Table.Get(ctx, sector)
	if err != nil {
		return nil, nil, err
	}
	return in, release, nil
}

// ResolveSector resolves path (absolute or relative to cwd) to the disk
// sector of the inode it names, without opening it.
func (fs *FS) ResolveSector(ctx context.Context, cwd inode.DiskSector, path string) (inode.DiskSector, error) {
	parentSector, name, err := directory.Resolve(ctx, fs.Table, fs.Root, cwd, path)
	if err != nil {
		return 0, err
	}
	if name == "" {
		return parentSector, nil
	}

	d, release, err := fs.Table.OpenDir(ctx, parentSector)
	if err != nil {
		return 0, err
	}
	defer release()

	sector, ok, err := d.Lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, directory.ErrNotFound
	}
	return sector, nil
}

// Remove unlinks path from its parent directory. For a directory target it
// refuses unless the directory is empty (spec §4.3); the underlying inode's
// sectors aren't reclaimed until every open handle to it closes (spec §8
// scenario 2), mirrored by inode.MarkRemoved deferring to DecOpenCount.
func (fs *FS) Remove(ctx context.Context, cwd inode.DiskSector, path string) error {
	parent, release, name, err := fs.resolveParent(ctx, cwd, path)
	if err != nil {
		return err
	}
	defer release()

	if name == "" {
		return fmt.Errorf("filesystem: remove: cannot remove the root directory")
	}

	// name == "." is special-cased (spec §4.4): it removes the directory
	// the handle itself refers to (here, `parent`, since Resolve leaves a
	// bare "." as its own parentSector) rather than an entry named "."
	// within it. The entry being cleared lives one level up, in that
	// directory's own parent, found via the inode's parent_directory
	// field (spec §3) rather than a ".." directory-entry lookup.
	if name == "." {
		target := parent.In
		grandparentSector := target.ParentSector()
		if grandparentSector == 0 {
			return fmt.Errorf("filesystem: remove: cannot remove the root directory")
		}
		grandparent, releaseGP, err := fs.Table.OpenDir(ctx, grandparentSector)
		if err != nil {
			return err
		}
		defer releaseGP()

		if target.IsDir() {
			empty, err := parent.IsEmpty(ctx)
			if err != nil {
				return err
			}
			if !empty {
				return directory.ErrNotEmpty
			}
		}
		if _, err := grandparent.RemoveBySector(ctx, target.Sector()); err != nil {
			return err
		}
		target.MarkRemoved()
		return nil
	}

	sector, ok, err := parent.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return directory.ErrNotFound
	}

	in, releaseIn, err := fs.Table.Get(ctx, sector)
	if err != nil {
		return err
	}
	defer releaseIn()

	if in.IsDir() {
		d := directory.New(in)
		empty, err := d.IsEmpty(ctx)
		if err != nil {
			return err
		}
		if !empty {
			return directory.ErrNotEmpty
		}
	}

	if _, err := parent.Remove(ctx, name); err != nil {
		return err
	}
	in.MarkRemoved()
	return nil
}

// ReadDir returns a cursor over dirSector's entries, skipping "." and "..".
func (fs *FS) ReadDir(ctx context.Context, dirSector inode.DiskSector) (*directory.Handle, func(), error) {
	d, release, err := fs.Table.OpenDir(ctx, dirSector)
	if err != nil {
		return nil, nil, err
	}
	return directory.NewHandle(d), release, nil
}
