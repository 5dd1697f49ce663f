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
	"strings"

	"github.com/oslab/corefs/internal/inode"
)

// Opener opens the Dir rooted at a given inode sector, resolving the
// cyclic inode<->directory reference through whatever cache the caller
// keeps (filesystem.Table, the open-inode table in internal/filesystem). It returns
// ErrNotADirectory if sector does not name a directory inode.
type Opener interface {
	OpenDir(ctx context.Context, sector inode.DiskSector) (*Dir, func(), error)
}

var ErrNotADirectory = fmt.Errorf("directory: not a directory")

// Split breaks a path into its components, dropping empty segments
// produced by repeated slashes.
func Split(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Resolve walks every component of path but the last, starting from root
// (if path is absolute) or cwd (otherwise), skipping "." and following ".."
// through each directory's recorded parent sector, and returns the sector of the directory that contains the
// final component together with the final component's own name. The
// caller (internal/filesystem) looks the final name up itself and decides
// what to do if it's absent (create) or present (open/error).
//
// A bare "/" or empty path has no final component; finalName is "" and
// parentSector is root itself.
func Resolve(ctx context.Context, o Opener, root, cwd inode.DiskSector, path string) (parentSector inode.DiskSector, finalName string, err error) {
	cur := cwd
	if strings.HasPrefix(path, "/") {
		cur = root
	}

	parts := Split(path)
	if len(parts) == 0 {
		return root, "", nil
	}

	for _, name := range parts[:len(parts)-1] {
		if name == "." {
			continue
		}
		if name == ".." {
			// ".." opens the parent via the inode's parent_directory
			// field, not an ordinary directory-entry lookup (spec §4.3
			// step 3). A parent sector of 0 means "unused" (the root):
			// root is its own parent, so cur is left unchanged.
			d, release, err := o.OpenDir(ctx, cur)
			if err != nil {
				return 0, "", fmt.Errorf("directory: resolve %q: %w", path, err)
			}
			parent := d.In.ParentSector()
			release()
			if parent != 0 {
				cur = parent
			}
			continue
		}

		d, release, err := o.OpenDir(ctx, cur)
		if err != nil {
			return 0, "", fmt.Errorf("directory: resolve %q: %w", path, err)
		}
		sector, ok, err := d.Lookup(ctx, name)
		release()
		if err != nil {
			return 0, "", err
		}
		if !ok {
			return 0, "", fmt.Errorf("directory: resolve %q: %w", path, ErrNotFound)
		}
		cur = sector
	}

	return cur, parts[len(parts)-1], nil
}
