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
	"sort"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/oslab/corefs/internal/blockdev"
	"github.com/oslab/corefs/internal/directory"
	"github.com/oslab/corefs/internal/freemap"
	"github.com/oslab/corefs/internal/inode"
	"github.com/stretchr/testify/suite"
)

type FSTest struct {
	suite.Suite
	ctx context.Context
	fs  *FS
}

func TestFSSuite(t *testing.T) {
	suite.Run(t, new(FSTest))
}

func (t *FSTest) SetupTest() {
	t.ctx = context.Background()
	dev := blockdev.NewMemDevice(512, 500, blockdev.RoleFilesystem)
	store := &inode.Store{Dev: dev, Free: freemap.New(500), Workers: 2}

	fs, err := Format(t.ctx, store)
	t.Require().NoError(err)
	t.fs = fs
}

func (t *FSTest) TestCreateThenOpenRoundTrips() {
	in, err := t.fs.Create(t.ctx, t.fs.Root, "/hello.txt")
	t.Require().NoError(err)

	_, err = in.WriteAt(t.ctx, []byte("hi"), 0)
	t.Require().NoError(err)

	opened, release, err := t.fs.Open(t.ctx, t.fs.Root, "/hello.txt")
	t.Require().NoError(err)
	defer release()

	buf := make([]byte, 2)
	_, err = opened.ReadAt(t.ctx, buf, 0)
	t.Require().NoError(err)
	t.Equal("hi", string(buf))
}

func (t *FSTest) TestCreateDuplicateNameFails() {
	_, err := t.fs.Create(t.ctx, t.fs.Root, "/a")
	t.Require().NoError(err)
	_, err = t.fs.Create(t.ctx, t.fs.Root, "/a")
	t.ErrorIs(err, directory.ErrExists)
}

func (t *FSTest) TestMkdirThenCreateInsideSubdir() {
	t.Require().NoError(t.fs.Mkdir(t.ctx, t.fs.Root, "/sub"))

	sub, err := t.fs.ResolveSector(t.ctx, t.fs.Root, "/sub")
	t.Require().NoError(err)

	_, err = t.fs.Create(t.ctx, sub, "/sub/inner.txt")
	t.Require().NoError(err)

	_, err = t.fs.ResolveSector(t.ctx, t.fs.Root, "/sub/inner.txt")
	t.Require().NoError(err)
}

func (t *FSTest) TestRemoveNonEmptyDirectoryFails() {
	t.Require().NoError(t.fs.Mkdir(t.ctx, t.fs.Root, "/sub"))
	sub, err := t.fs.ResolveSector(t.ctx, t.fs.Root, "/sub")
	t.Require().NoError(err)
	_, err = t.fs.Create(t.ctx, sub, "/sub/inner.txt")
	t.Require().NoError(err)

	err = t.fs.Remove(t.ctx, t.fs.Root, "/sub")
	t.ErrorIs(err, directory.ErrNotEmpty)
}

func (t *FSTest) TestRemoveThenResolveFails() {
	_, err := t.fs.Create(t.ctx, t.fs.Root, "/a")
	t.Require().NoError(err)

	t.Require().NoError(t.fs.Remove(t.ctx, t.fs.Root, "/a"))

	_, err = t.fs.ResolveSector(t.ctx, t.fs.Root, "/a")
	t.ErrorIs(err, directory.ErrNotFound)
}

func (t *FSTest) TestDotDotResolvesViaParentDirectoryField() {
	t.Require().NoError(t.fs.Mkdir(t.ctx, t.fs.Root, "/sub"))
	sub, err := t.fs.ResolveSector(t.ctx, t.fs.Root, "/sub")
	t.Require().NoError(err)

	_, err = t.fs.Create(t.ctx, sub, "/sub/inner.txt")
	t.Require().NoError(err)

	backToRoot, err := t.fs.ResolveSector(t.ctx, sub, "../sub/inner.txt")
	t.Require().NoError(err)

	direct, err := t.fs.ResolveSector(t.ctx, sub, "inner.txt")
	t.Require().NoError(err)
	t.Equal(direct, backToRoot)
}

func (t *FSTest) TestRemoveDotRemovesViaParentDirectoryField() {
	t.Require().NoError(t.fs.Mkdir(t.ctx, t.fs.Root, "/sub"))
	sub, err := t.fs.ResolveSector(t.ctx, t.fs.Root, "/sub")
	t.Require().NoError(err)

	t.Require().NoError(t.fs.Remove(t.ctx, sub, "."))

	_, err = t.fs.ResolveSector(t.ctx, t.fs.Root, "/sub")
	t.ErrorIs(err, directory.ErrNotFound)
}

func (t *FSTest) TestReadDirListsCreatedEntriesNotDotEntries() {
	_, err := t.fs.Create(t.ctx, t.fs.Root, "/a")
	t.Require().NoError(err)
	_, err = t.fs.Create(t.ctx, t.fs.Root, "/b")
	t.Require().NoError(err)

	h, release, err := t.fs.ReadDir(t.ctx, t.fs.Root)
	t.Require().NoError(err)
	defer release()

	var names []string
	for {
		e, ok, err := h.Next(t.ctx)
		t.Require().NoError(err)
		if !ok {
			break
		}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	if diff := pretty.Compare([]string{"a", "b"}, names); diff != "" {
		t.Failf("readdir entries mismatch", "(-want +got)\n%s", diff)
	}
}
