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
	"testing"

	"github.com/oslab/corefs/internal/blockdev"
	"github.com/oslab/corefs/internal/freemap"
	"github.com/stretchr/testify/suite"
)

const testSectorSize = 512

type InodeTest struct {
	suite.Suite
	ctx   context.Context
	dev   *blockdev.MemDevice
	free  *freemap.Map
	store *Store
}

func TestInodeSuite(t *testing.T) {
	suite.Run(t, new(InodeTest))
}

func (t *InodeTest) SetupTest() {
	t.ctx = context.Background()
	// Enough sectors for direct + one indirect block + a handful of leaves.
	t.dev = blockdev.NewMemDevice(testSectorSize, 400, blockdev.RoleFilesystem)
	t.free = freemap.New(400)
	t.free.Mark(0) // sector 0 reserved, never a valid data/index pointer
	t.store = &Store{Dev: t.dev, Free: t.free, Workers: 4}
}

func (t *InodeTest) create(isDir bool) *Inode {
	in, err := Create(t.ctx, t.store, 0, isDir, nil)
	t.Require().NoError(err)
	return in
}

func (t *InodeTest) TestWriteThenReadWithinDirectBlocksRoundTrips() {
	in := t.create(false)
	data := []byte("hello, indexed inode")

	n, err := in.WriteAt(t.ctx, data, 100)
	t.Require().NoError(err)
	t.Equal(len(data), n)

	got := make([]byte, len(data))
	n, err = in.ReadAt(t.ctx, got, 100)
	t.Require().NoError(err)
	t.Equal(len(data), n)
	t.Equal(data, got)
}

func (t *InodeTest) TestReadPastEOFReturnsShortRead() {
	in := t.create(false)
	t.Require().NoError(t.requireExtend(in, 10))

	buf := make([]byte, 100)
	n, err := in.ReadAt(t.ctx, buf, 5)
	t.Require().NoError(err)
	t.Equal(5, n)
}

func (t *InodeTest) requireExtend(in *Inode, n int64) error {
	return in.Extend(t.ctx, n)
}

func (t *InodeTest) TestWriteCrossingIntoIndirectBlockAllocatesIndirectSector() {
	in := t.create(false)
	offset := int64(DirectCount*testSectorSize + 10)
	data := []byte("past the ten direct blocks")

	_, err := in.WriteAt(t.ctx, data, offset)
	t.Require().NoError(err)

	t.NotZero(in.disk.Indirect)

	got := make([]byte, len(data))
	_, err = in.ReadAt(t.ctx, got, offset)
	t.Require().NoError(err)
	t.Equal(data, got)
}

func (t *InodeTest) TestUnwrittenRegionReadsAsZero() {
	in := t.create(false)
	t.Require().NoError(in.Extend(t.ctx, 2*testSectorSize))

	buf := make([]byte, testSectorSize)
	_, err := in.ReadAt(t.ctx, buf, 0)
	t.Require().NoError(err)
	for _, b := range buf {
		t.Zero(b)
	}
}

func (t *InodeTest) TestRemoveWhileOpenDefersSectorReclaim() {
	in := t.create(false)
	t.Require().NoError(in.Extend(t.ctx, testSectorSize))
	freeBefore := t.free.CountFree()

	in.IncOpenCount() // simulate a second open handle
	in.MarkRemoved()

	t.Require().NoError(in.DecOpenCount(t.ctx)) // first close: still one ref left
	t.Equal(freeBefore, t.free.CountFree(), "sectors must stay allocated while a handle remains open")

	t.Require().NoError(in.DecOpenCount(t.ctx)) // last close: now reclaimed
	t.Greater(t.free.CountFree(), freeBefore)
}

func (t *InodeTest) TestDestroyCallbackFiresEachTimeRefcountReturnsToZero() {
	calls := 0
	in, err := Create(t.ctx, t.store, 0, false, func() error {
		calls++
		return nil
	})
	t.Require().NoError(err)

	t.Require().NoError(in.DecOpenCount(t.ctx))
	t.Equal(1, calls, "destroy evicts the inode from the open table whenever it has no more references")

	in.IncOpenCount()
	in.MarkRemoved()
	t.Require().NoError(in.DecOpenCount(t.ctx))
	t.Equal(2, calls)
}

func (t *InodeTest) TestCreateRecordsParentSector() {
	parent, err := Create(t.ctx, t.store, 0, true, nil)
	t.Require().NoError(err)

	child, err := Create(t.ctx, t.store, parent.Sector(), false, nil)
	t.Require().NoError(err)
	t.Equal(parent.Sector(), child.ParentSector())
}

func (t *InodeTest) TestOpenNoRefDoesNotBumpRefcount() {
	in, err := Create(t.ctx, t.store, 0, false, nil)
	t.Require().NoError(err)
	sector := in.Sector()

	reopened, err := OpenNoRef(t.ctx, t.store, sector, nil)
	t.Require().NoError(err)
	t.Equal(sector, reopened.Sector())
	t.Equal(uint64(0), reopened.lookup.count)
}

func (t *InodeTest) TestDenyWriteRejectsWrites() {
	in := t.create(false)
	in.DenyWrite()
	_, err := in.WriteAt(t.ctx, []byte("x"), 0)
	t.Error(err)
	in.AllowWrite()
	_, err = in.WriteAt(t.ctx, []byte("x"), 0)
	t.NoError(err)
}
