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

package freemap

import (
	"context"
	"testing"

	"github.com/oslab/corefs/internal/blockdev"
	"github.com/stretchr/testify/suite"
)

type MapTest struct {
	suite.Suite
	m *Map
}

func TestMapSuite(t *testing.T) {
	suite.Run(t, new(MapTest))
}

func (t *MapTest) SetupTest() {
	t.m = New(130) // spans two words plus change
}

func (t *MapTest) TestAllocateReturnsLowestFreeSector() {
	for i := 0; i < 130; i++ {
		idx, ok := t.m.Allocate()
		t.Require().True(ok)
		t.Equal(i, idx)
	}
	_, ok := t.m.Allocate()
	t.False(ok, "device should report full once every sector is allocated")
}

func (t *MapTest) TestReleaseMakesSectorAllocatableAgain() {
	idx, _ := t.m.Allocate()
	t.m.Release(idx)
	again, ok := t.m.Allocate()
	t.True(ok)
	t.Equal(idx, again)
}

func (t *MapTest) TestDoubleReleasePanics() {
	idx, _ := t.m.Allocate()
	t.m.Release(idx)
	t.Panics(func() { t.m.Release(idx) })
}

func (t *MapTest) TestCountFreeTracksAllocations() {
	t.Equal(130, t.m.CountFree())
	t.m.Allocate()
	t.Equal(129, t.m.CountFree())
}

func (t *MapTest) TestPersistAndLoadRoundTrip() {
	dev := blockdev.NewMemDevice(512, 8, blockdev.RoleFilesystem)
	m := New(130)
	m.dev = dev
	m.base = 0
	for i := 0; i < 5; i++ {
		m.Allocate()
	}

	t.Require().NoError(m.Persist(context.Background()))

	loaded, err := Load(context.Background(), dev, 0, 130)
	t.Require().NoError(err)
	t.Equal(5, 130-loaded.CountFree())
}
