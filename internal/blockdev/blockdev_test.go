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

package blockdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MemDeviceTest struct {
	suite.Suite
	dev *MemDevice
}

func TestMemDeviceSuite(t *testing.T) {
	suite.Run(t, new(MemDeviceTest))
}

func (t *MemDeviceTest) SetupTest() {
	t.dev = NewMemDevice(512, 16, RoleFilesystem)
}

func (t *MemDeviceTest) TestWriteThenReadRoundTrips() {
	want := make([]byte, 512)
	for i := range want {
		want[i] = byte(i)
	}

	t.Require().NoError(t.dev.WriteSector(context.Background(), 3, want))

	got := make([]byte, 512)
	t.Require().NoError(t.dev.ReadSector(context.Background(), 3, got))
	t.Equal(want, got)
}

func (t *MemDeviceTest) TestOutOfRangeSectorFails() {
	buf := make([]byte, 512)
	t.Error(t.dev.ReadSector(context.Background(), 16, buf))
	t.Error(t.dev.ReadSector(context.Background(), -1, buf))
}

func (t *MemDeviceTest) TestWrongBufferSizeFails() {
	t.Error(t.dev.ReadSector(context.Background(), 0, make([]byte, 10)))
	t.Error(t.dev.WriteSector(context.Background(), 0, make([]byte, 10)))
}

func (t *MemDeviceTest) TestNumSectorsAndRole() {
	t.Equal(Sector(16), t.dev.NumSectors())
	t.Equal(RoleFilesystem, t.dev.Role())
}
