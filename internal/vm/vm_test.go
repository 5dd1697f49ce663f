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
	"testing"

	"github.com/oslab/corefs/internal/blockdev"
	"github.com/oslab/corefs/internal/workerpool"
	"github.com/stretchr/testify/suite"
)

const testStackLimit = 8 * 1024 * 1024

type VMTest struct {
	suite.Suite
	ctx context.Context
}

func TestVMSuite(t *testing.T) {
	suite.Run(t, new(VMTest))
}

func (t *VMTest) SetupTest() {
	t.ctx = context.Background()
}

func (t *VMTest) TestFaultOnUnmappedPageIsSegfault() {
	spt := NewSPT()
	r := NewResolver(NewFrameTable(2), mustSwap(t), testStackLimit)
	// userESP is far above faultAddr, so this isn't within the stack-growth
	// window either.
	err := r.Handle(t.ctx, spt, 0x1000, FaultCode{Present: false, User: true}, 0x3000)
	t.ErrorIs(err, ErrSegfault)
}

func (t *VMTest) TestFaultOnKernelAddressIsKilled() {
	spt := NewSPT()
	r := NewResolver(NewFrameTable(2), mustSwap(t), testStackLimit)
	err := r.Handle(t.ctx, spt, KernelVirtualBoundary, FaultCode{User: true}, 0)
	t.ErrorIs(err, ErrKernelAddress)
}

func (t *VMTest) TestWriteFaultOnReadOnlyPageIsKilled() {
	spt := NewSPT()
	t.Require().NoError(spt.AddZeroPage(0x1000, false))

	r := NewResolver(NewFrameTable(2), mustSwap(t), testStackLimit)
	err := r.Handle(t.ctx, spt, 0x1000, FaultCode{Write: true, User: true}, 0x3000)
	t.ErrorIs(err, ErrWriteToReadOnly)
}

func (t *VMTest) TestStackGrowthInstallsWritableZeroPage() {
	spt := NewSPT()
	r := NewResolver(NewFrameTable(2), mustSwap(t), testStackLimit)

	faultAddr := UserStackTop - 0x1000
	userESP := uint64(faultAddr) + 4 // within the PUSHA slack window

	t.Require().NoError(r.Handle(t.ctx, spt, faultAddr, FaultCode{Write: true, User: true}, userESP))

	e, ok := spt.Lookup(faultAddr.Page())
	t.Require().True(ok)
	t.Equal(InFrame, e.Location)
	t.True(e.Writable)
}

func (t *VMTest) TestStackGrowthBeyondLimitKillsProcess() {
	spt := NewSPT()
	r := NewResolver(NewFrameTable(2), mustSwap(t), 4096) // tiny stack limit

	faultAddr := UserStackTop - 8192 // beyond the 4 KiB limit
	userESP := uint64(faultAddr) + 4

	err := r.Handle(t.ctx, spt, faultAddr, FaultCode{Write: true, User: true}, userESP)
	t.ErrorIs(err, ErrStackLimitExceeded)
}

func (t *VMTest) TestZeroPageFaultsInToAZeroedFrame() {
	spt := NewSPT()
	t.Require().NoError(spt.AddZeroPage(0x1000, true))

	r := NewResolver(NewFrameTable(2), mustSwap(t), testStackLimit)
	t.Require().NoError(r.Handle(t.ctx, spt, 0x1000, FaultCode{User: true}, 0))

	e, ok := spt.Lookup(0x1000)
	t.Require().True(ok)
	t.Equal(InFrame, e.Location)
	t.Equal(byte(0), r.Frames.Frame(e.Frame).Data[0])
}

func (t *VMTest) TestEvictionSwapsOutDirtyAnonymousPageThenSwapsBackIn() {
	frames := NewFrameTable(1) // force contention immediately
	swap := mustSwap(t)
	r := NewResolver(frames, swap, testStackLimit)

	spt := NewSPT()
	t.Require().NoError(spt.AddZeroPage(0x1000, true))
	t.Require().NoError(spt.AddZeroPage(0x2000, true))

	t.Require().NoError(r.Handle(t.ctx, spt, 0x1000, FaultCode{Write: true, User: true}, 0))
	e1, _ := spt.Lookup(0x1000)
	frames.Frame(e1.Frame).Data[0] = 0x42
	frames.MarkDirty(e1.Frame)

	// Faulting in a second page with only one frame available must evict
	// page 0x1000.
	t.Require().NoError(r.Handle(t.ctx, spt, 0x2000, FaultCode{Write: true, User: true}, 0))

	e1After, _ := spt.Lookup(0x1000)
	t.Equal(InSwap, e1After.Location)

	// Faulting 0x1000 back in restores its contents from swap.
	t.Require().NoError(r.Handle(t.ctx, spt, 0x1000, FaultCode{Write: true, User: true}, 0))
	e1Restored, _ := spt.Lookup(0x1000)
	t.Equal(InFrame, e1Restored.Location)
	t.Equal(byte(0x42), frames.Frame(e1Restored.Frame).Data[0])
}

func (t *VMTest) TestClockHandSkipsAccessedFramesOnFirstPass() {
	ft := NewFrameTable(2)
	spt := NewSPT()
	ft.Allocate(spt, 0x1000)
	ft.Allocate(spt, 0x2000)
	// Both frames start Accessed==true from Allocate; PickVictim must
	// clear both accessed bits on its first sweep before it can evict
	// anything, then evict frame 0 on the second pass.
	victim, err := ft.PickVictim()
	t.Require().NoError(err)
	t.Equal(0, victim)
}

func (t *VMTest) TestEvictionThroughPooledSwapRoundTrips() {
	frames := NewFrameTable(1)
	swap := mustSwap(t)
	pool, err := workerpool.NewStaticWorkerPool(2, 1)
	t.Require().NoError(err)
	defer pool.Stop()
	swap.WithPool(pool)
	r := NewResolver(frames, swap, testStackLimit)

	spt := NewSPT()
	t.Require().NoError(spt.AddZeroPage(0x1000, true))
	t.Require().NoError(spt.AddZeroPage(0x2000, true))

	t.Require().NoError(r.Handle(t.ctx, spt, 0x1000, FaultCode{Write: true, User: true}, 0))
	e1, _ := spt.Lookup(0x1000)
	frames.Frame(e1.Frame).Data[0] = 0x99
	frames.MarkDirty(e1.Frame)

	t.Require().NoError(r.Handle(t.ctx, spt, 0x2000, FaultCode{Write: true, User: true}, 0))
	t.Require().NoError(r.Handle(t.ctx, spt, 0x1000, FaultCode{Write: true, User: true}, 0))

	e1Restored, _ := spt.Lookup(0x1000)
	t.Equal(InFrame, e1Restored.Location)
	t.Equal(byte(0x99), frames.Frame(e1Restored.Frame).Data[0])
}

func mustSwap(t *VMTest) *Swap {
	dev := blockdev.NewMemDevice(512, 64, blockdev.RoleSwap)
	s, err := NewSwap(dev)
	t.Require().NoError(err)
	return s
}
