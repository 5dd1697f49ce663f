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

// Package kernelcore wires together the process-wide singletons every other
// package is handed as an explicit dependency rather than reaching for as an
// ambient global (spec §9 "Process-wide state... treat as a
// dependency-injected context"): the open-inode table, the frame table, the
// swap area, and the global filesystem lock (spec §5). The VM lock lives
// inside vm.Resolver, not here.
package kernelcore

import (
	"context"
	"fmt"
	"sync"

	"github.com/oslab/corefs/cfg"
	"github.com/oslab/corefs/internal/blockdev"
	"github.com/oslab/corefs/internal/filesystem"
	"github.com/oslab/corefs/internal/freemap"
	"github.com/oslab/corefs/internal/inode"
	"github.com/oslab/corefs/internal/process"
	"github.com/oslab/corefs/internal/vm"
	"github.com/oslab/corefs/internal/workerpool"
)

// Core bundles every singleton collaborator a syscall or fault handler
// needs. FilesysLock is held for the duration of one path-aware filesystem
// syscall (spec §5's filesys_lock); vm_lock is the Resolver's own internal
// mutex, already held for the duration of one fault — kept inside Resolver
// rather than duplicated here since nothing outside internal/vm ever needs
// to take it directly.
type Core struct {
	FS       *filesystem.FS
	Frames   *vm.FrameTable
	Swap     *vm.Swap
	Resolver *vm.Resolver

	FilesysLock sync.Mutex

	swapIO *workerpool.Pool
}

// Boot brings up a fresh Core from configuration and two already-open
// devices: formats or mounts the filesystem on fsDev, sets up swap on
// swapDev, and sizes the frame table.
func Boot(ctx context.Context, c *cfg.Config, fsDev, swapDev blockdev.Device) (*Core, error) {
	free := freemap.New(int(fsDev.NumSectors()))
	store := &inode.Store{Dev: fsDev, Free: free, Workers: cfg.DefaultIndirectBlockFanout()}

	var fs *filesystem.FS
	if c.Device.Format {
		formatted, err := filesystem.Format(ctx, store)
		if err != nil {
			return nil, fmt.Errorf("kernelcore: boot: %w", err)
		}
		fs = formatted
	} else {
		fs = filesystem.Mount(store, inode.DiskSector(1))
	}

	swap, err := vm.NewSwap(swapDev)
	if err != nil {
		return nil, fmt.Errorf("kernelcore: boot: %w", err)
	}

	swapIO, err := workerpool.NewStaticWorkerPool(4, 2)
	if err != nil {
		return nil, fmt.Errorf("kernelcore: boot: %w", err)
	}
	swap.WithPool(swapIO)

	frames := vm.NewFrameTable(c.VM.NumFrames)
	resolver := vm.NewResolver(frames, swap, c.VM.StackGrowthLimitBytes)

	return &Core{FS: fs, Frames: frames, Swap: swap, Resolver: resolver, swapIO: swapIO}, nil
}

// Stop drains and shuts down the swap I/O worker pool. Safe to call on a
// zero-value Core.
func (c *Core) Stop() {
	c.swapIO.Stop()
}

// WithFilesysLock runs fn with the global filesystem lock held — the
// granularity spec §5 calls for around "every path-aware filesystem
// operation and every inode read/write" for the span of one syscall. The
// finer per-inode and per-directory locks inside internal/inode and
// internal/directory still apply underneath it; this is the outer
// serialization point, not a replacement for them.
func (c *Core) WithFilesysLock(fn func() error) error {
	c.FilesysLock.Lock()
	defer c.FilesysLock.Unlock()
	return fn()
}

// FaultInBuffer walks every page spanning [addr, addr+length) through the
// resolver, using p's supplemental page table and saved stack pointer (spec
// §4.6's inputs). write marks whether the syscall is about to write through
// addr (e.g. the destination of a read(2)) or only read it (the source of a
// write(2)): this is what lets a read() into an unmapped stack page grow the
// stack instead of segfaulting. The first page that faults aborts the walk;
// the caller kills the owning process rather than propagating the error
// through the syscall's own return value (spec §7).
func (c *Core) FaultInBuffer(ctx context.Context, p *process.Process, addr vm.VAddr, length int, write bool) error {
	if length <= 0 {
		return nil
	}
	code := vm.FaultCode{Write: write, User: true}
	last := addr + vm.VAddr(length) - 1
	for page := addr.Page(); page <= last.Page(); page += vm.PageSize {
		if err := c.Resolver.Handle(ctx, p.SPT, vm.VAddr(page), code, p.SavedESP); err != nil {
			return err
		}
	}
	return nil
}
