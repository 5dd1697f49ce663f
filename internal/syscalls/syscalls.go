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

// Package syscalls turns the numbered syscall table (spec §6) into a Go
// switch. Arguments arrive as a fixed-width [3]int64 (Args.Int) standing in for the
// out-of-scope user-stack reader; a single int64 result standing in for the
// trap frame's return-value slot. User-pointer validation and the
// user/kernel trap boundary are explicitly out of scope (spec §1) — callers
// are expected to have already copied buffer contents to/from user memory.
package syscalls

import (
	"context"
	"errors"
	"fmt"

	"github.com/oslab/corefs/internal/directory"
	"github.com/oslab/corefs/internal/inode"
	"github.com/oslab/corefs/internal/kernelcore"
	"github.com/oslab/corefs/internal/logger"
	"github.com/oslab/corefs/internal/process"
	"github.com/oslab/corefs/internal/vm"
)

// Number identifies a syscall per the spec §6 table.
type Number int

const (
	Halt Number = iota
	Exit
	Exec
	Wait
	Create
	Remove
	Open
	Filesize
	Read
	Write
	Seek
	Tell
	Close
	_ // 13: unused in the retrieval pack's table
	_ // 14: unused in the retrieval pack's table
	Chdir
	Mkdir
	Readdir
	IsDir
	Inumber
)

// ProcessLauncher stands in for the out-of-scope external loader and
// scheduler: exec starts a new user process from a command line and
// returns its tid; wait blocks until tid exits and returns its status.
type ProcessLauncher interface {
	Exec(ctx context.Context, cmdLine string) (tid int64, err error)
	Wait(ctx context.Context, tid int64) (status int64, err error)
	Halt()
}

// Args is one syscall invocation's fixed-width argument vector plus any
// buffer it references; interpretation depends on Num.
type Args struct {
	Num  Number
	Int  [3]int64
	Buf  []byte
	Name string

	// Addr is the user virtual address Buf was copied to/from, used to
	// fault the backing pages in before Read/Write touch them (spec
	// §4.6). Zero means the caller isn't modeling virtual memory for this
	// call and the fault-in step is skipped entirely.
	Addr vm.VAddr
}

// Dispatch executes one syscall against p, returning the value that would
// be written to the trap frame. Filesystem-touching calls run under the
// core's global filesys_lock for their whole duration (spec §5).
func Dispatch(ctx context.Context, core *kernelcore.Core, launcher ProcessLauncher, p *process.Process, a Args) int64 {
	switch a.Num {
	case Halt:
		launcher.Halt()
		return 0

	case Exit:
		return a.Int[0]

	case Exec:
		tid, err := launcher.Exec(ctx, a.Name)
		if err != nil {
			return -1
		}
		return tid

	case Wait:
		status, err := launcher.Wait(ctx, a.Int[0])
		if err != nil {
			return -1
		}
		return status

	case Create:
		var result int64
		err := core.WithFilesysLock(func() error {
			in, err := core.FS.Create(ctx, p.Cwd, a.Name)
			if err != nil {
				return err
			}
			if size := a.Int[0]; size > 0 {
				if err := in.Extend(ctx, size); err != nil {
					return err
				}
			}
			result = 1
			return nil
		})
		return boolResult(result, err)

	case Remove:
		var result int64
		err := core.WithFilesysLock(func() error {
			if err := core.FS.Remove(ctx, p.Cwd, a.Name); err != nil {
				return err
			}
			result = 1
			return nil
		})
		return boolResult(result, err)

	case Open:
		var fd int
		err := core.WithFilesysLock(func() error {
			var err error
			fd, err = p.Open(ctx, a.Name)
			return err
		})
		if err != nil {
			return -1
		}
		return int64(fd)

	case Filesize:
		var size int64
		err := core.WithFilesysLock(func() error {
			var err error
			size, err = p.Filesize(int(a.Int[0]))
			return err
		})
		if err != nil {
			logger.Errorf("syscalls: filesize: %v", err)
			return -1
		}
		return size

	case Read:
		if a.Int[0] == process.StdinFD {
			return 0
		}
		if a.Addr != 0 {
			// read(2) writes into the user buffer, so its pages must be
			// faulted in writable (spec §4.6) before the kernel touches
			// them — this is what lets a read into an unmapped stack
			// address grow the stack instead of segfaulting.
			if err := core.FaultInBuffer(ctx, p, a.Addr, len(a.Buf), true); err != nil {
				p.Kill(-1)
				return -1
			}
		}
		var n int
		err := core.WithFilesysLock(func() error {
			var err error
			n, err = p.Read(ctx, int(a.Int[0]), a.Buf)
			return err
		})
		if err != nil {
			return -1
		}
		return int64(n)

	case Write:
		if a.Int[0] == process.StdoutFD {
			return int64(len(a.Buf))
		}
		if a.Addr != 0 {
			// write(2) only reads the user buffer.
			if err := core.FaultInBuffer(ctx, p, a.Addr, len(a.Buf), false); err != nil {
				p.Kill(-1)
				return -1
			}
		}
		var n int
		err := core.WithFilesysLock(func() error {
			var err error
			n, err = p.Write(ctx, int(a.Int[0]), a.Buf)
			return err
		})
		if err != nil {
			return -1
		}
		return int64(n)

	case Seek:
		err := core.WithFilesysLock(func() error {
			return p.Seek(int(a.Int[0]), a.Int[1])
		})
		if err != nil {
			logger.Errorf("syscalls: seek: %v", err)
		}
		return 0

	case Tell:
		var pos int64
		err := core.WithFilesysLock(func() error {
			var err error
			pos, err = p.Tell(int(a.Int[0]))
			return err
		})
		if err != nil {
			return -1
		}
		return pos

	case Close:
		err := core.WithFilesysLock(func() error {
			return p.Close(int(a.Int[0]))
		})
		if err != nil {
			logger.Errorf("syscalls: close: %v", err)
		}
		return 0

	case Chdir:
		var result int64
		err := core.WithFilesysLock(func() error {
			if err := p.Chdir(ctx, a.Name); err != nil {
				return err
			}
			result = 1
			return nil
		})
		return boolResult(result, err)

	case Mkdir:
		var result int64
		err := core.WithFilesysLock(func() error {
			if err := core.FS.Mkdir(ctx, p.Cwd, a.Name); err != nil {
				return err
			}
			result = 1
			return nil
		})
		return boolResult(result, err)

	case Readdir:
		var result int64
		err := core.WithFilesysLock(func() error {
			name, ok, err := p.Readdir(ctx, int(a.Int[0]))
			if err != nil {
				return err
			}
			if ok {
				copy(a.Buf, name)
				result = 1
			}
			return nil
		})
		return boolResult(result, err)

	case IsDir:
		var isDir bool
		err := core.WithFilesysLock(func() error {
			var err error
			isDir, err = p.IsDir(int(a.Int[0]))
			return err
		})
		if err != nil {
			return 0
		}
		return boolToInt64(isDir)

	case Inumber:
		var sector inode.DiskSector
		err := core.WithFilesysLock(func() error {
			var err error
			sector, err = p.Inumber(int(a.Int[0]))
			return err
		})
		if err != nil {
			return -1
		}
		return int64(sector)

	default:
		panic(fmt.Sprintf("syscalls: unrecognized syscall number %d", a.Num))
	}
}

// boolResult maps the not-found/already-exists error class to a false/-1
// result rather than propagating the error (spec §7): any other error is a
// kernel-level failure this layer doesn't attempt to distinguish from user
// error, so it's logged and also reported as failure to the caller.
func boolResult(result int64, err error) int64 {
	if err == nil {
		return result
	}
	if errors.Is(err, directory.ErrNotFound) || errors.Is(err, directory.ErrExists) || errors.Is(err, directory.ErrNotEmpty) {
		return 0
	}
	logger.Errorf("syscalls: %v", err)
	return 0
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
