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

// Package process holds the per-process state the core keeps outside the
// filesystem and VM layers themselves: the file-descriptor table, current
// working directory, supplemental page table, and the user stack pointer
// snapshot taken at the last trap (spec §4.6 "Process-local state").
package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/oslab/corefs/cfg"
	"github.com/oslab/corefs/internal/directory"
	"github.com/oslab/corefs/internal/filesystem"
	"github.com/oslab/corefs/internal/inode"
	"github.com/oslab/corefs/internal/vm"
)

// Reserved file descriptors; fd allocation never hands these out.
const (
	StdinFD  = 0
	StdoutFD = 1
	firstFD  = 2
)

// handle is what a live file descriptor points to: either a regular file or
// a directory, distinguished by whether dir is non-nil (spec §9
// "Polymorphism over file handles" — a tagged variant dispatching on
// is_directory, modeled here as an optional field rather than an interface
// since the two variants share every piece of state except the readdir
// cursor).
type handle struct {
	in      *inode.Inode
	release func()
	offset  int64
	dir     *directory.Handle
}

// Process is one running user process's kernel-visible state.
type Process struct {
	fs *filesystem.FS

	mu     sync.Mutex
	fds    [cfg.DefaultFdTableSize]*handle
	nextFD int

	Cwd      inode.DiskSector
	SPT      *vm.SPT
	SavedESP uint64

	killed     bool
	exitStatus int64

	// TraceID correlates this process's log lines and metrics across its
	// whole lifetime; it has no on-disk or wire representation.
	TraceID uuid.UUID
}

func New(fs *filesystem.FS, cwd inode.DiskSector) *Process {
	return &Process{fs: fs, Cwd: cwd, nextFD: firstFD, SPT: vm.NewSPT(), TraceID: uuid.New()}
}

// allocate finds the lowest free slot at or above nextFD (wrapping once),
// installs h there, and advances the hint past it. Returns -1 if every slot
// ≥ firstFD is occupied — the explicit full-table check the source's
// unreachable MAX_FILES comparison was meant to perform (spec §9 open
// question).
//
// EXCLUSIVE_LOCKS_REQUIRED(p.mu)
func (p *Process) allocate(h *handle) int {
	n := len(p.fds)
	for i := 0; i < n; i++ {
		slot := (p.nextFD + i - firstFD) % (n - firstFD) + firstFD
		if p.fds[slot] == nil {
			p.fds[slot] = h
			p.nextFD = slot + 1
			if p.nextFD >= n {
				p.nextFD = firstFD
			}
			return slot
		}
	}
	return -1
}

func (p *Process) get(fd int) (*handle, error) {
	if fd < firstFD || fd >= len(p.fds) {
		return nil, fmt.Errorf("process: fd %d out of range", fd)
	}
	p.mu.Lock()
	h := p.fds[fd]
	p.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("process: fd %d not open", fd)
	}
	return h, nil
}

// Open resolves name against the process's cwd and assigns it the lowest
// free descriptor ≥ 2, or -1 if the table is full.
func (p *Process) Open(ctx context.Context, name string) (int, error) {
	in, release, err := p.fs.Open(ctx, p.Cwd, name)
	if err != nil {
		return -1, err
	}

	h := &handle{in: in, release: release}
	if in.IsDir() {
		h.dir = directory.NewHandle(directory.New(in))
	}

	p.mu.Lock()
	fd := p.allocate(h)
	p.mu.Unlock()

	if fd == -1 {
		release()
		return -1, nil
	}
	return fd, nil
}

// Close releases fd's underlying inode reference and clears the slot,
// updating next_fd so a subsequent open can reuse it immediately.
func (p *Process) Close(fd int) error {
	if fd < firstFD || fd >= len(p.fds) {
		return fmt.Errorf("process: fd %d out of range", fd)
	}
	p.mu.Lock()
	h := p.fds[fd]
	p.fds[fd] = nil
	if fd < p.nextFD {
		p.nextFD = fd
	}
	p.mu.Unlock()

	if h == nil {
		return fmt.Errorf("process: fd %d not open", fd)
	}
	h.release()
	return nil
}

// IsDir reports whether fd names a directory.
func (p *Process) IsDir(fd int) (bool, error) {
	h, err := p.get(fd)
	if err != nil {
		return false, err
	}
	return h.dir != nil, nil
}

// Inumber returns the disk sector backing fd, used as its unique number.
func (p *Process) Inumber(fd int) (inode.DiskSector, error) {
	h, err := p.get(fd)
	if err != nil {
		return 0, err
	}
	return h.in.Sector(), nil
}

// Filesize returns fd's length in bytes. Fails if fd names a directory
// (spec §6's syscall table: "error if fd is a directory").
func (p *Process) Filesize(fd int) (int64, error) {
	h, err := p.get(fd)
	if err != nil {
		return 0, err
	}
	if h.dir != nil {
		return 0, fmt.Errorf("process: filesize: fd %d is a directory", fd)
	}
	return h.in.Length(), nil
}

// Read reads into buf from fd's current offset, advancing it. Fails if fd
// names a directory.
func (p *Process) Read(ctx context.Context, fd int, buf []byte) (int, error) {
	h, err := p.get(fd)
	if err != nil {
		return 0, err
	}
	if h.dir != nil {
		return 0, fmt.Errorf("process: read: fd %d is a directory", fd)
	}

	p.mu.Lock()
	offset := h.offset
	p.mu.Unlock()

	n, err := h.in.ReadAt(ctx, buf, offset)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	h.offset += int64(n)
	p.mu.Unlock()
	return n, nil
}

// Write writes buf to fd at its current offset, advancing it. Fails if fd
// names a directory.
func (p *Process) Write(ctx context.Context, fd int, buf []byte) (int, error) {
	h, err := p.get(fd)
	if err != nil {
		return 0, err
	}
	if h.dir != nil {
		return 0, fmt.Errorf("process: write: fd %d is a directory", fd)
	}

	p.mu.Lock()
	offset := h.offset
	p.mu.Unlock()

	n, err := h.in.WriteAt(ctx, buf, offset)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	h.offset += int64(n)
	p.mu.Unlock()
	return n, nil
}

// Seek moves fd's cursor to pos. Fails if fd names a directory — directory
// cursors move only via Readdir (spec §4.4 "seek/tell... used to keep
// directory iteration consistent", reserved for the directory's own
// handle, not an arbitrary byte offset).
func (p *Process) Seek(fd int, pos int64) error {
	h, err := p.get(fd)
	if err != nil {
		return err
	}
	if h.dir != nil {
		return fmt.Errorf("process: seek: fd %d is a directory", fd)
	}
	p.mu.Lock()
	h.offset = pos
	p.mu.Unlock()
	return nil
}

// Tell returns fd's current cursor position, or -1 if fd names a directory.
func (p *Process) Tell(fd int) (int64, error) {
	h, err := p.get(fd)
	if err != nil {
		return -1, err
	}
	if h.dir != nil {
		return -1, fmt.Errorf("process: tell: fd %d is a directory", fd)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return h.offset, nil
}

// Readdir advances fd's directory cursor to the next entry, writing its
// name into name and returning true, or false once exhausted. Fails if fd
// does not name a directory.
func (p *Process) Readdir(ctx context.Context, fd int) (name string, ok bool, err error) {
	h, err := p.get(fd)
	if err != nil {
		return "", false, err
	}
	if h.dir == nil {
		return "", false, fmt.Errorf("process: readdir: fd %d is not a directory", fd)
	}
	entry, ok, err := h.dir.Next(ctx)
	if err != nil || !ok {
		return "", ok, err
	}
	return entry.Name, true, nil
}

// Kill marks the process terminated with status, the fatal response to a
// user fault (spec §4.6 step 3/5/8, spec §7): the first call wins, later
// calls are no-ops so a process can't resurrect itself with a second,
// milder exit status.
func (p *Process) Kill(status int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return
	}
	p.killed = true
	p.exitStatus = status
}

// Killed reports whether Kill has been called, and with what status.
func (p *Process) Killed() (status int64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus, p.killed
}

// Chdir resolves path against the process's cwd and, if it names a
// directory, makes it the new cwd.
func (p *Process) Chdir(ctx context.Context, path string) error {
	sector, err := p.fs.ResolveSector(ctx, p.Cwd, path)
	if err != nil {
		return err
	}
	in, release, err := p.fs.Table.Get(ctx, sector)
	if err != nil {
		return err
	}
	defer release()
	if !in.IsDir() {
		return fmt.Errorf("process: chdir: %q is not a directory", path)
	}
	p.mu.Lock()
	p.Cwd = sector
	p.mu.Unlock()
	return nil
}
