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

// Package vm implements the demand-paged virtual memory layer (spec
// §4.5–§4.7): a per-process supplemental page table, a clock-algorithm
// frame table shared across processes, and a swap area.
package vm

import (
	"fmt"
	"sync"

	"github.com/oslab/corefs/internal/inode"
)

// Location is where a page's data currently lives.
type Location int

const (
	InFrame Location = iota
	InFile
	InSwap
	// InZero is anonymous memory backed by nothing on disk: stack growth
	// and other zero-fill pages. The first fault allocates a zeroed frame
	// directly, without ever visiting InFile or InSwap.
	InZero
)

func (l Location) String() string {
	switch l {
	case InFrame:
		return "IN_FRAME"
	case InFile:
		return "IN_FILE"
	case InSwap:
		return "IN_SWAP"
	case InZero:
		return "IN_ZERO"
	default:
		return "UNKNOWN"
	}
}

// PageSize is the unit of demand paging: 8 sectors, matching the spec's
// swap-slot granularity.
const PageSize = 8 * 512

// VPage is a page-aligned virtual address, i.e. a virtual address with its
// low log2(PageSize) = 12 bits masked off.
type VPage uint64

// VAddr is a full, not necessarily page-aligned, virtual address — the
// faulting address the CPU hands the resolver (spec §4.6's "faulting
// virtual address"), as distinct from VPage's already-rounded form.
type VAddr uint64

// Page rounds a down to the page containing it (spec §4.6 step 1).
func (a VAddr) Page() VPage {
	return VPage(uint64(a) &^ uint64(PageSize-1))
}

// Entry is one supplemental page table entry.
type Entry struct {
	Location Location
	Writable bool

	// Valid when Location == InFrame.
	Frame int

	// Valid when Location == InFile: the page is backed by a segment of a
	// file (an executable or mmap'd file), reloaded from there
	// instead of from swap the first time it's faulted in.
	FileInode  *inode.Inode
	FileOffset int64

	// Valid when Location == InSwap.
	SwapSlot int
}

// SPT is one process's supplemental page table.
type SPT struct {
	mu      sync.Mutex
	entries map[VPage]*Entry
}

func NewSPT() *SPT {
	return &SPT{entries: make(map[VPage]*Entry)}
}

func (s *SPT) Lookup(p VPage) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	return e, ok
}

func (s *SPT) Install(p VPage, e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p] = e
}

func (s *SPT) Remove(p VPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, p)
}

// AddFileBackedPage registers a lazily-loaded, file-backed page (used for
// executable segments and the spec's "loader" collaborator): the page has
// no frame yet and will be demand-paged in on first access.
func (s *SPT) AddFileBackedPage(p VPage, fileInode *inode.Inode, fileOffset int64, writable bool) error {
	if _, exists := s.Lookup(p); exists {
		return fmt.Errorf("vm: page %#x already mapped", p)
	}
	s.Install(p, &Entry{Location: InFile, FileInode: fileInode, FileOffset: fileOffset, Writable: writable})
	return nil
}

// AddZeroPage registers a page backed by nothing (stack growth, anonymous
// memory): the first fault allocates a zero-filled frame directly, without
// ever visiting InFile or InSwap.
func (s *SPT) AddZeroPage(p VPage, writable bool) error {
	if _, exists := s.Lookup(p); exists {
		return fmt.Errorf("vm: page %#x already mapped", p)
	}
	s.Install(p, &Entry{Location: InZero, Writable: writable})
	return nil
}
