// Copyright 2015 Google Inc. All Rights Reserved.
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

import "github.com/oslab/corefs/internal/logger"

// openCount tracks how many process file descriptors currently reference an
// inode. It calls destroy every time the count returns to zero, so an
// inode that is reopened and closed again sees destroy more than once —
// the deferred-removal half of "remove while open" (spec §4.2, §8
// scenario 2).
type openCount struct {
	count   uint64
	destroy func() error
}

func (c *openCount) Inc() {
	c.count++
}

// Dec decrements the count by n, invoking destroy and returning true if the
// count reaches zero. Panics if n exceeds the current count: that is always
// a bug in the caller, not a condition the filesystem can recover from.
func (c *openCount) Dec(n uint64) (destroyed bool) {
	if c.count < n {
		panic("inode: openCount.Dec: count would go negative")
	}
	c.count -= n
	if c.count == 0 {
		destroyed = true
		if c.destroy == nil {
			return
		}
		if err := c.destroy(); err != nil {
			logger.Errorf("inode: destroy after last close failed: %v", err)
		}
	}
	return
}
