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
	"fmt"
	"os"

	fallocate "github.com/detailyang/go-fallocate"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// FileDevice is a Device backed by a regular file, advisory-locked for
// exclusive access so two corefsd processes never mount the same image.
type FileDevice struct {
	f          *os.File
	sectorSize int
	numSectors Sector
	role       Role
	limiter    *rate.Limiter
}

// OpenFileDevice opens (without creating) an existing device image and
// takes an exclusive advisory lock on it.
func OpenFileDevice(path string, sectorSize int, numSectors Sector, role Role, iopsLimit int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: flock %s: %w (already mounted?)", path, err)
	}

	d := &FileDevice{f: f, sectorSize: sectorSize, numSectors: numSectors, role: role}
	if iopsLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(iopsLimit), iopsLimit)
	}
	return d, nil
}

// CreateFileDevice creates a fresh device image of the requested size,
// preallocating its full extent so later sector writes never grow the file.
func CreateFileDevice(path string, mode os.FileMode, sectorSize int, numSectors Sector, role Role, iopsLimit int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %s: %w", path, err)
	}

	size := int64(sectorSize) * int64(numSectors)
	if err := fallocate.Fallocate(f, 0, size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("blockdev: fallocate %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: flock %s: %w", path, err)
	}

	d := &FileDevice{f: f, sectorSize: sectorSize, numSectors: numSectors, role: role}
	if iopsLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(iopsLimit), iopsLimit)
	}
	return d, nil
}

func (d *FileDevice) await(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	return d.limiter.Wait(ctx)
}

func (d *FileDevice) checkBounds(s Sector) error {
	if s < 0 || s >= d.numSectors {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", s, d.numSectors)
	}
	return nil
}

func (d *FileDevice) ReadSector(ctx context.Context, s Sector, buf []byte) error {
	if err := d.checkBounds(s); err != nil {
		return err
	}
	if len(buf) != d.sectorSize {
		return fmt.Errorf("blockdev: read buffer size %d != sector size %d", len(buf), d.sectorSize)
	}
	if err := d.await(ctx); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(buf, int64(s)*int64(d.sectorSize)); err != nil {
		return &DeviceFault{Sector: s, Op: "read", Err: err}
	}
	return nil
}

func (d *FileDevice) WriteSector(ctx context.Context, s Sector, buf []byte) error {
	if err := d.checkBounds(s); err != nil {
		return err
	}
	if len(buf) != d.sectorSize {
		return fmt.Errorf("blockdev: write buffer size %d != sector size %d", len(buf), d.sectorSize)
	}
	if err := d.await(ctx); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(buf, int64(s)*int64(d.sectorSize)); err != nil {
		return &DeviceFault{Sector: s, Op: "write", Err: err}
	}
	return nil
}

func (d *FileDevice) NumSectors() Sector { return d.numSectors }
func (d *FileDevice) SectorSize() int    { return d.sectorSize }
func (d *FileDevice) Role() Role         { return d.role }

func (d *FileDevice) Close() error {
	_ = unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}
