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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/timeutil"
	"github.com/kardianos/osext"
	"github.com/oslab/corefs/cfg"
	"github.com/oslab/corefs/clock"
	"github.com/oslab/corefs/internal/blockdev"
	"github.com/oslab/corefs/internal/kernelcore"
	"github.com/oslab/corefs/internal/logger"
)

func main() {
	Execute()
}

// boot brings the kernel core up from config and blocks until the process
// receives a termination signal: there is no user-visible surface beyond
// the syscall dispatcher itself (spec §1 places the trap mechanism and
// scheduler out of scope), so this is the whole of the daemon's run loop.
func boot(c *cfg.Config) error {
	return bootWithClock(c, clock.RealClock{})
}

func bootWithClock(c *cfg.Config, clk timeutil.Clock) error {
	bootStart := clk.Now()
	if err := logger.Init(c.Logging); err != nil {
		return fmt.Errorf("boot: initializing logger: %w", err)
	}
	if exe, err := osext.Executable(); err == nil {
		logger.Infof("corefsd booting from %s: %s", exe, c.String())
	} else {
		logger.Infof("corefsd booting: %s", c.String())
	}

	fsDev, err := openOrCreateDevice(string(c.Device.ImagePath), c.Device.CreateMode, c.Device.SectorSizeBytes, int64(c.Device.NumSectors), blockdev.RoleFilesystem, c.Device.Format)
	if err != nil {
		return fmt.Errorf("boot: filesystem device: %w", err)
	}
	defer fsDev.Close()

	swapDev, err := openOrCreateDevice(string(c.Device.SwapImagePath), c.Device.CreateMode, c.Device.SectorSizeBytes, int64(c.VM.SwapSectors), blockdev.RoleSwap, c.Device.Format)
	if err != nil {
		return fmt.Errorf("boot: swap device: %w", err)
	}
	defer swapDev.Close()

	ctx := context.Background()
	core, err := kernelcore.Boot(ctx, c, fsDev, swapDev)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer core.Stop()

	logger.Infof("corefsd ready in %v: root at sector %d, %d frames", clk.Now().Sub(bootStart), core.FS.Root, core.Frames.NumFrames())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("corefsd shutting down on signal %v", sig)
	return nil
}

// openOrCreateDevice opens an existing image, or creates and preallocates
// one when format is requested — mirroring the way `mkfs`-style tooling and
// a mount path share one device-image abstraction.
func openOrCreateDevice(path string, mode cfg.Octal, sectorSize int, numSectors int64, role blockdev.Role, format bool) (*blockdev.FileDevice, error) {
	if format {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		return blockdev.CreateFileDevice(path, os.FileMode(mode), sectorSize, blockdev.Sector(numSectors), role, 0)
	}
	return blockdev.OpenFileDevice(path, sectorSize, blockdev.Sector(numSectors), role, 0)
}
