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
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/oslab/corefs/cfg"
	"github.com/oslab/corefs/clock"
	"github.com/stretchr/testify/require"
)

// TestBootFormatsAndSignalsReady drives bootWithClock end to end against a
// scratch device pair, then sends the process SIGTERM once boot has had
// time to reach its signal wait, exercising the full format-and-serve path
// without a real caller ever sending the signal.
func TestBootFormatsAndSignalsReady(t *testing.T) {
	dir := t.TempDir()
	c := cfg.Config{
		Device: cfg.DeviceConfig{
			ImagePath:       cfg.ResolvedPath(filepath.Join(dir, "fs.img")),
			SwapImagePath:   cfg.ResolvedPath(filepath.Join(dir, "swap.img")),
			SectorSizeBytes: 512,
			NumSectors:      200,
			CreateMode:      0600,
			Format:          true,
		},
		VM: cfg.VMConfig{
			NumFrames:   8,
			SwapSectors: 64,
		},
		Logging: cfg.GetDefaultLoggingConfig(),
	}
	require.NoError(t, cfg.Rationalize(&c))
	require.NoError(t, cfg.ValidateConfig(&c))

	done := make(chan error, 1)
	go func() { done <- bootWithClock(&c, clock.RealClock{}) }()

	time.AfterFunc(100*time.Millisecond, func() {
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("boot did not return after SIGTERM")
	}
}
