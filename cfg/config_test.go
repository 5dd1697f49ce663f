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

package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		AppName: "corefsd",
		Device: DeviceConfig{
			ImagePath:       "/tmp/fs.img",
			SwapImagePath:   "/tmp/swap.img",
			SectorSizeBytes: 512,
			NumSectors:      1000,
		},
		VM: VMConfig{
			NumFrames:             64,
			SwapSectors:           80,
			StackGrowthLimitBytes: 8 * 1024 * 1024,
		},
		Logging: GetDefaultLoggingConfig(),
	}
}

func TestRationalizeDefaultsSectorSizeAndLogging(t *testing.T) {
	c := Config{}
	require.NoError(t, Rationalize(&c))
	assert.Equal(t, DefaultSectorSizeBytes, c.Device.SectorSizeBytes)
	assert.Equal(t, DefaultNumFrames, c.VM.NumFrames)
	assert.Equal(t, TextLogFormat, c.Logging.Format)
	assert.NotZero(t, c.Logging.LogRotate.MaxFileSizeMb)
}

func TestRationalizeLogMutexForcesTraceSeverity(t *testing.T) {
	c := Config{Debug: DebugConfig{LogMutex: true}}
	require.NoError(t, Rationalize(&c))
	assert.Equal(t, TraceLogSeverity, c.Logging.Severity)
}

func TestValidateConfigAcceptsWellFormedConfig(t *testing.T) {
	c := validConfig()
	assert.NoError(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsMissingImagePath(t *testing.T) {
	c := validConfig()
	c.Device.ImagePath = ""
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsBadSectorSize(t *testing.T) {
	c := validConfig()
	c.Device.SectorSizeBytes = 513
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsNonPositiveNumSectors(t *testing.T) {
	c := validConfig()
	c.Device.NumSectors = 0
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsSwapImageCollidingWithDeviceImage(t *testing.T) {
	c := validConfig()
	c.Device.SwapImagePath = c.Device.ImagePath
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsNonPositiveNumFrames(t *testing.T) {
	c := validConfig()
	c.VM.NumFrames = 0
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsNegativeStackGrowthLimit(t *testing.T) {
	c := validConfig()
	c.VM.StackGrowthLimitBytes = -1
	assert.Error(t, ValidateConfig(&c))
}
