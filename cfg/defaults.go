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

const (
	DefaultSectorSizeBytes = 512
	DefaultNumFrames       = 64
	DefaultStackLimitBytes = 8 * 1024 * 1024
)

// GetDefaultLoggingConfig returns the default configuration used during
// application startup, before the provided configuration has been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   TextLogFormat,
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultVMConfig returns the VM defaults. Rationalize fills the same
// values into any of these fields a boot config leaves at zero.
func GetDefaultVMConfig() VMConfig {
	return VMConfig{
		NumFrames:             DefaultNumFrames,
		StackGrowthLimitBytes: DefaultStackLimitBytes,
	}
}
