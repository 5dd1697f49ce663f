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

// Rationalize updates config fields based on the values of other fields,
// after flags/file/env are merged but before validation.
func Rationalize(c *Config) error {
	if c.Debug.LogMutex {
		c.Logging.Severity = TraceLogSeverity
	}

	if c.Device.SectorSizeBytes == 0 {
		c.Device.SectorSizeBytes = DefaultSectorSizeBytes
	}

	if c.VM.NumFrames == 0 {
		c.VM.NumFrames = DefaultNumFrames
	}

	if c.VM.StackGrowthLimitBytes == 0 {
		c.VM.StackGrowthLimitBytes = DefaultStackLimitBytes
	}

	if c.Logging.Format == "" {
		c.Logging.Format = TextLogFormat
	}

	if c.Logging.LogRotate.MaxFileSizeMb == 0 {
		c.Logging.LogRotate = GetDefaultLoggingConfig().LogRotate
	}

	return nil
}
