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

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidDeviceConfig(d *DeviceConfig) error {
	if d.ImagePath == "" {
		return fmt.Errorf("device.image-path is required")
	}
	if !isValidSectorSize(d.SectorSizeBytes) {
		return fmt.Errorf("device.sector-size-bytes must be one of %v, got %d", validSectorSizes, d.SectorSizeBytes)
	}
	if d.NumSectors <= 0 {
		return fmt.Errorf("device.num-sectors must be positive")
	}
	if d.SwapImagePath != "" && d.SwapImagePath == d.ImagePath {
		return fmt.Errorf("device.swap-image-path must not collide with device.image-path")
	}
	return nil
}

func isValidVMConfig(v *VMConfig) error {
	if v.NumFrames <= 0 {
		return fmt.Errorf("vm.num-frames must be positive")
	}
	if v.SwapSectors < 0 {
		return fmt.Errorf("vm.swap-sectors cannot be negative")
	}
	if v.StackGrowthLimitBytes < 0 {
		return fmt.Errorf("vm.stack-growth-limit-bytes cannot be negative")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidDeviceConfig(&config.Device); err != nil {
		return fmt.Errorf("error parsing device config: %w", err)
	}
	if err := isValidVMConfig(&config.VM); err != nil {
		return fmt.Errorf("error parsing vm config: %w", err)
	}
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	return nil
}
