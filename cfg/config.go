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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration for a corefsd boot. It is populated by
// viper from flags and an optional YAML file, flags taking precedence, then
// validated and rationalized before use. Environment variables are not read.
type Config struct {
	AppName string `yaml:"app-name"`

	Device DeviceConfig `yaml:"device"`

	VM VMConfig `yaml:"vm"`

	Debug DebugConfig `yaml:"debug"`

	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig describes the backing block device image for the filesystem
// and the swap device image used by the VM layer.
type DeviceConfig struct {
	ImagePath ResolvedPath `yaml:"image-path"`

	SwapImagePath ResolvedPath `yaml:"swap-image-path"`

	SectorSizeBytes int `yaml:"sector-size-bytes"`

	NumSectors SectorCount `yaml:"num-sectors"`

	CreateMode Octal `yaml:"create-mode"`

	// Format, when true, lays down a fresh filesystem at boot instead of
	// mounting the existing image contents.
	Format bool `yaml:"format"`
}

// VMConfig sizes the demand-paged virtual memory subsystem.
type VMConfig struct {
	NumFrames int `yaml:"num-frames"`

	SwapSectors SectorCount `yaml:"swap-sectors"`

	StackGrowthLimitBytes int64 `yaml:"stack-growth-limit-bytes"`
}

// DebugConfig holds the debug switches. LogMutex makes Rationalize force the
// log severity to TRACE. ExitOnInvariantViolation is decoded and stored but
// no code reads it.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// LoggingConfig configures the process-wide structured logger.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format LogFormat `yaml:"format"`

	LogFile ResolvedPath `yaml:"log-file"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig mirrors lumberjack.Logger's rotation knobs.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

// BindFlags registers a pflag for most Config fields and binds each into
// viper under the matching dotted key. Device.CreateMode,
// VM.StackGrowthLimitBytes and Logging.LogRotate have no flag and can be
// set only in the YAML file.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "corefsd", "The application name of this boot.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.String("device-image", "", "Path to the filesystem block device image.")
	if err = viper.BindPFlag("device.image-path", flagSet.Lookup("device-image")); err != nil {
		return err
	}

	flagSet.String("swap-image", "", "Path to the swap block device image.")
	if err = viper.BindPFlag("device.swap-image-path", flagSet.Lookup("swap-image")); err != nil {
		return err
	}

	flagSet.Int("sector-size", 512, "Device sector size in bytes.")
	if err = viper.BindPFlag("device.sector-size-bytes", flagSet.Lookup("sector-size")); err != nil {
		return err
	}

	flagSet.Int64("num-sectors", 0, "Number of sectors in the filesystem device image.")
	if err = viper.BindPFlag("device.num-sectors", flagSet.Lookup("num-sectors")); err != nil {
		return err
	}

	flagSet.Bool("format", false, "Format the device image before boot.")
	if err = viper.BindPFlag("device.format", flagSet.Lookup("format")); err != nil {
		return err
	}

	flagSet.Int("num-frames", 64, "Number of physical memory frames simulated by the VM layer.")
	if err = viper.BindPFlag("vm.num-frames", flagSet.Lookup("num-frames")); err != nil {
		return err
	}

	flagSet.Int64("swap-sectors", 0, "Number of sectors in the swap device image.")
	if err = viper.BindPFlag("vm.swap-sectors", flagSet.Lookup("swap-sectors")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Set debug.exit-on-invariant-violation (no code reads it).")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Force the log severity to TRACE.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	flagSet.String("log-severity", "INFO", "Minimum log severity to emit.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.String("log-format", "text", "Log encoding: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.String("log-file", "", "Path to the log file. Empty means stderr.")
	if err = viper.BindPFlag("logging.log-file", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	return nil
}
