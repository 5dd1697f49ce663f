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

// Package logger provides the process-wide leveled, rotating structured
// logger used by every kernel subsystem.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/oslab/corefs/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// levelTrace sits one rung below slog.LevelDebug, matching the TRACE
// severity the config layer accepts.
const levelTrace = slog.Level(-8)

var severityToLevel = map[cfg.LogSeverity]slog.Level{
	cfg.TraceLogSeverity:   levelTrace,
	cfg.DebugLogSeverity:   slog.LevelDebug,
	cfg.InfoLogSeverity:    slog.LevelInfo,
	cfg.WarningLogSeverity: slog.LevelWarn,
	cfg.ErrorLogSeverity:   slog.LevelError,
	cfg.OffLogSeverity:     slog.Level(64),
}

var levelNames = map[slog.Leveler]string{
	levelTrace: "TRACE",
}

var (
	mu      sync.Mutex
	current atomic.Pointer[slog.Logger]
)

func init() {
	l := build(cfg.GetDefaultLoggingConfig(), os.Stderr)
	current.Store(l)
}

// Init rebuilds the process-wide logger from a resolved Config. Call once
// during boot after config validation.
func Init(c cfg.LoggingConfig) error {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = os.Stderr
	if c.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   string(c.LogFile),
			MaxSize:    c.LogRotate.MaxFileSizeMb,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
	}
	current.Store(build(c, w))
	return nil
}

func build(c cfg.LoggingConfig, w io.Writer) *slog.Logger {
	level, ok := severityToLevel[c.Severity]
	if !ok {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lv := a.Value.Any().(slog.Level)
				if name, ok := levelNames[lv]; ok {
					a.Value = slog.StringValue(name)
				} else {
					a.Value = slog.StringValue(lv.String())
				}
				a.Key = "severity"
			}
			if a.Key == slog.MessageKey {
				a.Key = "message"
			}
			if a.Key == slog.TimeKey {
				a.Key = "time"
			}
			return a
		},
	}

	if c.Format == cfg.JSONLogFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func logf(ctx context.Context, level slog.Level, format string, args ...any) {
	current.Load().Log(ctx, level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...any) { logf(context.Background(), levelTrace, format, args...) }
func Debugf(format string, args ...any) { logf(context.Background(), slog.LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(context.Background(), slog.LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(context.Background(), slog.LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logf(context.Background(), slog.LevelError, format, args...) }

// Logger returns the current process-wide *slog.Logger, for packages that
// want to attach structured fields rather than printf-style ones.
func Logger() *slog.Logger {
	return current.Load()
}
