// Copyright 2023 Google Inc. All Rights Reserved.
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

package logger

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/oslab/corefs/cfg"
	"github.com/stretchr/testify/suite"
)

const (
	textTraceString = `time=\S+ severity=TRACE message=.*TestLogs:`
	jsonTraceString = `"severity":"TRACE","message":"TestLogs:`
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func (t *LoggerTest) TestTextFormatEmitsTraceSeverity() {
	var buf bytes.Buffer
	l := build(cfg.LoggingConfig{Severity: cfg.TraceLogSeverity, Format: cfg.TextLogFormat}, &buf)

	l.Log(nil, levelTrace, "TestLogs: hello")

	t.Regexp(regexp.MustCompile(textTraceString), buf.String())
}

func (t *LoggerTest) TestJSONFormatEmitsTraceSeverity() {
	var buf bytes.Buffer
	l := build(cfg.LoggingConfig{Severity: cfg.TraceLogSeverity, Format: cfg.JSONLogFormat}, &buf)

	l.Log(nil, levelTrace, "TestLogs: hello")

	t.Regexp(regexp.MustCompile(jsonTraceString), buf.String())
}

func (t *LoggerTest) TestSeverityBelowThresholdIsSuppressed() {
	var buf bytes.Buffer
	l := build(cfg.LoggingConfig{Severity: cfg.InfoLogSeverity, Format: cfg.TextLogFormat}, &buf)

	l.Log(nil, levelTrace, "TestLogs: should not appear")
	l.Debug("TestLogs: should not appear either")

	t.Empty(buf.String())
}
