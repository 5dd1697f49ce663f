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

func TestOctalUnmarshalParsesBaseEight(t *testing.T) {
	var o Octal
	require.NoError(t, o.UnmarshalText([]byte("644")))
	assert.EqualValues(t, 0644, o)
}

func TestOctalStringRendersBaseEight(t *testing.T) {
	o := Octal(0755)
	assert.Equal(t, "755", o.String())
}

func TestLogSeverityUnmarshalUppercasesAndValidates(t *testing.T) {
	var s LogSeverity
	require.NoError(t, s.UnmarshalText([]byte("warning")))
	assert.Equal(t, WarningLogSeverity, s)

	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}

func TestLogSeverityRankOrdersBySeverity(t *testing.T) {
	assert.Less(t, TraceLogSeverity.Rank(), DebugLogSeverity.Rank())
	assert.Less(t, ErrorLogSeverity.Rank(), OffLogSeverity.Rank())
}

func TestLogFormatUnmarshalRejectsUnknownFormat(t *testing.T) {
	var f LogFormat
	assert.Error(t, f.UnmarshalText([]byte("xml")))
	require.NoError(t, f.UnmarshalText([]byte("JSON")))
	assert.Equal(t, JSONLogFormat, f)
}

func TestSectorCountUnmarshalRejectsNegative(t *testing.T) {
	var s SectorCount
	assert.Error(t, s.UnmarshalText([]byte("-1")))
	require.NoError(t, s.UnmarshalText([]byte("42")))
	assert.EqualValues(t, 42, s)
}

func TestIsValidSectorSize(t *testing.T) {
	assert.True(t, isValidSectorSize(512))
	assert.True(t, isValidSectorSize(4096))
	assert.False(t, isValidSectorSize(513))
}
