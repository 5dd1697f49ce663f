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

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, input map[string]interface{}, out interface{}) {
	t.Helper()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     out,
	})
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(input))
}

func TestDecodeHookParsesOctalCreateMode(t *testing.T) {
	var d DeviceConfig
	decode(t, map[string]interface{}{"create-mode": "644"}, &d)
	require.EqualValues(t, 0644, d.CreateMode)
}

func TestDecodeHookParsesSectorCount(t *testing.T) {
	var d DeviceConfig
	decode(t, map[string]interface{}{"num-sectors": "2048"}, &d)
	require.EqualValues(t, 2048, d.NumSectors)
}

func TestDecodeHookParsesLogSeverityCaseInsensitively(t *testing.T) {
	var l LoggingConfig
	decode(t, map[string]interface{}{"severity": "debug"}, &l)
	require.Equal(t, DebugLogSeverity, l.Severity)
}

func TestDecodeHookRejectsUnknownLogFormat(t *testing.T) {
	var l LoggingConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     &l,
	})
	require.NoError(t, err)
	require.Error(t, decoder.Decode(map[string]interface{}{"format": "xml"}))
}
