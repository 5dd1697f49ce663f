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

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopHandleInstrumentsAreUsable(t *testing.T) {
	h := NewNoopHandle()
	ctx := context.Background()

	require.NotPanics(t, func() {
		h.SectorReads.Add(ctx, 1)
		h.SectorWrites.Add(ctx, 1)
		h.PageFaults.Add(ctx, 1)
		h.Evictions.Add(ctx, 1)
		h.SwapIns.Add(ctx, 1)
		h.SwapOuts.Add(ctx, 1)
		h.SyscallCount.Add(ctx, 1)
		h.SyscallErrors.Add(ctx, 1)
		h.SyscallDuration.Record(ctx, 1.5)
	})
}

func TestNewProviderBuildsAWorkingHandle(t *testing.T) {
	p, h, err := NewProvider()
	require.NoError(t, err)
	require.NotNil(t, h)
	defer p.Shutdown()

	require.NotPanics(t, func() {
		h.SectorReads.Add(context.Background(), 1)
	})
}
