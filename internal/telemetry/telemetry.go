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

// Package telemetry exposes the core's OTel instruments: sector I/O counts,
// page faults by resolution kind, evictions, swap activity, free-sector
// gauge, and syscall counts/latency/errors. The instruments live on a
// *Handle rather than a package-level meter. No package outside this one
// builds a Handle or records against it.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Handle bundles every instrument a kernel subsystem might record against.
type Handle struct {
	SectorReads  metric.Int64Counter
	SectorWrites metric.Int64Counter

	PageFaults metric.Int64Counter // attribute "location": in_frame/in_file/in_swap/zero
	Evictions  metric.Int64Counter
	SwapIns    metric.Int64Counter
	SwapOuts   metric.Int64Counter

	FreeSectors metric.Int64ObservableGauge

	SyscallCount    metric.Int64Counter
	SyscallErrors   metric.Int64Counter
	SyscallDuration metric.Float64Histogram
}

// New builds a Handle from a meter, naming every instrument with the
// "corefs." prefix the way the teacher's metrics package namespaces its own
// FUSE-op instruments.
func New(meter metric.Meter) (*Handle, error) {
	h := &Handle{}
	var err error

	if h.SectorReads, err = meter.Int64Counter("corefs.sector.reads",
		metric.WithDescription("Number of block device sector reads.")); err != nil {
		return nil, fmt.Errorf("telemetry: sector.reads: %w", err)
	}
	if h.SectorWrites, err = meter.Int64Counter("corefs.sector.writes",
		metric.WithDescription("Number of block device sector writes.")); err != nil {
		return nil, fmt.Errorf("telemetry: sector.writes: %w", err)
	}
	if h.PageFaults, err = meter.Int64Counter("corefs.vm.page_faults",
		metric.WithDescription("Page faults resolved, by source location.")); err != nil {
		return nil, fmt.Errorf("telemetry: vm.page_faults: %w", err)
	}
	if h.Evictions, err = meter.Int64Counter("corefs.vm.evictions",
		metric.WithDescription("Frames reclaimed by the clock evictor.")); err != nil {
		return nil, fmt.Errorf("telemetry: vm.evictions: %w", err)
	}
	if h.SwapIns, err = meter.Int64Counter("corefs.vm.swap_ins",
		metric.WithDescription("Pages read back in from swap.")); err != nil {
		return nil, fmt.Errorf("telemetry: vm.swap_ins: %w", err)
	}
	if h.SwapOuts, err = meter.Int64Counter("corefs.vm.swap_outs",
		metric.WithDescription("Pages written out to swap.")); err != nil {
		return nil, fmt.Errorf("telemetry: vm.swap_outs: %w", err)
	}
	if h.SyscallCount, err = meter.Int64Counter("corefs.syscall.count",
		metric.WithDescription("Syscalls dispatched, by number.")); err != nil {
		return nil, fmt.Errorf("telemetry: syscall.count: %w", err)
	}
	if h.SyscallErrors, err = meter.Int64Counter("corefs.syscall.errors",
		metric.WithDescription("Syscalls that returned a failure result.")); err != nil {
		return nil, fmt.Errorf("telemetry: syscall.errors: %w", err)
	}
	if h.SyscallDuration, err = meter.Float64Histogram("corefs.syscall.duration_ms",
		metric.WithDescription("Syscall dispatch latency in milliseconds.")); err != nil {
		return nil, fmt.Errorf("telemetry: syscall.duration_ms: %w", err)
	}

	return h, nil
}

// RegisterFreeSectors wires an observable gauge that calls free on demand,
// used instead of a plain counter since free-sector count only makes sense
// as a point-in-time sample, not something telemetry increments/decrements
// itself.
func (h *Handle) RegisterFreeSectors(meter metric.Meter, free func() int64) error {
	gauge, err := meter.Int64ObservableGauge("corefs.freemap.free_sectors",
		metric.WithDescription("Sectors currently unallocated on the filesystem device."))
	if err != nil {
		return fmt.Errorf("telemetry: freemap.free_sectors: %w", err)
	}
	h.FreeSectors = gauge

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, free())
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("telemetry: registering freemap.free_sectors callback: %w", err)
	}
	return nil
}

// NewNoopHandle builds a Handle whose instruments discard every
// measurement, for tests that want to exercise instrumented code paths
// without standing up a real exporter.
func NewNoopHandle() *Handle {
	h, err := New(noop.NewMeterProvider().Meter("corefs"))
	if err != nil {
		panic(fmt.Sprintf("telemetry: building noop handle: %v", err))
	}
	return h
}
