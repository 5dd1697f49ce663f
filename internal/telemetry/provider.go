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
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider owns the SDK meter provider and the Prometheus exporter that
// backs it; Shutdown flushes and releases both at process exit.
type Provider struct {
	mp *sdkmetric.MeterProvider
}

// NewProvider builds a meter provider whose registry is scraped by
// Prometheus, returning the ready-to-use Handle alongside it.
func NewProvider() (*Provider, *Handle, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: creating prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	handle, err := New(mp.Meter("corefs"))
	if err != nil {
		return nil, nil, err
	}
	return &Provider{mp: mp}, handle, nil
}

func (p *Provider) Shutdown() error {
	return p.mp.Shutdown(context.Background())
}
