// Copyright 2026 The Signet Authors
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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Get meter from global meter provider
	// In production, configure a proper meter provider with exporters
	meter := otel.Meter(serviceName)

	return &Meter{
		meter: meter,
	}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// CreateUpDownCounter creates a new up/down counter metric
func (m *Meter) CreateUpDownCounter(name, description string) (metric.Int64UpDownCounter, error) {
	counter, err := m.meter.Int64UpDownCounter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create up/down counter %s: %w", name, err)
	}
	return counter, nil
}

// TokenMetrics bundles the instruments recorded on the token endpoints.
type TokenMetrics struct {
	issued         metric.Int64Counter
	rejected       metric.Int64Counter
	introspections metric.Int64Counter
}

// NewTokenMetrics creates the token endpoint instrument set.
func NewTokenMetrics(m *Meter) (*TokenMetrics, error) {
	issued, err := m.CreateCounter("signet_tokens_issued_total", "Access tokens issued, by grant type")
	if err != nil {
		return nil, err
	}
	rejected, err := m.CreateCounter("signet_token_rejections_total", "Token requests rejected, by error code")
	if err != nil {
		return nil, err
	}
	introspections, err := m.CreateCounter("signet_introspections_total", "Introspection requests, by result")
	if err != nil {
		return nil, err
	}
	return &TokenMetrics{
		issued:         issued,
		rejected:       rejected,
		introspections: introspections,
	}, nil
}

// TokenIssued records a successful token issuance. Safe on a nil receiver.
func (t *TokenMetrics) TokenIssued(ctx context.Context, grantType string) {
	if t == nil {
		return
	}
	t.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grantType)))
}

// TokenRejected records a rejected token request. Safe on a nil receiver.
func (t *TokenMetrics) TokenRejected(ctx context.Context, errorCode string) {
	if t == nil {
		return
	}
	t.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("error", errorCode)))
}

// Introspected records an introspection and its outcome. Safe on a nil receiver.
func (t *TokenMetrics) Introspected(ctx context.Context, active bool) {
	if t == nil {
		return
	}
	t.introspections.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}
