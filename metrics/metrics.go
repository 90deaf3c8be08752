// Package metrics records login flow counters on the global OpenTelemetry meter provider.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/getlantern/oauthpopup"

// Manager holds the login flow instruments.
type Manager struct {
	launches metric.Int64Counter
	outcomes metric.Int64Counter
	probes   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewManager creates the flow instruments on mp. Instruments that fail to register fall back to
// noop ones.
func NewManager(mp metric.MeterProvider) *Manager {
	meter := mp.Meter(meterName)
	launches, err := meter.Int64Counter("oauthpopup.launches", metric.WithDescription("Popups opened"))
	if err != nil {
		launches = noop.Int64Counter{}
	}
	outcomes, err := meter.Int64Counter("oauthpopup.outcomes", metric.WithDescription("Finished login flows by outcome"))
	if err != nil {
		outcomes = noop.Int64Counter{}
	}
	probes, err := meter.Int64Counter("oauthpopup.probes", metric.WithDescription("Popup probes by classification"))
	if err != nil {
		probes = noop.Int64Counter{}
	}
	duration, err := meter.Float64Histogram("oauthpopup.flow_duration",
		metric.WithDescription("Time from popup open to flow end"),
		metric.WithUnit("s"))
	if err != nil {
		duration = noop.Float64Histogram{}
	}
	return &Manager{
		launches: launches,
		outcomes: outcomes,
		probes:   probes,
		duration: duration,
	}
}

// Default returns a manager bound to the meter provider that is global at call time.
func Default() *Manager {
	return NewManager(otel.GetMeterProvider())
}

func (m *Manager) Launched(ctx context.Context) {
	m.launches.Add(ctx, 1)
}

func (m *Manager) Probed(ctx context.Context, classification string) {
	m.probes.Add(ctx, 1, metric.WithAttributes(attribute.String("classification", classification)))
}

// Finished records a flow ending with outcome after running for elapsed.
func (m *Manager) Finished(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.outcomes.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
