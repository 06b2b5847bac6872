// Package telemetry holds the OpenTelemetry instruments recorded by the
// work loop. Instruments come from the global meter provider, which is a
// no-op until a process installs an SDK provider.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/ShayCichocki/foreman"

// Metrics holds all foreman metric instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	Admissions         metric.Int64Counter
	CapacityRejections metric.Int64Counter
	Releases           metric.Int64Counter
	ActiveAgents       metric.Int64UpDownCounter
	Cycles             metric.Int64Counter
	CycleErrors        metric.Int64Counter
	CycleDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Admissions, err = meter.Int64Counter("foreman.workloop.admissions",
		metric.WithDescription("Agent runs admitted by the work loop coordinator"),
	)
	if err != nil {
		return nil, err
	}

	m.CapacityRejections, err = meter.Int64Counter("foreman.workloop.capacity_rejections",
		metric.WithDescription("Dispatch attempts rejected because the project was at max_agents"),
	)
	if err != nil {
		return nil, err
	}

	m.Releases, err = meter.Int64Counter("foreman.workloop.releases",
		metric.WithDescription("Agent slots released"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveAgents, err = meter.Int64UpDownCounter("foreman.workloop.active_agents",
		metric.WithDescription("Number of currently admitted agent runs"),
	)
	if err != nil {
		return nil, err
	}

	m.Cycles, err = meter.Int64Counter("foreman.driver.cycles",
		metric.WithDescription("Work loop cycles run by the driver"),
	)
	if err != nil {
		return nil, err
	}

	m.CycleErrors, err = meter.Int64Counter("foreman.driver.cycle_errors",
		metric.WithDescription("Work loop cycles that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.CycleDuration, err = meter.Float64Histogram("foreman.driver.cycle.duration",
		metric.WithDescription("Work loop cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Global returns instruments from the global meter provider. It falls back
// to no-op instruments if the provider refuses to create them.
func Global() *Metrics {
	m, err := NewMetrics(otel.Meter(meterName))
	if err != nil {
		return Noop()
	}
	return m
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func projectAttr(projectID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("project_id", projectID))
}

// Admitted records a slot admission.
func (m *Metrics) Admitted(ctx context.Context, projectID string) {
	if m == nil {
		return
	}
	m.Admissions.Add(ctx, 1, projectAttr(projectID))
	m.ActiveAgents.Add(ctx, 1, projectAttr(projectID))
}

// Rejected records a capacity rejection.
func (m *Metrics) Rejected(ctx context.Context, projectID string) {
	if m == nil {
		return
	}
	m.CapacityRejections.Add(ctx, 1, projectAttr(projectID))
}

// Released records a slot release.
func (m *Metrics) Released(ctx context.Context, projectID string) {
	if m == nil {
		return
	}
	m.Releases.Add(ctx, 1, projectAttr(projectID))
	m.ActiveAgents.Add(ctx, -1, projectAttr(projectID))
}

// CycleFinished records one driver cycle.
func (m *Metrics) CycleFinished(ctx context.Context, projectID string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.Cycles.Add(ctx, 1, projectAttr(projectID))
	m.CycleDuration.Record(ctx, elapsed.Seconds(), projectAttr(projectID))
	if err != nil {
		m.CycleErrors.Add(ctx, 1, projectAttr(projectID))
	}
}
