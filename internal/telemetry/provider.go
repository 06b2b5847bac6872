package telemetry

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Provider owns an SDK meter provider whose readings can be pulled on
// demand. When disabled it hands out no-op instruments.
type Provider struct {
	Metrics *Metrics
	reader  *sdkmetric.ManualReader
	mp      *sdkmetric.MeterProvider
}

// Point is one flattened measurement.
type Point struct {
	Name      string  `json:"name"`
	ProjectID string  `json:"project_id,omitempty"`
	Value     float64 `json:"value"`
	// Count is set for histograms; Value then holds the sum.
	Count uint64 `json:"count,omitempty"`
}

// Init sets up metrics. If enabled is false, returns a no-op provider.
func Init(enabled bool) (*Provider, error) {
	if !enabled {
		return &Provider{Metrics: Noop()}, nil
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return &Provider{Metrics: m, reader: reader, mp: mp}, nil
}

// Enabled reports whether measurements are being kept.
func (p *Provider) Enabled() bool {
	return p.reader != nil
}

// Snapshot collects the current readings, sorted by name then project.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	if p.reader == nil {
		return nil, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	var points []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, ProjectID: project(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, ProjectID: project(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Name != points[j].Name {
			return points[i].Name < points[j].Name
		}
		return points[i].ProjectID < points[j].ProjectID
	})
	return points, nil
}

// Shutdown flushes and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.mp == nil {
		return nil
	}
	return p.mp.Shutdown(ctx)
}

func project(set attribute.Set) string {
	v, ok := set.Value("project_id")
	if !ok {
		return ""
	}
	return v.AsString()
}
