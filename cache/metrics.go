package cache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/goliatone/go-application-cache"

type instruments struct {
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	computes      metric.Int64Counter
	computeErrors metric.Int64Counter
	conflicts     metric.Int64Counter
	expired       metric.Int64Counter
	computeTime   metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		m   instruments
		err error
	)
	if m.hits, err = meter.Int64Counter("app_cache.hits",
		metric.WithDescription("Reads served from a live entry")); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter("app_cache.misses",
		metric.WithDescription("Reads that found no usable entry")); err != nil {
		return nil, err
	}
	if m.computes, err = meter.Int64Counter("app_cache.computes",
		metric.WithDescription("Compute callbacks invoked on a miss")); err != nil {
		return nil, err
	}
	if m.computeErrors, err = meter.Int64Counter("app_cache.compute_errors"); err != nil {
		return nil, err
	}
	if m.conflicts, err = meter.Int64Counter("app_cache.insert_conflicts",
		metric.WithDescription("Computed values discarded because another writer won the key")); err != nil {
		return nil, err
	}
	if m.expired, err = meter.Int64Counter("app_cache.expired",
		metric.WithDescription("Rows removed by explicit expiry or sweeping")); err != nil {
		return nil, err
	}
	if m.computeTime, err = meter.Float64Histogram("app_cache.compute_duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

func discAttr(d Discriminant) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("cache.discriminant", string(d)))
}

func (m *instruments) lookup(ctx context.Context, d Discriminant, hit bool) {
	if hit {
		m.hits.Add(ctx, 1, discAttr(d))
		return
	}
	m.misses.Add(ctx, 1, discAttr(d))
}
