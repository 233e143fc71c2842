package indexer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "accumreg/indexer"

type syncMetrics struct {
	blocks   metric.Int64Counter
	events   metric.Int64Counter
	failures metric.Int64Counter
}

func newSyncMetrics(meter metric.Meter) *syncMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	fallback := noop.NewMeterProvider().Meter(meterName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return &syncMetrics{
		blocks:   counter("accumreg.indexer.blocks", "Blocks copied into the index."),
		events:   counter("accumreg.indexer.events", "Events copied into the index."),
		failures: counter("accumreg.indexer.sync_failures", "Sync passes that stopped on an error."),
	}
}

func (m *syncMetrics) recordBlock(ctx context.Context, cursor string, events int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("cursor", cursor))
	m.blocks.Add(ctx, 1, attrs)
	if events > 0 {
		m.events.Add(ctx, int64(events), attrs)
	}
}

func (m *syncMetrics) recordFailure(ctx context.Context, cursor string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("cursor", cursor)))
}
