package main

import (
	"context"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// setupTelemetry installs a metric provider backed by a manual reader so
// the final instrument values can be dumped at shutdown. There is no
// push exporter; metrics are pull-only like the rest of the reporting.
func setupTelemetry() *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("iotrace")),
	)
	if err != nil {
		res = resource.Default()
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return reader
}

// dumpMetrics logs every int64 sum instrument the pipeline registered.
func dumpMetrics(reader *sdkmetric.ManualReader, logger *zap.Logger) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		logger.Warn("Failed to collect metrics", zap.Error(err))
		return
	}

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			logger.Info("metric",
				zap.String("name", m.Name),
				zap.Int64("value", total),
			)
		}
	}
}
