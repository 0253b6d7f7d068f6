package cmd

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/olp-runtime/olp/olp"
)

// setupMetrics installs a global meter provider that exports to stdout.
// When disabled, metric recording in the engine is switched off and the
// returned shutdown is a no-op.
func setupMetrics(enabled bool, interval time.Duration) (func(context.Context) error, error) {
	if !enabled {
		olp.SetMetricsEnabled(false)
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	olp.SetMetricsEnabled(true)
	return mp.Shutdown, nil
}
