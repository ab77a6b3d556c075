package otel

import (
	"time"

	"go.opentelemetry.io/otel"
	hostmetrics "go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
)

// StartRuntimeMetrics starts Go runtime metrics (heap, GC, goroutines) and
// host metrics (CPU, memory, network) on the global meter provider.
// readInterval bounds how often runtime.ReadMemStats may run; zero means 30s.
func StartRuntimeMetrics(readInterval time.Duration) error {
	if readInterval <= 0 {
		readInterval = 30 * time.Second
	}
	mp := otel.GetMeterProvider()

	if err := runtime.Start(
		runtime.WithMeterProvider(mp),
		runtime.WithMinimumReadMemStatsInterval(readInterval),
	); err != nil {
		return err
	}

	return hostmetrics.Start(hostmetrics.WithMeterProvider(mp))
}
