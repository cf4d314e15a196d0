// Package metrics wires the process-wide OpenTelemetry meter provider to
// a Prometheus exporter, exactly the way the teacher's pkg/metrics does
// for its API process: one /metrics HTTP endpoint, one global meter
// provider, every component's instruments registered against it.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/aggregation"

	"go.opentelemetry.io/otel/metric/global"
)

// BaseAttrs carries attributes every exported metric should include,
// set once by SetupInstrumentation.
var BaseAttrs []attribute.KeyValue

// SetupInstrumentation installs the global meter provider backed by a
// Prometheus exporter and serves it on prometheusAddr.
func SetupInstrumentation(prometheusAddr string, serviceName string) error {
	BaseAttrs = []attribute.KeyValue{attribute.String("service_name", serviceName)}

	exporter, err := otelprom.New(otelprom.WithAggregationSelector(aggregatorSelector))
	if err != nil {
		return fmt.Errorf("creating prometheus exporter: %s", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	global.SetMeterProvider(provider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(prometheusAddr, mux) //nolint
	}()

	return nil
}

// aggregatorSelector mirrors the teacher's bucket choices: sums for
// counters, last-value for gauges, and a histogram bucket layout sized
// for sub-second to multi-second window durations (this indexer's
// longest-running instrument).
func aggregatorSelector(ik sdkmetric.InstrumentKind) aggregation.Aggregation {
	switch ik {
	case sdkmetric.InstrumentKindCounter, sdkmetric.InstrumentKindUpDownCounter,
		sdkmetric.InstrumentKindObservableCounter, sdkmetric.InstrumentKindObservableUpDownCounter:
		return aggregation.Sum{}
	case sdkmetric.InstrumentKindObservableGauge:
		return aggregation.LastValue{}
	case sdkmetric.InstrumentKindHistogram:
		return aggregation.ExplicitBucketHistogram{
			Boundaries: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			NoMinMax:   false,
		}
	}
	panic("unknown instrument kind")
}
