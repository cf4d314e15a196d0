package ingest

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/unit"

	"github.com/cairoindex/chainindexer/pkg/metrics"
)

// engineMetrics holds the instruments one Engine reports, grounded on
// the teacher's eventfeed.initMetrics (a per-event-type counter) plus a
// window-duration histogram this spec's window-granularity error model
// calls for.
type engineMetrics struct {
	baseAttrs       []attribute.KeyValue
	decodedCounter  instrument.Int64Counter
	windowHistogram instrument.Int64Histogram
}

func newEngineMetrics(contractAddress string) (*engineMetrics, error) {
	meter := global.MeterProvider().Meter("chainindexer")
	baseAttrs := append([]attribute.KeyValue{
		attribute.String("contract_address", contractAddress),
	}, metrics.BaseAttrs...)

	decodedCounter, err := meter.Int64Counter(
		"chainindexer.ingest.events_decoded",
		instrument.WithDescription("Number of decoded events persisted, by event type"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events_decoded counter: %s", err)
	}

	windowHistogram, err := meter.Int64Histogram(
		"chainindexer.ingest.window_duration",
		instrument.WithUnit(unit.Milliseconds),
		instrument.WithDescription("Wall-clock duration of one fetch+decode+persist window"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating window_duration histogram: %s", err)
	}

	return &engineMetrics{
		baseAttrs:       baseAttrs,
		decodedCounter:  decodedCounter,
		windowHistogram: windowHistogram,
	}, nil
}
