package paging

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/ghuser/pokedex/services/pokemon/application/paging"

var tracer = otel.Tracer(instrumentationName)

// mediatorMetrics holds the OTel instruments recorded by RemoteMediator.
// Instruments resolve against the global MeterProvider configured by pkg/telemetry.
type mediatorMetrics struct {
	fetches  metric.Int64Counter
	merged   metric.Int64Counter
	failures metric.Int64Counter
	terminal metric.Int64Counter
}

func newMediatorMetrics() *mediatorMetrics {
	meter := otel.Meter(instrumentationName)
	return &mediatorMetrics{
		fetches:  counter(meter, "pokedex.mediator.remote_fetches", "Remote page fetches issued by the mediator"),
		merged:   counter(meter, "pokedex.mediator.merged_items", "Pokemon rows written by mediator merges"),
		failures: counter(meter, "pokedex.mediator.failures", "Mediator loads that ended in an error"),
		terminal: counter(meter, "pokedex.mediator.terminal", "Mediator loads resolved as end of pagination"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (m *mediatorMetrics) add(ctx context.Context, c metric.Int64Counter, n int, loadType LoadType) {
	c.Add(ctx, int64(n), metric.WithAttributes(attribute.String("load_type", loadType.String())))
}
