// Package telemetry wires the ProposalEngine's acceptance bookkeeping
// into OpenTelemetry metrics, grounded on the teacher's observability
// provider (pkg/observability) but scoped down to what an offline
// batch sampler needs: there is no OTLP collector to ship spans to
// during a single-process inversion run, so this exports counters to
// stdout instead of over gRPC, keeping the same SDK and instrument
// API the teacher uses.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider owns the meter provider and the two counters
// moves_proposed_total / moves_accepted_total that mirror the
// ProposalEngine's in-memory bookkeeping (§4.4/[EXPANDED]).
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	movesProposed metric.Int64Counter
	movesAccepted metric.Int64Counter
}

// New builds a Provider that exports to stdout, suitable for an
// offline CLI run with no metrics backend configured. Passing
// enabled=false returns a Provider whose Record* calls are no-ops,
// for tests and for --verbosity levels that skip metrics entirely.
func New(enabled bool) (*Provider, error) {
	if !enabled {
		return &Provider{}, nil
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: new exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	meter := mp.Meter("aeminvert")

	proposed, err := meter.Int64Counter("moves_proposed_total",
		metric.WithDescription("proposals made, labeled by move kind and depth"),
		metric.WithUnit("{move}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: moves_proposed_total: %w", err)
	}
	accepted, err := meter.Int64Counter("moves_accepted_total",
		metric.WithDescription("proposals accepted, labeled by move kind and depth"),
		metric.WithUnit("{move}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: moves_accepted_total: %w", err)
	}

	return &Provider{
		meterProvider: mp,
		movesProposed: proposed,
		movesAccepted: accepted,
	}, nil
}

// RecordProposed increments moves_proposed_total for one move kind at
// one tree depth.
func (p *Provider) RecordProposed(ctx context.Context, kind string, depth int) {
	if p.movesProposed == nil {
		return
	}
	p.movesProposed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("move", kind), attribute.Int("depth", depth),
	))
}

// RecordAccepted increments moves_accepted_total for one move kind at
// one tree depth.
func (p *Provider) RecordAccepted(ctx context.Context, kind string, depth int) {
	if p.movesAccepted == nil {
		return
	}
	p.movesAccepted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("move", kind), attribute.Int("depth", depth),
	))
}

// Shutdown flushes and releases the underlying meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
