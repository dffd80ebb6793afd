package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EvaluationMetrics holds the OpenTelemetry instruments for license
// evaluation. All recording methods are safe on a nil receiver so metrics
// stay optional.
type EvaluationMetrics struct {
	evaluations metric.Int64Counter
	activations metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewEvaluationMetrics creates the evaluation instruments on the given meter.
func NewEvaluationMetrics(meter metric.Meter) (*EvaluationMetrics, error) {
	evaluations, err := meter.Int64Counter(
		"license_evaluations_total",
		metric.WithDescription("Total number of license evaluations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluations counter: %w", err)
	}

	activations, err := meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("Total number of first-time license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"license_evaluation_duration_seconds",
		metric.WithDescription("License evaluation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &EvaluationMetrics{
		evaluations: evaluations,
		activations: activations,
		duration:    duration,
	}, nil
}

// DefaultEvaluationMetrics creates instruments on the global meter provider.
func DefaultEvaluationMetrics() (*EvaluationMetrics, error) {
	return NewEvaluationMetrics(otel.Meter("ssblic/license"))
}

// RecordEvaluation records one completed evaluation.
func (m *EvaluationMetrics) RecordEvaluation(ctx context.Context, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("state", string(outcome.State)),
		attribute.String("tier", string(outcome.Tier)),
		attribute.String("reason", string(outcome.Reason)),
		attribute.Bool("warning", outcome.Warning),
	)
	m.evaluations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordActivation records a first-time wildcard bind.
func (m *EvaluationMetrics) RecordActivation(ctx context.Context, plan string) {
	if m == nil {
		return
	}
	m.activations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", string(TierFromPlan(plan))),
	))
}
