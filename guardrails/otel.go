package guardrails

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/E4Itraining/AIOBS-sub000/guardrails"

// instruments OTel 指标
type instruments struct {
	tracer trace.Tracer

	decisionTotal metric.Int64Counter
	classTotal    metric.Int64Counter
	failureTotal  metric.Int64Counter
	evalDuration  metric.Float64Histogram
	incidentTotal metric.Int64Counter
}

func newInstruments(tracer trace.Tracer, meter metric.Meter) (*instruments, error) {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	in := &instruments{tracer: tracer}

	var err error
	in.decisionTotal, err = meter.Int64Counter("guardrails.decision.total",
		metric.WithDescription("Total number of guardrail decisions"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	in.classTotal, err = meter.Int64Counter("guardrails.class.total",
		metric.WithDescription("Per threat class evaluations"),
		metric.WithUnit("{evaluation}"))
	if err != nil {
		return nil, err
	}

	in.failureTotal, err = meter.Int64Counter("guardrails.detector.failure.total",
		metric.WithDescription("Detector errors and timeouts"),
		metric.WithUnit("{failure}"))
	if err != nil {
		return nil, err
	}

	in.incidentTotal, err = meter.Int64Counter("guardrails.incident.total",
		metric.WithDescription("Incidents recorded"),
		metric.WithUnit("{incident}"))
	if err != nil {
		return nil, err
	}

	in.evalDuration, err = meter.Float64Histogram("guardrails.evaluate.duration",
		metric.WithDescription("Evaluation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25))
	if err != nil {
		return nil, err
	}

	return in, nil
}

func (in *instruments) recordOutcome(ctx context.Context, out *Outcome, latency time.Duration) {
	in.decisionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", string(out.Direction)),
		attribute.String("recommendation", string(out.Recommendation)),
		attribute.Bool("exempted", out.Exempted),
	))
	in.evalDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(
		attribute.String("direction", string(out.Direction)),
	))
	for _, class := range out.Order {
		co := out.Classes[class]
		if co == nil {
			continue
		}
		in.classTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("class", string(class)),
			attribute.String("recommendation", string(co.Recommendation)),
		))
		if co.Technique == TechniqueDetectorError || co.Technique == TechniqueDetectorTimeout {
			in.failureTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("class", string(class)),
				attribute.String("kind", co.Technique),
			))
		}
	}
	if out.Incident != nil {
		in.incidentTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("class", string(out.Incident.Class)),
			attribute.String("severity", string(out.Incident.Severity)),
		))
	}
}
