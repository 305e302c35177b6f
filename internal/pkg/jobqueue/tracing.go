package jobqueue

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/carboncube/tierpay/internal/pkg/jobqueue"

// injectTrace stores the caller's trace context on the job.
func injectTrace(ctx context.Context, job *Job) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		job.Trace = carrier
	}
}

// startJobSpan continues the enqueuing trace for one processing attempt.
func startJobSpan(ctx context.Context, job *Job) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(job.Trace))
	return otel.Tracer(tracerName).Start(ctx, "jobqueue."+string(job.Type),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.Int("job.retry_count", job.RetryCount),
		),
	)
}

func endJobSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
