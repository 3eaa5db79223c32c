package core

import (
	"context"
	"fmt"

	"github.com/eskrenkovic/mediator-go"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/eskrenkovic/meetup-sessions/internal/modules/core"

var _ mediator.PipelineBehavior = (*TracingBehavior)(nil)

// TracingBehavior wraps every request in a span. Without a configured
// provider the global tracer is a no-op.
type TracingBehavior struct {
	Tracer trace.Tracer
}

func (b *TracingBehavior) Handle(
	ctx context.Context,
	request interface{},
	next mediator.RequestHandlerFunc,
) (interface{}, error) {
	tracer := b.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	requestType := fmt.Sprintf("%T", request)

	ctx, span := tracer.Start(ctx, requestType, trace.WithAttributes(
		attribute.String("mediator.request_type", requestType),
		attribute.String("correlation_id", CorrelationID(ctx)),
	))
	defer span.End()

	response, err := next(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if commandErr, ok := AsCommandError(err); ok {
			span.SetAttributes(attribute.Int("command.status_code", commandErr.StatusCode))
		}
	}

	return response, err
}
