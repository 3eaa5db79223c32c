package core

import (
	"context"
	"fmt"
	"time"

	"github.com/eskrenkovic/mediator-go"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ mediator.PipelineBehavior = (*RequestLoggingBehavior)(nil)

type RequestLoggingBehavior struct {
	Logger *zap.Logger
}

func (b *RequestLoggingBehavior) Handle(
	ctx context.Context,
	request interface{},
	next mediator.RequestHandlerFunc,
) (interface{}, error) {
	logFields := []zap.Field{zap.String("request_type", fmt.Sprintf("%T", request))}

	if correlationID := CorrelationID(ctx); correlationID != "" {
		logFields = append(logFields, zap.String("correlation_id", correlationID))
	}

	if userID := Session(ctx).UserID; userID != uuid.Nil {
		logFields = append(logFields, zap.String("user_id", userID.String()))
	}

	if request != nil {
		logFields = append(logFields, zap.Any("request_body", request))
	}

	b.Logger.Info("processing request", logFields...)

	start := time.Now()
	response, err := next(ctx, request)

	b.Logger.Debug("processed request", append(logFields, zap.Duration("elapsed", time.Since(start)))...)

	return response, err
}

var _ mediator.PipelineBehavior = (*HandlerErrorLoggingBehavior)(nil)

// HandlerErrorLoggingBehavior logs server side failures at error level and
// client errors (4xx command errors) at info.
type HandlerErrorLoggingBehavior struct {
	Logger *zap.Logger
}

func (b *HandlerErrorLoggingBehavior) Handle(
	ctx context.Context,
	request interface{},
	next mediator.RequestHandlerFunc,
) (interface{}, error) {
	response, err := next(ctx, request)
	if err == nil {
		return response, nil
	}

	fields := []zap.Field{
		zap.String("request_type", fmt.Sprintf("%T", request)),
		zap.String("correlation_id", CorrelationID(ctx)),
		zap.Error(err),
	}

	if commandErr, ok := AsCommandError(err); ok && commandErr.StatusCode < 500 {
		b.Logger.Info("handler rejected request", append(fields, zap.Int("status_code", commandErr.StatusCode))...)
		return response, err
	}

	b.Logger.Error("handler returned error", fields...)

	return response, err
}
