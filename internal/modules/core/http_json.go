package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

func RequestBody[TRequest any](r *http.Request) (TRequest, error) {
	var request TRequest
	if r.Body == nil || r.ContentLength == 0 {
		return request, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return request, fmt.Errorf("invalid request body: %w", err)
	}

	return request, nil
}

type ResponseOption func(http.ResponseWriter, *http.Request)

func WithHeader(header, value string) ResponseOption {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add(header, value)
	}
}

func WriteOK(w http.ResponseWriter, r *http.Request, body interface{}) {
	WriteResponse(w, r, http.StatusOK, body)
}

func WriteCreated(w http.ResponseWriter, r *http.Request, location string, body interface{}, opts ...ResponseOption) {
	opts = append(opts, WithHeader("Location", location))
	WriteResponse(w, r, http.StatusCreated, body, opts...)
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	WriteCommandError(w, r, NewCommandError(http.StatusBadRequest, err, WithReason("bad request")))
}

func WriteUnauthorized(w http.ResponseWriter, r *http.Request, err error) {
	WriteCommandError(w, r, NewCommandError(http.StatusUnauthorized, err, WithReason("unauthorized")))
}

// WriteCommandError reports CommandErrors with their own status code. Any
// other error is logged and hidden behind a 500. Server side failures keep
// their status and reason but the underlying error is only logged.
func WriteCommandError(w http.ResponseWriter, r *http.Request, err error, opts ...ResponseOption) {
	commandErr, ok := AsCommandError(err)
	switch {
	case !ok:
		LogError(r.Context(), "unhandled error", zap.Error(err))
		commandErr = NewCommandError(http.StatusInternalServerError, nil, WithReason("internal server error"))
	case commandErr.StatusCode >= http.StatusInternalServerError && commandErr.Payload != nil:
		LogError(r.Context(), "request failed", zap.Int("status_code", commandErr.StatusCode), zap.Error(err))
		commandErr.Payload = nil
	}

	WriteResponse(w, r, commandErr.StatusCode, commandErr, opts...)
}

func WriteResponse(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	body interface{},
	opts ...ResponseOption,
) {
	for _, opt := range opts {
		opt(w, r)
	}

	if body != nil {
		w.Header().Set("Content-Type", "application/json")
	}

	w.WriteHeader(statusCode)
	writeBodyIfPresent(r.Context(), w, body)
}

func writeBodyIfPresent(ctx context.Context, w http.ResponseWriter, body interface{}) {
	if body == nil {
		return
	}

	responseBytes, err := json.Marshal(body)
	if err != nil {
		LogError(ctx, "failed to serialize response", zap.Error(err))
		return
	}

	if _, err := w.Write(responseBytes); err != nil {
		LogError(ctx, "failed to write response", zap.Error(err))
	}
}
