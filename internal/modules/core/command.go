package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CommandError carries the HTTP status a handler failure should be reported
// with. Payload is usually the underlying error.
type CommandError struct {
	Payload    interface{}
	StatusCode int
	Reason     *string
}

type CommandErrorOption func(*CommandError)

func WithReason(reason string) CommandErrorOption {
	return func(e *CommandError) {
		e.Reason = &reason
	}
}

func NewCommandError(statusCode int, payload interface{}, opts ...CommandErrorOption) CommandError {
	e := CommandError{
		StatusCode: statusCode,
		Payload:    payload,
	}

	for _, opt := range opts {
		opt(&e)
	}

	return e
}

func (r CommandError) Error() string {
	var values struct {
		Payload    interface{}
		StatusCode int
		Reason     string
	}

	values.Payload = r.Payload
	values.StatusCode = r.StatusCode

	if r.Reason != nil {
		values.Reason = *r.Reason
	}

	return fmt.Sprintf("%+v", values)
}

func (r CommandError) Unwrap() error {
	err, _ := r.Payload.(error)
	return err
}

func (r CommandError) MarshalJSON() ([]byte, error) {
	body := struct {
		StatusCode int         `json:"status_code"`
		Reason     string      `json:"reason,omitempty"`
		Error      interface{} `json:"error,omitempty"`
	}{
		StatusCode: r.StatusCode,
		Error:      r.Payload,
	}

	if r.Reason != nil {
		body.Reason = *r.Reason
	}

	if err, ok := r.Payload.(error); ok {
		body.Error = err.Error()
	}

	return json.Marshal(body)
}

// AsCommandError reports the first CommandError in err's chain.
func AsCommandError(err error) (CommandError, bool) {
	var commandErr CommandError
	if errors.As(err, &commandErr) {
		return commandErr, true
	}
	return CommandError{}, false
}
