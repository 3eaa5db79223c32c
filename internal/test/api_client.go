package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/auth"

	"github.com/google/uuid"
)

// APIClient calls the session API on behalf of arbitrary users, signing a
// fresh bearer token for every request.
type APIClient struct {
	baseURL  string
	client   *http.Client
	verifier *auth.Verifier
}

func NewAPIClient(baseURL string, client *http.Client, verifier *auth.Verifier) *APIClient {
	return &APIClient{baseURL: baseURL, client: client, verifier: verifier}
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r Response) Decode(target any) error {
	return json.Unmarshal(r.Body, target)
}

type RequestOption func(*http.Request)

func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// Do sends body as JSON. A non-nil userID is sent as a freshly signed bearer
// token.
func (c *APIClient) Do(
	ctx context.Context,
	userID uuid.UUID,
	method, path string,
	body any,
	opts ...RequestOption,
) (Response, error) {
	var payload io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Response{}, err
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	if userID != uuid.Nil {
		token, err := c.verifier.Sign(userID, time.Minute)
		if err != nil {
			return Response{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: responseBody}, nil
}
