package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/middleware"
	"github.com/MikeDominic92/keyless-kingdom/internal/api/presenter"
	"github.com/MikeDominic92/keyless-kingdom/internal/buildinfo"
)

var ErrInvalidSession = errors.New("invalid session token")

// APIError is a non-2xx response of the server.
type APIError struct {
	StatusCode    int
	CorrelationID string
	Message       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("api error %d: '%s' (correlation: %s)", e.StatusCode, e.Message, e.CorrelationID)
}

// retryable reports whether a GET may be repeated after this status.
func retryable(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) get(ctx context.Context, url string, result any) (string, error) {
	return c.call(ctx, http.MethodGet, url, nil, result)
}

func (c *Client) post(ctx context.Context, url string, payload, result any) (string, error) {
	return c.call(ctx, http.MethodPost, url, payload, result)
}

func (c *Client) put(ctx context.Context, url string, payload, result any) (string, error) {
	return c.call(ctx, http.MethodPut, url, payload, result)
}

// call sends a JSON request and decodes the response into result. GETs are
// retried on connection errors and gateway failures, everything else is sent once.
// It returns the correlation ID of the last response.
func (c *Client) call(ctx context.Context, method, url string, payload, result any) (string, error) {
	var correlation string
	attempt := func() (struct{}, error) {
		req, err := c.newJSONRequest(ctx, method, url, payload)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		var status int
		correlation, status, err = c.do(req, result)
		if err != nil && (method != http.MethodGet || (status != 0 && !retryable(status))) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	tries := c.retries + 1
	if method != http.MethodGet {
		tries = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 250 * time.Millisecond
	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(tries),
	)
	return correlation, err
}

func (c *Client) newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "keyless-client/"+buildinfo.Version)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

// do sends req and returns the correlation ID and status of the response.
// A zero status means no response was received.
func (c *Client) do(req *http.Request, result any) (string, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("connection failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	correlation := correlationFromResponse(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return correlation, resp.StatusCode, parseErrorResponse(resp)
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return correlation, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return correlation, resp.StatusCode, nil
}

func parseErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("request failed with status %d and unreadable body: %w", resp.StatusCode, err)
	}

	var errResp presenter.ErrorResponse
	if json.Unmarshal(body, &errResp) != nil || errResp.Error == "" {
		return APIError{
			StatusCode:    resp.StatusCode,
			CorrelationID: correlationFromResponse(resp),
			Message:       string(bytes.TrimSpace(body)),
		}
	}
	if errResp.Error == presenter.InvalidSessionMessage {
		return ErrInvalidSession
	}
	return APIError{
		StatusCode:    resp.StatusCode,
		CorrelationID: errResp.CorrelationID,
		Message:       errResp.Error,
	}
}

func correlationFromResponse(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Header.Get(middleware.CorrelationIDHeader)
}
