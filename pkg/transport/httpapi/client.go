// Package httpapi delivers queued requests to the backend REST API over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/logger"
	"github.com/kinesphere/resync/pkg/queue"
	"github.com/kinesphere/resync/pkg/store"
)

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     queue.Method
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap lets callers match any delivery failure with errors.Is.
func (e *StatusError) Unwrap() error {
	return constants.ErrDeliveryFailed
}

type Client struct {
	BaseURL string

	httpClient  *http.Client
	credentials store.Store
	logger      logger.Logger
}

var _ queue.Transport = (*Client)(nil)

// New creates a Client. When credentials is non-nil the token stored under
// constants.CredentialKey is sent as a bearer token on every request.
func New(baseURL string, credentials store.Store) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeout, // Set a default timeout to avoid hanging requests
		},
		logger: logger.Nop(),
	}
}

func (c *Client) SetTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

func (c *Client) SetHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

func (c *Client) SetLogger(l logger.Logger) *Client {
	c.logger = l
	return c
}

// Attempt sends one request. A 2xx response is success; any other status or a
// transport error is returned.
func (c *Client) Attempt(ctx context.Context, endpoint string, method queue.Method, payload json.RawMessage) error {
	if c.BaseURL == "" {
		return constants.ErrNoBaseURL
	}

	var body io.Reader = http.NoBody
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method.String(), c.BaseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("httpapi: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpapi: error making HTTP request: %w: %w", constants.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.logger.Debug("httpapi.Client request rejected", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
	return &StatusError{
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(respBytes)),
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.credentials == nil {
		return "", nil
	}
	token, err := c.credentials.Get(ctx, constants.CredentialKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("httpapi: failed to read credential: %w", err)
	}
	return token, nil
}
