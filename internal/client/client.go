// Package client is a small HTTP client for a running cropdoctor server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	v1 "github.com/agrisol/cropdoctor/internal/api/v1"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/logger"
)

const (
	// RequestTimeout bounds one request including the upload
	RequestTimeout = 60 * time.Second
	// MaxRetries is the number of attempts for idempotent requests
	MaxRetries = 3
	// RetryDelay is the pause between attempts
	RetryDelay = 500 * time.Millisecond

	maxResponseBytes = 8 << 20
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Response   v1.ErrorResponse
}

func (e *APIError) Error() string {
	msg := e.Response.Message
	if msg == "" {
		msg = e.Response.Error
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Response.CorrelationID != "" {
		return fmt.Sprintf("server returned %d: %s (correlation id %s)", e.StatusCode, msg, e.Response.CorrelationID)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, msg)
}

// ErrorCategory classifies client and server failures
func (e *APIError) ErrorCategory() errors.ErrorCategory {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return errors.CategoryValidation
	}
	return errors.CategoryHTTP
}

// Client talks to the cropdoctor JSON API
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
	retryDelay time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRetryDelay overrides RetryDelay
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New returns a client for the server at baseURL, e.g. http://localhost:8080
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid server URL %q", baseURL).
			Component("client").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: RequestTimeout},
		userAgent:  "cropdoctor-cli",
		retryDelay: RetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// Predict uploads an image for crop and returns the diagnosis.
func (c *Client) Predict(ctx context.Context, crop, filename string, image io.Reader) (*diagnosis.Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(v1.ImageField, filepath.Base(filename))
	if err != nil {
		return nil, errors.New(err).Component("client").Category(errors.CategoryFileIO).Build()
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, errors.New(err).
			Component("client").
			Category(errors.CategoryFileIO).
			FileContext(filename, 0).
			Build()
	}
	if err := w.Close(); err != nil {
		return nil, errors.New(err).Component("client").Category(errors.CategoryFileIO).Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/ml/"+url.PathEscape(crop)), &body)
	if err != nil {
		return nil, errors.New(err).Component("client").Category(errors.CategoryHTTP).Build()
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result diagnosis.Result
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Models returns GET /api/models
func (c *Client) Models(ctx context.Context) (*v1.ModelsResponse, error) {
	var resp v1.ModelsResponse
	if err := c.get(ctx, "/api/models", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns GET /api/health
func (c *Client) Health(ctx context.Context) (*v1.HealthResponse, error) {
	var resp v1.HealthResponse
	if err := c.get(ctx, "/api/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// get retries transport failures and gateway errors
func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := range MaxRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), http.NoBody)
		if err != nil {
			return errors.New(err).Component("client").Category(errors.CategoryHTTP).Build()
		}

		lastErr = c.do(req, out)
		if lastErr == nil || !retryable(lastErr) || attempt == MaxRetries-1 {
			return lastErr
		}

		GetLogger().Debug("retrying request",
			logger.String("path", path),
			logger.Int("attempt", attempt+1),
			logger.Error(lastErr))

		select {
		case <-ctx.Done():
			return errors.New(ctx.Err()).Component("client").Category(errors.CategoryNetwork).Build()
		case <-time.After(c.retryDelay):
		}
	}
	return lastErr
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return errors.IsCategory(err, errors.CategoryNetwork)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryNetwork).
			Context("url", req.URL.Redacted()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryNetwork).
			Timing("read_response", time.Since(start)).
			Build()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// non-JSON error bodies leave Response empty
		_ = json.Unmarshal(data, &apiErr.Response)
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(fmt.Errorf("decode response: %w", err)).
			Component("client").
			Category(errors.CategoryHTTP).
			Context("status", resp.StatusCode).
			Build()
	}
	return nil
}
