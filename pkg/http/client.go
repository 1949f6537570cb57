// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"signal_trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer is an interface for signing requests
type Signer interface {
	SignRequest(req *http.Request) error
}

// BearerSigner authenticates requests with a static API key
type BearerSigner struct {
	Token string
}

func (s BearerSigner) SignRequest(req *http.Request) error {
	if s.Token == "" {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	return nil
}

// Options tunes the resilience policies and telemetry labels
type Options struct {
	// Name labels spans and metrics; defaults to the base URL host
	Name       string
	// RedactPath keeps request paths out of spans and metrics, for APIs
	// that carry credentials in the path
	RedactPath bool

	MaxRetries       int
	RetryBackoffMin  time.Duration
	RetryBackoffMax  time.Duration
	BreakerThreshold uint
	BreakerDelay     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoffMin == 0 {
		o.RetryBackoffMin = 100 * time.Millisecond
	}
	if o.RetryBackoffMax == 0 {
		o.RetryBackoffMax = 2 * time.Second
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerDelay == 0 {
		o.BreakerDelay = 10 * time.Second
	}
	return o
}

// Client is a wrapper around http.Client with resilience
type Client struct {
	client     *http.Client
	baseURL    string
	name       string
	redactPath bool
	signer     Signer
	pipeline   failsafe.Executor[*http.Response]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	return NewClientWithOptions(baseURL, timeout, signer, Options{})
}

// NewClientWithOptions creates a client with explicit retry and breaker tuning.
// A negative MaxRetries disables retries.
func NewClientWithOptions(baseURL string, timeout time.Duration, signer Signer, opts Options) *Client {
	opts = opts.withDefaults()
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			// Retry on network errors or 5xx server errors
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		WithBackoff(opts.RetryBackoffMin, opts.RetryBackoffMax).
		WithMaxRetries(maxRetries).
		ReturnLastFailure().
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(opts.BreakerThreshold, opts.BreakerThreshold*2).
		WithDelay(opts.BreakerDelay).
		Build()

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL:     baseURL,
		name:        clientName(opts.Name, baseURL),
		redactPath:  opts.RedactPath,
		signer:      signer,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post sends a JSON POST request
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

// GetJSON sends a GET request and decodes the response into out
func (c *Client) GetJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// PostJSON sends a POST request and decodes the response into out
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, params map[string]string, payload []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}
	return req, nil
}

func clientName(name, baseURL string) string {
	if name != "" {
		return name
	}
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return "http"
}

func (c *Client) pathLabel(path string) string {
	if c.redactPath {
		return "[redacted]"
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, payload []byte) ([]byte, error) {
	start := time.Now()
	label := c.pathLabel(path)

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s %s", c.name, method, label),
		trace.WithAttributes(
			attribute.String("http.client", c.name),
			attribute.String("http.method", method),
			attribute.String("http.path", label),
		),
	)
	defer span.End()

	// Each attempt gets a fresh request so retried POST bodies are not consumed
	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		req, err := c.newRequest(ctx, method, path, params, payload)
		if err != nil {
			return nil, err
		}
		return c.client.Do(req)
	})

	attrs := metric.WithAttributes(
		attribute.String("client", c.name),
		attribute.String("method", method),
		attribute.String("path", label),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("client", c.name),
			attribute.String("method", method),
			attribute.String("error", "pipeline_failed"),
		))
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("client", c.name),
			attribute.String("method", method),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
