// Package delivery sends transformed payloads to the platform and
// classifies the outcome.
package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"amese/labsync/internal/transform"
	"amese/labsync/pkg/logger"
)

// Options configures the delivery client.
type Options struct {
	BaseURL          string
	RequestsEndpoint string // default /requests
	Token            string
	Timeout          time.Duration
	MaxRetries       int
	Backoff          time.Duration
	VerifyTLS        bool
	DryRun           bool
}

// Client delivers payloads. One instance lives for the whole process so the
// connection pool is shared across cycles (and with the catalog loader).
type Client struct {
	opts    Options
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  logger.Logger
}

// NewClient builds the HTTP client with the retrying transport and the
// circuit breaker in front of it.
func NewClient(opts Options, log logger.Logger) *Client {
	if opts.RequestsEndpoint == "" {
		opts.RequestsEndpoint = "/requests"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	base := http.DefaultTransport
	if !opts.VerifyTLS {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		base = t
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bemsoft",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		opts: opts,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: newRetryTransport(base, opts.MaxRetries, opts.Backoff),
		},
		breaker: breaker,
		logger:  log,
	}
}

// HTTPClient exposes the pooled client for the catalog loader.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// IdempotencyKey derives the header value the platform deduplicates on.
// Without a stable order id a fresh token is used, matching the external-id
// fallback: the delivery is then not deduplicable across retries.
func IdempotencyKey(orderID int64) string {
	if orderID == 0 {
		return "sol-" + uuid.NewString()
	}
	return fmt.Sprintf("sol-%d", orderID)
}

type httpResult struct {
	status int
	body   string
}

// Deliver sends one payload. Never returns an error: every failure mode is
// folded into the outcome classification.
func (c *Client) Deliver(ctx context.Context, payload *transform.Payload, orderID int64) Outcome {
	if c.opts.DryRun {
		c.logger.Infof(ctx, "[Delivery] dry-run: payload built, not sent")
		return Outcome{Status: StatusSuccess, HTTPStatus: http.StatusOK, Payload: payload}
	}

	if c.opts.Token == "" {
		return Outcome{
			Status:     StatusAuthError,
			HTTPStatus: http.StatusUnauthorized,
			Body:       "bearer token not configured",
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, payload, orderID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Outcome{Status: StatusTransientError, Body: "circuit breaker open"}
		}
		return Outcome{Status: StatusTransientError, Body: err.Error()}
	}

	res := result.(httpResult)
	return classify(res)
}

// post performs the HTTP exchange. Only transport-level failures are
// returned as errors (and therefore count against the breaker); any HTTP
// response, whatever its status, is a result.
func (c *Client) post(ctx context.Context, payload *transform.Payload, orderID int64) (httpResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		// Marshal of a plain struct tree; treat as transport-level.
		return httpResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	url := c.opts.BaseURL + c.opts.RequestsEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return httpResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(orderID))

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return httpResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResult{}, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debugf(ctx, "[Delivery] POST %s -> %d in %v", url, resp.StatusCode, time.Since(start))
	return httpResult{status: resp.StatusCode, body: string(respBody)}, nil
}

func classify(res httpResult) Outcome {
	out := Outcome{HTTPStatus: res.status, Body: res.body}
	switch {
	case res.status >= 200 && res.status < 300:
		out.Status = StatusSuccess
	case res.status == http.StatusConflict:
		out.Status = StatusDuplicate
	case res.status == http.StatusBadRequest:
		out.Status = StatusValidationError
	case res.status == http.StatusUnauthorized:
		out.Status = StatusAuthError
	default:
		out.Status = StatusTransientError
	}
	return out
}
