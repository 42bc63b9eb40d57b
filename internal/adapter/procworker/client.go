package procworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/domain"
)

// permanentStatus reports whether an HTTP status must not be retried.
// 4xx means the request itself is wrong; retrying cannot fix it.
func permanentStatus(code int) bool { return code >= 400 && code < 500 }

// Client calls the worker service. It implements domain.BatchProcessor
// with transport-level retries: exponential backoff from 1s, factor 2,
// ±20% jitter, bounded by MaxAttempts. Per-item errors inside a 200
// response are never retried here; the coordinator records them.
type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	MaxAttempts    int
}

// NewClient constructs a worker client with sane defaults.
func NewClient(baseURL string, requestTimeout time.Duration, maxAttempts int) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 120 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		RequestTimeout: requestTimeout,
		MaxAttempts:    maxAttempts,
	}
}

// Health probes the worker readiness endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("op=procworker.Health: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=procworker.Health: %w: %v", domain.ErrWorkerUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=procworker.Health: %w: status %d", domain.ErrWorkerUnavailable, resp.StatusCode)
	}
	return nil
}

// ProcessBatch sends one batch and maps the response onto domain
// results, preserving input order by correlating on item id.
func (c *Client) ProcessBatch(ctx context.Context, items []domain.BatchItem) ([]domain.BatchResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	req := BatchRequest{Items: make([]BatchItem, len(items))}
	for i, it := range items {
		req.Items[i] = BatchItem{ID: it.ID, Text: it.Text, SourceLanguage: it.SourceLanguage}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("op=procworker.ProcessBatch: %w", err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.Multiplier = 2
	expo.RandomizationFactor = 0.2
	expo.MaxElapsedTime = 0 // attempts are the bound, not wall clock
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.MaxAttempts-1)), ctx)

	var resp BatchResponse
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			observability.BatchRetriesTotal.Inc()
		}
		start := time.Now()
		err := c.postBatch(ctx, body, &resp)
		observability.BatchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Warn("worker batch attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("items", len(items)),
				slog.Any("error", err))
		}
		return err
	}
	// backoff.Retry unwraps Permanent errors and returns the inner error.
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("op=procworker.ProcessBatch: %w", err)
	}

	out := make([]domain.BatchResult, len(resp.Results))
	for i, res := range resp.Results {
		out[i] = domain.BatchResult{
			ID:               res.ID,
			DetectedLanguage: res.DetectedLanguage,
			TranslatedText:   res.TranslatedText,
			Vector:           res.Vector,
			Err:              res.Error,
		}
	}
	return out, nil
}

func (c *Client) postBatch(ctx context.Context, body []byte, out *BatchResponse) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.BaseURL+"/process-batch", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err // transport error: retryable
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var envelope ErrorResponse
		_ = json.Unmarshal(payload, &envelope)
		msg := envelope.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		statusErr := fmt.Errorf("worker status %d: %s", resp.StatusCode, msg)
		if permanentStatus(resp.StatusCode) {
			return backoff.Permanent(statusErr)
		}
		return statusErr // 5xx: retryable
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
