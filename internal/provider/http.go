package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	ErrDiagnosticsUnavailable = errors.New("diagnostics service unavailable")
	ErrInvalidResponse        = errors.New("invalid response from diagnostics service")
)

// Config holds the configuration for the diagnostics HTTP client
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:7070",
		Timeout:    10 * time.Second,
		RetryCount: 2,
	}
}

// Client talks to the validation orchestrator over HTTP. It implements both
// MetricsProvider and RecoveryService against the same service.
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates a new diagnostics client
func NewClient(config Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

// Validate calls POST /v1/units/{unit}/validate and returns the structural
// health score plus detected issues.
func (c *Client) Validate(ctx context.Context, unitID string, opts ValidateOptions) (*Diagnostics, error) {
	var resp Diagnostics
	path := fmt.Sprintf("/v1/units/%s/validate", url.PathEscape(unitID))
	if err := c.doRequestWithRetry(ctx, http.MethodPost, path, opts, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecuteRecovery calls POST /v1/units/{unit}/recover with the given strategy.
func (c *Client) ExecuteRecovery(ctx context.Context, unitID, strategy string, opts RecoveryOptions) (*RecoveryResult, error) {
	req := struct {
		Strategy string `json:"strategy"`
		RecoveryOptions
		TimeoutMS int64 `json:"timeout_ms"`
	}{
		Strategy:        strategy,
		RecoveryOptions: opts,
		TimeoutMS:       opts.Timeout.Milliseconds(),
	}

	var resp RecoveryResult
	path := fmt.Sprintf("/v1/units/%s/recover", url.PathEscape(unitID))
	if err := c.doRequestWithRetry(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// maxBackoff is the maximum backoff duration for retries
const maxBackoff = 10 * time.Second

// calculateBackoff returns 1s, 2s, 4s, ... capped at maxBackoff.
func calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	seconds := 1
	for i := 1; i < attempt && i < 5; i++ {
		seconds *= 2
	}
	return time.Duration(seconds) * time.Second
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.doRequest(ctx, method, path, body, result)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: %v", ErrDiagnosticsUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("diagnostics returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}

	return nil
}
