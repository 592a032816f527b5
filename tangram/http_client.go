package tangram

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for frame fetches.
	DefaultFetchTimeout = 2 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 100 * time.Millisecond

	// maxResponseBytes limits the response body to 4 MB. A frame carries at
	// most a handful of observations; anything larger is a misconfigured URL.
	maxResponseBytes = 4 << 20
)

// FetchOption configures FetchFrameFromAPI behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// FetchFrameFromAPI fetches one observation frame from the given URL and
// returns the decoded Frame. It retries transient failures with exponential
// backoff.
//
// The apiURL should be a full URL, e.g. "http://tracker.local/api/frame".
func FetchFrameFromAPI(apiURL string, opts ...FetchOption) (*Frame, error) {
	return FetchFrameFromAPIWithContext(context.Background(), apiURL, opts...)
}

// FetchFrameFromAPIWithContext is like FetchFrameFromAPI but accepts a
// context for cancellation.
func FetchFrameFromAPIWithContext(ctx context.Context, apiURL string, opts ...FetchOption) (*Frame, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch frame: API URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch frame: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, apiURL)
		if err != nil {
			lastErr = err
			continue
		}

		frame, err := DecodeFrame(body)
		if err != nil {
			// Decode errors are not transient; do not retry.
			return nil, fmt.Errorf("fetch frame: %w", err)
		}
		return frame, nil
	}

	return nil, fmt.Errorf("fetch frame: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}

// PollFrames fetches frames from the configured source URL at the configured
// interval and hands each one to the handler. Fetch errors are logged and
// the loop continues; the function returns when the context is canceled.
func PollFrames(ctx context.Context, cfg SourceConfig, handler func(*Frame), opts ...FetchOption) error {
	if cfg.URL == "" {
		return fmt.Errorf("poll frames: source URL is empty")
	}
	if handler == nil {
		return fmt.Errorf("poll frames: handler is nil")
	}

	if cfg.Timeout() > 0 {
		opts = append([]FetchOption{WithTimeout(cfg.Timeout())}, opts...)
	}

	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame, err := FetchFrameFromAPIWithContext(ctx, cfg.URL, opts...)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("Error fetching frame from %s: %v", cfg.URL, err)
				continue
			}
			handler(frame)
		}
	}
}
