package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tracehub/internal/config"
	"tracehub/internal/permanent"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// SourceSystem is sent in X-Source-System on every broker request.
const SourceSystem = "TRACEHUB_SUPERVISION"

// Health is the outcome of one broker health probe.
type Health struct {
	Accessible bool      `json:"accessible"`
	Status     string    `json:"status,omitempty"`
	Version    string    `json:"version,omitempty"`
	LatencyMs  int64     `json:"latencyMs"`
	Attempts   int       `json:"attempts"`
	CheckedAt  time.Time `json:"checkedAt"`
	Error      string    `json:"error,omitempty"`
}

// Client talks to the integration broker over HTTP.
// Params: base URL, health path, HTTP client and retry policy.
// Returns: broker client.
type Client struct {
	baseURL     string
	healthPath  string
	http        *http.Client
	maxAttempts uint
	newBackOff  func() backoff.BackOff
	now         func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithBackOff replaces the retry policy factory.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = factory }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// NewClient builds a broker client.
// Params: broker config and options.
// Returns: client.
func NewClient(cfg config.BrokerConfig, opts ...Option) *Client {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	client := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		healthPath:  "/" + strings.TrimLeft(cfg.HealthPath, "/"),
		http:        &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		maxAttempts: uint(attempts),
		newBackOff: func() backoff.BackOff {
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = time.Second
			policy.MaxInterval = 5 * time.Second
			return policy
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Health probes the broker health endpoint with retries.
// Params: context bounding all attempts.
// Returns: probe outcome; error is non-nil when the broker stayed unreachable.
func (c *Client) Health(ctx context.Context) (Health, error) {
	started := c.now()
	attempts := 0
	body, err := backoff.Retry(ctx, func() (healthBody, error) {
		attempts++
		return c.fetchHealth(ctx)
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithMaxElapsedTime(0),
	)

	health := Health{
		LatencyMs: c.now().Sub(started).Milliseconds(),
		Attempts:  attempts,
		CheckedAt: started,
	}
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("broker health: %w", err)
	}
	health.Accessible = true
	health.Status = body.Status
	health.Version = body.Version
	return health, nil
}

type healthBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// fetchHealth performs one health request.
// Params: context.
// Returns: decoded body; 4xx other than 408/429 stop retries.
func (c *Client) fetchHealth(ctx context.Context) (healthBody, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return healthBody{}, backoff.Permanent(err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("X-Source-System", SourceSystem)
	request.Header.Set("X-Correlation-ID", uuid.NewString())

	response, err := c.http.Do(request)
	if err != nil {
		return healthBody{}, err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	if err != nil {
		return healthBody{}, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		statusErr := permanent.ForStatus(response.StatusCode, fmt.Errorf("status=%d", response.StatusCode))
		if permanent.Is(statusErr) {
			return healthBody{}, backoff.Permanent(statusErr)
		}
		return healthBody{}, statusErr
	}

	var body healthBody
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return healthBody{}, backoff.Permanent(fmt.Errorf("decode health body: %w", err))
		}
	}
	if body.Status == "" {
		body.Status = "UP"
	}
	return body, nil
}
