package durablestream

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option configures a Journal.
type Option func(*config)

type config struct {
	httpClient    *http.Client
	timeout       time.Duration
	retryAttempts int
	retryBackoff  time.Duration
	pageSize      int
	logger        *zap.Logger
}

func defaultConfig() *config {
	return &config{
		httpClient:    http.DefaultClient,
		timeout:       30 * time.Second,
		retryAttempts: 3,
		retryBackoff:  100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry configures retries of failed requests and 5xx responses.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *config) {
		if attempts >= 0 {
			c.retryAttempts = attempts
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithPageSize limits the number of messages requested per read. Zero lets
// the server decide.
func WithPageSize(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.pageSize = n
		}
	}
}

// WithLogger sets the logger. Malformed stream messages and retries are
// logged.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
