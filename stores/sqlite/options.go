package sqlite

import (
	"time"

	"go.uber.org/zap"
)

// MetricsHook is called after journal operations complete.
type MetricsHook interface {
	OnAppend(duration time.Duration, err error)
	OnLoad(duration time.Duration, count int, err error)
}

// Option configures the Journal.
type Option func(*config)

type config struct {
	path            string
	busyTimeout     time.Duration
	autoMigrate     bool
	streamBatchSize int
	logger          *zap.Logger
	metricsHook     MetricsHook
}

func defaultConfig() *config {
	return &config{
		busyTimeout: 5 * time.Second,
		autoMigrate: true,
		logger:      zap.NewNop(),
	}
}

// WithBusyTimeout sets the SQLite busy timeout.
// Default is 5 seconds.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.busyTimeout = timeout
	}
}

// WithAutoMigrate enables or disables automatic schema migration.
// Default is true.
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) {
		c.autoMigrate = enabled
	}
}

// WithStreamBatchSize makes LoadStream page through entries batchSize rows
// at a time instead of holding one cursor open. 0 disables batching.
func WithStreamBatchSize(batchSize int) Option {
	return func(c *config) {
		c.streamBatchSize = batchSize
	}
}

// WithLogger sets the logger for the journal.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricsHook sets the metrics hook for the journal.
func WithMetricsHook(hook MetricsHook) Option {
	return func(c *config) {
		c.metricsHook = hook
	}
}
