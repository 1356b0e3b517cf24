package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/afip-tools/registry-client/pkg/normalize"
)

// Prometheus metrics for retry operations.
var (
	afipRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afip_retries_total",
		Help: "Total number of retry attempts by service",
	}, []string{"service"})

	afipRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "afip_retry_backoff_seconds",
		Help:    "Backoff duration between retries by service",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"service"})

	afipRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afip_retry_exhausted_total",
		Help: "Total number of chunks that exhausted all retry attempts",
	}, []string{"service"})
)

// requestWithRetry executes a single chunk call with bounded exponential
// backoff. The delay before attempt n+1 is RetryDelay * 2^(n-1). The 401
// refresh-and-replay lives inside queryService and does not consume an
// attempt. Cancellation is honored at the top of each attempt, before the
// pacing gate; backoff waits are plain blocking sleeps.
func (c *Client) requestWithRetry(ctx context.Context, logger zerolog.Logger, serviceName string, nits []string) ([]normalize.Record, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled before attempt")
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		records, err := c.queryService(ctx, logger, serviceName, nits)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return records, nil
		}

		lastErr = err
		class := classify(err)
		afipErrorsTotal.WithLabelValues(string(class)).Inc()

		if !shouldRetry(class) {
			return nil, err
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("error_class", string(class)).
			Msg("Attempt failed: empty or invalid response")

		if attempt < c.config.MaxRetries {
			backoff := c.config.RetryDelay * (1 << (attempt - 1))

			afipRetriesTotal.WithLabelValues(serviceName).Inc()
			afipRetryBackoffSeconds.WithLabelValues(serviceName).Observe(backoff.Seconds())

			logger.Info().
				Dur("backoff", backoff).
				Int("attempt", attempt).
				Msg("Retrying after backoff")

			time.Sleep(backoff)
		}
	}

	afipRetryExhaustedTotal.WithLabelValues(serviceName).Inc()
	logger.Error().
		Int("max_retries", c.config.MaxRetries).
		Msg("All retry attempts failed")

	return nil, &ServiceUnavailableError{
		Service:  serviceName,
		Attempts: c.config.MaxRetries,
		Err:      lastErr,
	}
}
