// Package client provides the core tax-registry client with token
// lifecycle, chunked batch dispatch, retry with exponential backoff, call
// pacing and response normalization.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/afip-tools/registry-client/pkg/batch"
	"github.com/afip-tools/registry-client/pkg/normalize"
	"github.com/afip-tools/registry-client/pkg/pacing"
)

// Prometheus metrics for registry client operations.
var (
	afipRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afip_requests_total",
		Help: "Total registry requests by service and status",
	}, []string{"service", "status"})

	afipRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "afip_request_duration_seconds",
		Help:    "Registry request duration in seconds by service",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"service"})

	afipErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afip_errors_total",
		Help: "Total registry call errors by class",
	}, []string{"class"})
)

// Client is the tax-registry lookup client.
type Client struct {
	httpClient *http.Client
	tokens     *TokenManager
	pacer      *pacing.Pacer
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the registry API, without a trailing slash.
	BaseURL string

	// Credentials for the token endpoint.
	Username string
	Password string

	// ChunkSize is the maximum number of identifiers per request.
	ChunkSize int

	// MaxCalls is the number of consecutive calls allowed before a pause.
	MaxCalls int

	// PauseDuration is the forced pause after MaxCalls consecutive calls.
	PauseDuration time.Duration

	// MaxRetries is the number of attempts per chunk.
	MaxRetries int

	// RetryDelay is the base backoff; the delay before attempt n+1 is
	// RetryDelay * 2^(n-1).
	RetryDelay time.Duration

	// ServicesAvailable is the set of service names that may be queried.
	ServicesAvailable []string

	// IdentifierKey is the response field holding the taxpayer id.
	IdentifierKey string

	// ErrorKeys are the response fields that may carry embedded errors.
	ErrorKeys []string

	// RequestsPerSecond smooths outgoing calls when > 0.
	RequestsPerSecond float64

	// Timeout is the per-call HTTP timeout.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration for the given
// endpoint and credentials.
func DefaultConfig(baseURL, username, password string) Config {
	return Config{
		BaseURL:           baseURL,
		Username:          username,
		Password:          password,
		ChunkSize:         100,
		MaxCalls:          10,
		PauseDuration:     60 * time.Second,
		MaxRetries:        3,
		RetryDelay:        2 * time.Second,
		ServicesAvailable: []string{"inscription", "padron"},
		IdentifierKey:     normalize.DefaultIdentifierKey,
		ErrorKeys:         normalize.DefaultErrorKeys(),
		Timeout:           30 * time.Second,
	}
}

// New creates a new registry client. Configuration errors are fatal and
// surface before any network activity.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: credentials are required", ErrInvalidConfig)
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk_size must be positive (got %d)", ErrInvalidConfig, cfg.ChunkSize)
	}
	if cfg.MaxCalls <= 0 {
		return nil, fmt.Errorf("%w: max_calls must be positive (got %d)", ErrInvalidConfig, cfg.MaxCalls)
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("%w: max_retries must be positive (got %d)", ErrInvalidConfig, cfg.MaxRetries)
	}
	if cfg.PauseDuration < 0 {
		return nil, fmt.Errorf("%w: pause_duration must not be negative", ErrInvalidConfig)
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("%w: retry_delay must not be negative", ErrInvalidConfig)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.ServicesAvailable) == 0 {
		cfg.ServicesAvailable = []string{"inscription", "padron"}
	}
	if cfg.IdentifierKey == "" {
		cfg.IdentifierKey = normalize.DefaultIdentifierKey
	}
	if len(cfg.ErrorKeys) == 0 {
		cfg.ErrorKeys = normalize.DefaultErrorKeys()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "registry-client").Logger()

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
	}

	return &Client{
		httpClient: httpClient,
		tokens:     NewTokenManager(httpClient, cfg.BaseURL, cfg.Username, cfg.Password, logger),
		pacer:      pacing.New(cfg.MaxCalls, cfg.PauseDuration, cfg.RequestsPerSecond, logger),
		config:     cfg,
		logger:     logger,
	}, nil
}

// FetchOption configures a single FetchDataService run.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	validateService bool
}

// WithoutServiceValidation skips the service-name check for callers that
// already validated it.
func WithoutServiceValidation() FetchOption {
	return func(o *fetchOptions) {
		o.validateService = false
	}
}

// FetchDataService fetches and aggregates registry data for the given
// identifiers. Identifiers are split into chunks; each chunk is paced,
// executed with retry and normalized, and its results merged into the
// run-level accumulators. A chunk whose retries exhaust becomes a single
// error record and the run continues; the returned error is reserved for
// fatal conditions (unknown service, credential rejection, cancellation).
func (c *Client) FetchDataService(ctx context.Context, serviceName string, nits []string, opts ...FetchOption) (normalize.Result, []normalize.ErrorRecord, error) {
	options := fetchOptions{validateService: true}
	for _, opt := range opts {
		opt(&options)
	}

	if options.validateService && !c.serviceAvailable(serviceName) {
		c.logger.Error().Str("service", serviceName).Msg("Unknown service")
		return nil, nil, &InvalidServiceError{Service: serviceName}
	}

	runID := uuid.NewString()
	logger := c.logger.With().
		Str("run_id", runID).
		Str("service", serviceName).
		Logger()

	// The consecutive-call count is scoped to a single run; a fresh run
	// starts with the full call allowance.
	c.pacer.Reset()

	chunks, err := batch.Split(nits, c.config.ChunkSize)
	if err != nil {
		return nil, nil, err
	}

	logger.Info().
		Int("identifiers", len(nits)).
		Int("chunks", len(chunks)).
		Msg("Starting registry fetch")

	if c.tokens.Token() == "" {
		if _, err := c.tokens.Acquire(ctx); err != nil {
			return nil, nil, err
		}
	}

	result := make(normalize.Result, len(nits))
	var errRecords []normalize.ErrorRecord

	for i, chunk := range chunks {
		// Cancellation is honored at chunk boundaries only.
		if err := ctx.Err(); err != nil {
			logger.Warn().Int("chunk", i+1).Msg("Run cancelled between chunks")
			return result, errRecords, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		records, err := c.requestWithRetry(ctx, logger, serviceName, chunk)
		if err != nil {
			if errors.Is(err, ErrContextCancelled) || !shouldRetry(classify(err)) {
				return result, errRecords, err
			}

			logger.Error().
				Err(err).
				Int("chunk", i+1).
				Int("chunks", len(chunks)).
				Msg("Failed to retrieve data for chunk")

			errRecords = append(errRecords, normalize.ErrorRecord{
				Identifier: strings.Join(chunk, ","),
				Message:    err.Error(),
				Raw:        normalize.Record{"nro_nit_list": chunk},
			})
			continue
		}

		chunkResult, chunkErrs := normalize.AccumulateErrorsInData(records, c.config.IdentifierKey, c.config.ErrorKeys)
		errRecords = append(errRecords, chunkErrs...)

		for id, rec := range chunkResult {
			if _, dup := result[id]; dup {
				// Keep the earlier entry; a repeat across chunks is
				// surfaced instead of silently overwritten.
				errRecords = append(errRecords, normalize.ErrorRecord{
					Identifier: id,
					Message:    "duplicate identifier",
					Raw:        rec,
				})
				continue
			}
			result[id] = rec
		}
	}

	logger.Info().
		Int("records", len(result)).
		Int("errors", len(errRecords)).
		Msg("Registry fetch complete")

	return result, errRecords, nil
}

// queryService performs one paced call against the service, including the
// in-cycle refresh-and-replay on 401. It returns the decoded records or a
// classified error for the retry executor.
func (c *Client) queryService(ctx context.Context, logger zerolog.Logger, serviceName string, nits []string) ([]normalize.Record, error) {
	c.pacer.BeforeCall(ctx)

	resp, err := c.post(ctx, serviceName, nits)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		logger.Warn().Msg("Received 401 Unauthorized, attempting token refresh")

		if _, err := c.tokens.Refresh(ctx); err != nil {
			return nil, err
		}

		// Replay the same request immediately with the new credential.
		// This does not consume a backoff retry, but it is still a remote
		// call and goes through the pacing gate.
		c.pacer.BeforeCall(ctx)
		resp, err = c.post(ctx, serviceName, nits)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Registry request error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var payload struct {
		Data []normalize.Record `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "decode response body",
			Err:        err,
		}
	}

	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("%w: service %q returned no records", ErrEmptyResponse, serviceName)
	}

	return payload.Data, nil
}

// post sends one batch request to the service endpoint.
func (c *Client) post(ctx context.Context, serviceName string, nits []string) (*http.Response, error) {
	payload, err := json.Marshal(map[string][]string{"persona_ids": nits})
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/"+serviceName, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	afipRequestDuration.WithLabelValues(serviceName).Observe(time.Since(start).Seconds())

	if err != nil {
		afipRequestsTotal.WithLabelValues(serviceName, "network_error").Inc()
		return nil, &APIError{
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}

	afipRequestsTotal.WithLabelValues(serviceName, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	return resp, nil
}

// CheckHealth checks the health endpoint of the given service. It returns
// the HTTP status code and response body.
func (c *Client) CheckHealth(ctx context.Context, serviceName string) (int, string, error) {
	if !c.serviceAvailable(serviceName) {
		return 0, "", &InvalidServiceError{Service: serviceName}
	}

	if c.tokens.Token() == "" {
		if _, err := c.tokens.Acquire(ctx); err != nil {
			return 0, "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/"+serviceName+"/health", nil)
	if err != nil {
		return 0, "", fmt.Errorf("create health request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", &APIError{Class: ErrorClassNetwork, Message: "health check failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read health response: %w", err)
	}

	return resp.StatusCode, string(body), nil
}

// ServicesAvailable returns the configured set of service names.
func (c *Client) ServicesAvailable() []string {
	services := make([]string, len(c.config.ServicesAvailable))
	copy(services, c.config.ServicesAvailable)
	return services
}

func (c *Client) serviceAvailable(serviceName string) bool {
	for _, s := range c.config.ServicesAvailable {
		if s == serviceName {
			return true
		}
	}
	return false
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
	c.tokens.httpClient = httpClient
}
