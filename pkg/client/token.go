package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for token lifecycle.
var (
	afipTokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afip_token_refreshes_total",
		Help: "Total number of token refresh attempts",
	})
)

// TokenManager owns the bearer credential for a run. The credential lives
// only in memory; validity is inferred reactively from 401 responses, so a
// refresh is always a full re-acquisition.
type TokenManager struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	token      string
	logger     zerolog.Logger
}

// NewTokenManager creates a token manager for the given credentials.
func NewTokenManager(httpClient *http.Client, baseURL, username, password string, logger zerolog.Logger) *TokenManager {
	return &TokenManager{
		httpClient: httpClient,
		baseURL:    baseURL,
		username:   username,
		password:   password,
		logger:     logger,
	}
}

// Token returns the current credential, empty until the first Acquire.
func (m *TokenManager) Token() string {
	return m.token
}

// Acquire obtains a bearer token from the token endpoint and caches it.
// Any failure, transport or rejection, is ErrAuthFailed: there is no retry
// path for bad credentials.
func (m *TokenManager) Acquire(ctx context.Context) (string, error) {
	form := url.Values{
		"username": {m.username},
		"password": {m.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Error().Err(err).Msg("Token request failed")
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		m.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Error acquiring token")
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrAuthFailed, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrAuthFailed, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: token endpoint returned no access_token", ErrAuthFailed)
	}

	m.token = payload.AccessToken
	m.logger.Info().Msg("Token acquired successfully")

	return m.token, nil
}

// Refresh performs a full re-acquisition, replacing the cached credential.
// The pipeline is single-threaded, so refreshes are never concurrent.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	m.logger.Info().Msg("Refreshing authentication token")
	afipTokenRefreshesTotal.Inc()
	return m.Acquire(ctx)
}
