// Package testutil provides testing utilities for the registry client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock registry endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRegistry is a configurable mock tax-registry server for testing. It
// implements the token endpoint and arbitrary service endpoints, with
// per-path queued responses and bearer-token enforcement.
type MockRegistry struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	queues   map[string][]MockResponse

	enforceAuth bool
	validToken  string
	tokenSeq    int

	// Tracking
	RequestCount   int
	TokenRequests  int
	LastAuthHeader string
}

// NewMockRegistry creates a new mock registry server.
func NewMockRegistry() *MockRegistry {
	mock := &MockRegistry{
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		queues:      make(map[string][]MockResponse),
		enforceAuth: true,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.route))

	return mock
}

func (m *MockRegistry) route(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		m.mu.Lock()
		custom, exists := m.handlers["/token"]
		if exists {
			m.TokenRequests++
		}
		m.mu.Unlock()

		if exists {
			custom(w, r)
			return
		}
		m.handleToken(w, r)
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.LastAuthHeader = r.Header.Get("Authorization")

	if m.enforceAuth && r.Header.Get("Authorization") != "Bearer "+m.validToken {
		m.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail": "invalid or expired token"}`)
		return
	}

	// Queued responses take precedence over fixed handlers.
	if queue := m.queues[r.URL.Path]; len(queue) > 0 {
		resp := queue[0]
		m.queues[r.URL.Path] = queue[1:]
		m.mu.Unlock()
		serve(w, resp)
		return
	}

	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}

	// Default: empty data array.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"data": []}`)
}

func (m *MockRegistry) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TokenRequests++
	m.tokenSeq++
	m.validToken = fmt.Sprintf("token-%d", m.tokenSeq)
	token := m.validToken
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"access_token": %q, "token_type": "bearer"}`, token)
}

func serve(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// URL returns the mock server URL.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// Reset clears tracking counters and queued responses.
func (m *MockRegistry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenRequests = 0
	m.LastAuthHeader = ""
	m.queues = make(map[string][]MockResponse)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockRegistry) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockRegistry) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		serve(w, resp)
	})
}

// QueueResponses appends responses to be served once each, in order, for a
// path. Queued responses are consumed before any fixed handler.
func (m *MockRegistry) QueueResponses(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[path] = append(m.queues[path], resps...)
}

// EnforceAuth toggles bearer-token checking for service endpoints.
func (m *MockRegistry) EnforceAuth(enforce bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforceAuth = enforce
}

// ExpireToken invalidates the currently issued token so the next service
// call with it receives a 401. A subsequent token request issues a fresh
// valid token.
func (m *MockRegistry) ExpireToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validToken = "expired"
}

// GetRequestCount returns the number of service requests received.
func (m *MockRegistry) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetTokenRequests returns the number of token requests received.
func (m *MockRegistry) GetTokenRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TokenRequests
}

// NewDataResponse creates a 200 response wrapping the given records in the
// service's data envelope.
func NewDataResponse(records ...map[string]any) MockResponse {
	body, err := json.Marshal(map[string]any{"data": records})
	if err != nil {
		panic(err)
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
	}
}

// NewEmptyDataResponse creates a 200 response with an empty data array.
func NewEmptyDataResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data": []}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "internal server error"}`,
	}
}
