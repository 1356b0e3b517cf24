package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/afip-tools/registry-client/internal/testutil"
)

func TestNew_Validation(t *testing.T) {
	valid := func() Config {
		return DefaultConfig("http://localhost:8080", "user", "secret")
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base URL", func(c *Config) { c.BaseURL = "" }},
		{"missing username", func(c *Config) { c.Username = "" }},
		{"missing password", func(c *Config) { c.Password = "" }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative chunk size", func(c *Config) { c.ChunkSize = -1 }},
		{"zero max calls", func(c *Config) { c.MaxCalls = 0 }},
		{"zero max retries", func(c *Config) { c.MaxRetries = 0 }},
		{"negative pause", func(c *Config) { c.PauseDuration = -time.Second }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if err == nil {
				t.Fatal("New should reject invalid configuration")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	cfg := Config{
		BaseURL:       "http://localhost:8080/",
		Username:      "user",
		Password:      "secret",
		ChunkSize:     10,
		MaxCalls:      5,
		MaxRetries:    2,
		PauseDuration: time.Second,
		RetryDelay:    time.Second,
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	services := c.ServicesAvailable()
	if len(services) != 2 || services[0] != "inscription" || services[1] != "padron" {
		t.Errorf("default services = %v, want [inscription padron]", services)
	}
	if c.config.BaseURL != "http://localhost:8080" {
		t.Errorf("trailing slash not trimmed: %q", c.config.BaseURL)
	}
	if c.config.IdentifierKey != "nro_nit" {
		t.Errorf("default identifier key = %q, want nro_nit", c.config.IdentifierKey)
	}
	if len(c.config.ErrorKeys) == 0 {
		t.Error("default error keys not applied")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("http://localhost", "u", "p")
	if cfg.ChunkSize <= 0 || cfg.MaxCalls <= 0 || cfg.MaxRetries <= 0 {
		t.Error("DefaultConfig must produce positive tuning parameters")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestFetchDataService_InvalidService(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	c := newTestClient(t, mock.URL())

	_, _, err := c.FetchDataService(context.Background(), "nosuch", []string{"30111111111"})

	var invalid *InvalidServiceError
	if !errors.As(err, &invalid) {
		t.Fatalf("FetchDataService = %v, want InvalidServiceError", err)
	}
	if invalid.Service != "nosuch" {
		t.Errorf("Service = %q, want nosuch", invalid.Service)
	}

	// Zero network calls, token endpoint included.
	if mock.GetRequestCount() != 0 || mock.GetTokenRequests() != 0 {
		t.Errorf("requests = %d service / %d token, want 0 / 0",
			mock.GetRequestCount(), mock.GetTokenRequests())
	}
}

func TestFetchDataService_WithoutServiceValidation(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetResponse("/custom", testutil.NewDataResponse(
		map[string]any{"nro_nit": "30111111111", "name": "A"},
	))

	c := newTestClient(t, mock.URL())

	result, errRecords, err := c.FetchDataService(context.Background(), "custom",
		[]string{"30111111111"}, WithoutServiceValidation())
	if err != nil {
		t.Fatalf("FetchDataService returned error: %v", err)
	}
	if len(errRecords) != 0 {
		t.Errorf("unexpected error records: %v", errRecords)
	}
	if _, ok := result["30111111111"]; !ok {
		t.Error("expected record for 30111111111")
	}
}

func TestFetchDataService_EmptyInput(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	c := newTestClient(t, mock.URL())

	result, errRecords, err := c.FetchDataService(context.Background(), "inscription", nil)
	if err != nil {
		t.Fatalf("FetchDataService returned error: %v", err)
	}
	if len(result) != 0 || len(errRecords) != 0 {
		t.Errorf("empty input should yield empty accumulators, got %d/%d", len(result), len(errRecords))
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("service requests = %d, want 0 for empty input", mock.GetRequestCount())
	}
}

func TestFetchDataService_ChunkFailureContinues(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	// First chunk fails every attempt; second chunk succeeds. The run
	// must continue and still deliver the second chunk's data.
	mock.QueueResponses("/inscription",
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewDataResponse(map[string]any{"nro_nit": "30333333333", "name": "B"}),
	)

	c := newTestClient(t, mock.URL())

	nits := []string{"30111111111", "30222222222", "30333333333"}
	result, errRecords, err := c.FetchDataService(context.Background(), "inscription", nits)
	if err != nil {
		t.Fatalf("FetchDataService returned error: %v", err)
	}

	if _, ok := result["30333333333"]; !ok {
		t.Error("second chunk's record missing from result")
	}
	if len(errRecords) != 1 {
		t.Fatalf("got %d error records, want 1 for the failed chunk", len(errRecords))
	}
	if errRecords[0].Identifier != "30111111111,30222222222" {
		t.Errorf("chunk error identifier = %q, want the chunk's identifiers", errRecords[0].Identifier)
	}
	if !strings.Contains(errRecords[0].Message, "unavailable") {
		t.Errorf("chunk error message = %q, want unavailability reason", errRecords[0].Message)
	}
}

func TestFetchDataService_DuplicateAcrossChunks(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.QueueResponses("/inscription",
		testutil.NewDataResponse(
			map[string]any{"nro_nit": "30111111111", "name": "A"},
			map[string]any{"nro_nit": "30222222222", "name": "X"},
		),
		testutil.NewDataResponse(
			map[string]any{"nro_nit": "30111111111", "name": "Z"},
		),
	)

	c := newTestClient(t, mock.URL())

	nits := []string{"30111111111", "30222222222", "30111111111"}
	result, errRecords, err := c.FetchDataService(context.Background(), "inscription", nits)
	if err != nil {
		t.Fatalf("FetchDataService returned error: %v", err)
	}

	// Earlier entry wins; the repeat is surfaced as an error record.
	if got := result["30111111111"]["name"]; got != "A" {
		t.Errorf("duplicate overwrote earlier entry: name = %v, want A", got)
	}
	if len(errRecords) != 1 {
		t.Fatalf("got %d error records, want 1", len(errRecords))
	}
	if errRecords[0].Message != "duplicate identifier" {
		t.Errorf("message = %q, want %q", errRecords[0].Message, "duplicate identifier")
	}
	if errRecords[0].Identifier != "30111111111" {
		t.Errorf("identifier = %q, want 30111111111", errRecords[0].Identifier)
	}
}

func TestFetchDataService_CancellationIsFatal(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	// The first chunk's call is slow; cancelling mid-run must stop the
	// pipeline at the next attempt boundary instead of burning retries
	// or starting further chunks.
	mock.SetResponse("/inscription", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data": [{"nro_nit": "30111111111", "name": "A"}]}`,
		Delay:      300 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	c := newTestClient(t, mock.URL(), func(cfg *Config) { cfg.ChunkSize = 1 })

	_, _, err := c.FetchDataService(ctx, "inscription", []string{"30111111111", "30222222222"})
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("FetchDataService = %v, want ErrContextCancelled", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("service requests = %d, want 1 (no further attempts after cancel)", mock.GetRequestCount())
	}
}

func TestFetchDataService_FreshRunResetsCallCount(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetResponse("/inscription", testutil.NewDataResponse(
		map[string]any{"nro_nit": "30111111111", "name": "A"},
	))

	pause := 300 * time.Millisecond
	c := newTestClient(t, mock.URL(), func(cfg *Config) {
		cfg.ChunkSize = 1
		cfg.MaxCalls = 2
		cfg.PauseDuration = pause
	})

	// Run 1 uses up the full call allowance.
	_, _, err := c.FetchDataService(context.Background(), "inscription",
		[]string{"30111111111", "30111111111"})
	if err != nil {
		t.Fatalf("run 1 returned error: %v", err)
	}

	// Run 2 starts with a fresh allowance; its first call must not pay
	// the pause left over from run 1.
	start := time.Now()
	_, _, err = c.FetchDataService(context.Background(), "inscription",
		[]string{"30111111111"})
	if err != nil {
		t.Fatalf("run 2 returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= pause {
		t.Errorf("run 2 took %v, paused before its first call", elapsed)
	}
	if c.pacer.Calls() != 1 {
		t.Errorf("consecutive calls after run 2 = %d, want 1", c.pacer.Calls())
	}
}

func TestFetchDataService_AuthFailureFatal(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetHandler("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	c := newTestClient(t, mock.URL())

	_, _, err := c.FetchDataService(context.Background(), "inscription", []string{"30111111111"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("FetchDataService = %v, want ErrAuthFailed", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("service requests = %d, want 0 after failed acquisition", mock.GetRequestCount())
	}
}

func TestCheckHealth(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetResponse("/inscription/health", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"status": "ok"}`,
	})

	c := newTestClient(t, mock.URL())

	status, body, err := c.CheckHealth(context.Background(), "inscription")
	if err != nil {
		t.Fatalf("CheckHealth returned error: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if !strings.Contains(body, "ok") {
		t.Errorf("body = %q, want health payload", body)
	}
}

func TestCheckHealth_InvalidService(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	c := newTestClient(t, mock.URL())

	_, _, err := c.CheckHealth(context.Background(), "nosuch")
	var invalid *InvalidServiceError
	if !errors.As(err, &invalid) {
		t.Errorf("CheckHealth = %v, want InvalidServiceError", err)
	}
}

func TestServicesAvailable_ReturnsCopy(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	c := newTestClient(t, mock.URL())

	services := c.ServicesAvailable()
	services[0] = "mutated"

	if c.ServicesAvailable()[0] == "mutated" {
		t.Error("ServicesAvailable must return a copy")
	}
}
