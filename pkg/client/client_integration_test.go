package client

import (
	"context"
	"reflect"
	"testing"

	"github.com/afip-tools/registry-client/internal/testutil"
	"github.com/afip-tools/registry-client/pkg/normalize"
)

// TestFetchDataService_EndToEnd drives the full pipeline against the mock
// registry: three identifiers in two chunks, one embedded record error, one
// null field to strip.
func TestFetchDataService_EndToEnd(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.QueueResponses("/inscription",
		testutil.NewDataResponse(
			map[string]any{"nro_nit": "30111111111", "name": "A"},
			map[string]any{"nro_nit": "30222222222", "error": "not found"},
		),
		testutil.NewDataResponse(
			map[string]any{"nro_nit": "30333333333", "name": "B", "extra": nil},
		),
	)

	c := newTestClient(t, mock.URL())

	nits := []string{"30111111111", "30222222222", "30333333333"}
	result, errRecords, err := c.FetchDataService(context.Background(), "inscription", nits)
	if err != nil {
		t.Fatalf("FetchDataService returned error: %v", err)
	}

	expected := normalize.Result{
		"30111111111": {"name": "A"},
		"30333333333": {"name": "B"},
	}
	if !reflect.DeepEqual(result, expected) {
		t.Errorf("result = %#v, want %#v", result, expected)
	}

	if len(errRecords) != 1 {
		t.Fatalf("got %d error records, want 1", len(errRecords))
	}
	if errRecords[0].Identifier != "30222222222" {
		t.Errorf("error identifier = %q, want 30222222222", errRecords[0].Identifier)
	}
	if errRecords[0].Message != "not found" {
		t.Errorf("error message = %q, want %q", errRecords[0].Message, "not found")
	}

	// Two chunks, one call each; one token acquisition for the run.
	if mock.GetRequestCount() != 2 {
		t.Errorf("service requests = %d, want 2", mock.GetRequestCount())
	}
	if mock.GetTokenRequests() != 1 {
		t.Errorf("token requests = %d, want 1", mock.GetTokenRequests())
	}
}

// TestFetchDataService_TokenReusedAcrossRuns verifies the credential is
// acquired lazily once and reused until it expires.
func TestFetchDataService_TokenReusedAcrossRuns(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetResponse("/padron", testutil.NewDataResponse(
		map[string]any{"nro_nit": "30111111111", "name": "A"},
	))

	c := newTestClient(t, mock.URL())

	for i := 0; i < 3; i++ {
		_, _, err := c.FetchDataService(context.Background(), "padron", []string{"30111111111"})
		if err != nil {
			t.Fatalf("run %d returned error: %v", i+1, err)
		}
	}

	if mock.GetTokenRequests() != 1 {
		t.Errorf("token requests = %d, want 1 across runs", mock.GetTokenRequests())
	}
}

// TestFetchDataService_PacingAcrossChunks verifies every chunk call passes
// the pacing gate, retries included.
func TestFetchDataService_PacingAcrossChunks(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.QueueResponses("/inscription",
		testutil.NewDataResponse(map[string]any{"nro_nit": "1"}),
		testutil.NewServerErrorResponse(),
		testutil.NewDataResponse(map[string]any{"nro_nit": "2"}),
	)

	c := newTestClient(t, mock.URL(), func(cfg *Config) { cfg.ChunkSize = 1 })

	result, errRecords, err := c.FetchDataService(context.Background(), "inscription", []string{"1", "2"})
	if err != nil {
		t.Fatalf("FetchDataService returned error: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("result has %d entries, want 2", len(result))
	}
	if len(errRecords) != 0 {
		t.Errorf("unexpected error records: %v", errRecords)
	}

	// Chunk 1: one call. Chunk 2: one failed call plus one retry. Each
	// passed the gate.
	if c.pacer.Calls() != 3 {
		t.Errorf("pacing gate invocations = %d, want 3", c.pacer.Calls())
	}
}
