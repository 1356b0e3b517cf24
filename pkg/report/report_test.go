package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/afip-tools/registry-client/pkg/normalize"
)

func TestSave(t *testing.T) {
	dir := t.TempDir()

	data := normalize.Result{
		"30111111111": {"name": "A"},
		"30333333333": {"name": "B"},
	}

	path, err := Save(dir, 5, "success", data)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	name := filepath.Base(path)
	if !strings.HasPrefix(name, "persons_total_report_success_") || !strings.HasSuffix(name, ".json") {
		t.Errorf("filename = %q, want persons_total_report_success_<ts>.json", name)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}

	if got := payload["total_persons_checked"]; got != 5.0 {
		t.Errorf("total_persons_checked = %v, want 5", got)
	}
	if _, ok := payload["query_date"].(string); !ok {
		t.Error("query_date missing")
	}

	section, ok := payload["success"].(map[string]any)
	if !ok {
		t.Fatalf("success section missing: %v", payload)
	}
	if got := section["total"]; got != 2.0 {
		t.Errorf("section total = %v, want 2", got)
	}
	list, ok := section["nits_list"].(map[string]any)
	if !ok || len(list) != 2 {
		t.Errorf("nits_list = %v, want 2 entries", section["nits_list"])
	}
}

func TestSave_ListPayload(t *testing.T) {
	dir := t.TempDir()

	errors := []normalize.ErrorRecord{
		{Identifier: "30222222222", Message: "not found"},
	}

	path, err := Save(dir, 3, "errors", errors)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}

	section := payload["errors"].(map[string]any)
	if got := section["total"]; got != 1.0 {
		t.Errorf("section total = %v, want 1", got)
	}
}

func TestSave_BadDirectory(t *testing.T) {
	_, err := Save("/nonexistent/path/for/sure", 1, "errors", map[string]any{})
	if err == nil {
		t.Error("Save into a missing directory should fail")
	}
}
