// Package report writes timestamped JSON report files summarizing an
// orchestration run: the consulted total, the per-identifier payload and
// the query date.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/rs/zerolog/log"
)

// Save writes a report titled title into dir and returns the path of the
// written file. data is the mapping or list to embed; totalChecked is the
// number of identifiers consulted in the run.
func Save(dir string, totalChecked int, title string, data any) (string, error) {
	now := time.Now()

	payload := map[string]any{
		"total_persons_checked": totalChecked,
		title: map[string]any{
			"total":     count(data),
			"nits_list": data,
		},
		"query_date": now.Format("02/01/2006 15:04:05"),
	}

	encoded, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	filename := fmt.Sprintf("persons_total_report_%s_%s.json",
		title, now.Format("02-01-2006_15-04hs"))
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	log.Info().Str("file", path).Str("title", title).Msg("Final report saved")

	return path, nil
}

// count returns the number of entries in a mapping or list payload.
func count(data any) int {
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return v.Len()
	default:
		return 0
	}
}
