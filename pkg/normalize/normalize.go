// Package normalize reshapes raw registry responses into a result mapping
// keyed by identifier, stripping null and empty fields and extracting
// per-record errors embedded in the payload.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is a single per-identifier payload as decoded from the registry's
// JSON response.
type Record map[string]any

// Result maps identifiers to their cleaned records.
type Result map[string]Record

// ErrorRecord captures a per-identifier error extracted from a response,
// or a processing failure such as a missing identifier field.
type ErrorRecord struct {
	Identifier string `json:"identifier"`
	Message    string `json:"message"`
	Raw        Record `json:"raw,omitempty"`
}

// DefaultIdentifierKey is the response field holding the taxpayer id.
const DefaultIdentifierKey = "nro_nit"

// DefaultErrorKeys are the response fields that may carry embedded errors.
// The service-specific keys come from the inscription service; "error" is
// the generic indicator.
func DefaultErrorKeys() []string {
	return []string{"error", "errorMonotributo", "errorConstancia", "errorRegimenGeneral"}
}

// Clean recursively removes keys whose value is null, an empty string or an
// empty list. Elements of lists are cleaned in place but never dropped.
// Clean is idempotent.
func Clean(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(val))
		for key, value := range val {
			if isEmpty(value) {
				continue
			}
			cleaned[key] = Clean(value)
		}
		return cleaned
	case Record:
		return Record(Clean(map[string]any(val)).(map[string]any))
	case []any:
		cleaned := make([]any, len(val))
		for i, item := range val {
			cleaned[i] = Clean(item)
		}
		return cleaned
	default:
		return v
	}
}

// CleanRecord applies Clean to a single record.
func CleanRecord(rec Record) Record {
	return Clean(rec).(Record)
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// ExtractErrors scans a record for the given error keys and collects any
// error messages found. A map-shaped value contributes its "error" field
// (lists flattened); any other value is taken as the error itself. Records
// without an error indicator yield an empty slice.
func ExtractErrors(rec Record, errorKeys []string) []string {
	var errs []string
	for _, key := range errorKeys {
		info, ok := rec[key]
		if !ok {
			continue
		}

		switch val := info.(type) {
		case map[string]any:
			embedded, ok := val["error"]
			if !ok {
				continue
			}
			if list, ok := embedded.([]any); ok {
				for _, item := range list {
					errs = append(errs, stringify(item))
				}
			} else {
				errs = append(errs, stringify(embedded))
			}
		default:
			errs = append(errs, stringify(info))
		}
	}
	return errs
}

// FormatResponse builds a mapping keyed by each record's identifier field.
// The identifier field itself is dropped from the stored record. A record
// lacking a usable identifier is surfaced as an ErrorRecord and excluded
// from the mapping. Within a single response, a repeated identifier keeps
// the last record seen.
func FormatResponse(records []Record, idKey string) (Result, []ErrorRecord) {
	result := make(Result, len(records))
	var errRecords []ErrorRecord

	for _, rec := range records {
		id := Identifier(rec, idKey)
		if id == "" {
			errRecords = append(errRecords, ErrorRecord{
				Message: "missing identifier",
				Raw:     rec,
			})
			continue
		}

		entry := make(Record, len(rec))
		for key, value := range rec {
			if key == idKey {
				continue
			}
			entry[key] = value
		}
		result[id] = entry
	}

	return result, errRecords
}

// AccumulateErrorsInData is the per-chunk composition: records carrying an
// embedded error are converted to ErrorRecords and excluded, the remainder
// are cleaned and reindexed by identifier.
func AccumulateErrorsInData(records []Record, idKey string, errorKeys []string) (Result, []ErrorRecord) {
	var errRecords []ErrorRecord
	clean := make([]Record, 0, len(records))

	for _, rec := range records {
		errs := ExtractErrors(rec, errorKeys)
		if len(errs) > 0 {
			errRecords = append(errRecords, ErrorRecord{
				Identifier: Identifier(rec, idKey),
				Message:    strings.Join(errs, "; "),
				Raw:        rec,
			})
			continue
		}
		clean = append(clean, CleanRecord(rec))
	}

	result, formatErrs := FormatResponse(clean, idKey)
	errRecords = append(errRecords, formatErrs...)

	return result, errRecords
}

// Identifier extracts the identifier field from a record as a string.
// Numeric identifiers are rendered without an exponent. Returns "" when the
// field is absent or unusable.
func Identifier(rec Record, idKey string) string {
	switch val := rec[idKey].(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
