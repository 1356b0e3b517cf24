// Package input reads identifier lists from CSV files.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrColumnMissing is returned when the CSV header lacks the identifier column.
var ErrColumnMissing = errors.New("identifier column not found in header")

// DefaultColumn is the header name of the identifier column.
const DefaultColumn = "nro_nit"

// ReadNITs reads the identifier column from the CSV file at path. Values
// are trimmed, blanks dropped and duplicates removed while preserving the
// order of first appearance.
func ReadNITs(path, column string) ([]string, error) {
	if column == "" {
		column = DefaultColumn
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	return readColumn(f, column)
}

func readColumn(r io.Reader, column string) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := -1
	for i, name := range header {
		if strings.TrimSpace(name) == column {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("%w: %q", ErrColumnMissing, column)
	}

	var nits []string
	seen := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx >= len(record) {
			continue
		}
		value := strings.TrimSpace(record[idx])
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		nits = append(nits, value)
	}

	return nits, nil
}
